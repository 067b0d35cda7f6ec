package orchestration

import (
	"context"

	"github.com/koscakluka/ema-onsai/core/conversations"
	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/sinks"
)

type AgentOption func(*Agent)

// DialogueClient sends a single turn to the dialogue backend.
// *dialogue.Client is the default implementation.
type DialogueClient interface {
	Send(ctx context.Context, request dialogue.TurnRequest) (*dialogue.TurnResponse, error)
}

func WithDialogueClient(client DialogueClient) AgentOption {
	return func(a *Agent) { a.client = client }
}

// WithConversationState sets the state of the conversation the agent takes
// part in. States implementing conversations.TelephonyStateV0 additionally
// provide the phone number of the call.
func WithConversationState(state conversations.StateV0) AgentOption {
	return func(a *Agent) { a.state = state }
}

// WithEventSink mirrors every emitted event into sink. Repeating this option
// adds more sinks.
func WithEventSink(sink sinks.EventSink) AgentOption {
	return func(a *Agent) {
		if sink != nil {
			a.sinks = append(a.sinks, sink)
		}
	}
}

// WithSegmentation overrides the configured segmentation policy.
func WithSegmentation(policy SegmentationPolicy) AgentOption {
	return func(a *Agent) { a.config.Segmentation = policy }
}

type TurnOptions struct {
	interrupt bool
}

type TurnOption func(*TurnOptions)

// WithInterrupt marks the turn as a barge-in: turns of the agent that are
// still in flight are cancelled before the new turn starts.
func WithInterrupt() TurnOption {
	return func(o *TurnOptions) { o.interrupt = true }
}

// WithInterruptFlag is WithInterrupt for callers that carry the flag as a
// value.
func WithInterruptFlag(interrupt bool) TurnOption {
	return func(o *TurnOptions) { o.interrupt = interrupt }
}
