package orchestration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-onsai/core/conversations"
	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/koscakluka/ema-onsai/core/sinks"
	"github.com/koscakluka/ema-onsai/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Agent answers user utterances of one conversation by asking the dialogue
// backend and re-emitting its reply as events for speech synthesis.
type Agent struct {
	config AgentConfig

	client  DialogueClient
	state   conversations.StateV0
	sinks   sinks.Multi
	adapter *responseAdapter
	goodbye goodbyeDetector

	turns *turns

	activity  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewAgent(config AgentConfig, opts ...AgentOption) (*Agent, error) {
	config, err := config.Clone()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:   config,
		turns:    newTurns(),
		activity: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	if a.client == nil {
		var clientOpts []dialogue.ClientOption
		if a.config.RequestTimeout > 0 {
			clientOpts = append(clientOpts, dialogue.WithTimeout(a.config.RequestTimeout))
		}
		client, err := dialogue.NewClient(a.config.BaseURL, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialogue client: %w", err)
		}
		a.client = client
	}

	segmenter, err := newSegmenter(a.config.Segmentation)
	if err != nil {
		return nil, err
	}
	a.adapter = newResponseAdapter(a.config.SendRawMarkup, segmenter)
	a.goodbye = newGoodbyeDetector(a.config.GoodbyePhrases)

	logger.Info("initialized agent",
		slog.String("base_url", a.config.BaseURL),
		slog.Bool("send_raw_markup", a.config.SendRawMarkup),
		slog.Duration("allowed_idle_time", a.config.AllowedIdleTime),
		slog.String("segmentation", string(a.config.Segmentation)),
	)
	return a, nil
}

// GenerateResponse answers a single user utterance.
//
// The returned sequence is lazy: the backend is asked once iteration starts.
// It yields the reply's content events in order, followed by an
// EndOfTurnSignal when the reply ends the conversation, after which the
// conversation is terminated. If the reply cannot be obtained, the sequence
// yields a single error and no events. Breaking out of the iteration or
// cancelling ctx releases the backend request and skips termination.
//
// The sequence can be iterated only once.
func (a *Agent) GenerateResponse(ctx context.Context, humanInput, conversationID string, opts ...TurnOption) iter.Seq2[events.OutboundEvent, error] {
	options := TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	consumed := atomic.Bool{}
	return func(yield func(events.OutboundEvent, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(nil, ErrTurnConsumed)
			return
		}

		a.runTurn(ctx, humanInput, conversationID, options, yield)
	}
}

func (a *Agent) runTurn(
	ctx context.Context,
	humanInput, conversationID string,
	options TurnOptions,
	yield func(events.OutboundEvent, error) bool,
) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Bool("turn.interrupt", options.interrupt),
	)

	turn, ctx, err := a.turns.start(ctx, options.interrupt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(nil, err)
		return
	}
	// idle time counts from the end of the turn
	defer a.touch()
	defer a.turns.finish(turn)
	a.touch()

	request := dialogue.TurnRequest{
		UserInput:      humanInput,
		PhoneNumber:    a.destinationPhoneNumber(ctx),
		ConversationID: conversationID,
	}
	turn.setStage(TurnStageRequestBuilt)

	turn.setStage(TurnStageAwaitingBackend)
	reply, err := a.client.Send(ctx, request)
	if ctxErr := ctx.Err(); ctxErr != nil {
		err := fmt.Errorf("%w: %w", ErrTurnCancelled, ctxErr)
		span.RecordError(err)
		yield(nil, err)
		return
	}
	if err != nil {
		err = fmt.Errorf("failed to get reply from dialogue backend: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(nil, err)
		return
	}

	streamingCapable := a.usingStreamingSynthesizer()
	endConversation := reply.EndConversation
	if !endConversation && a.goodbye.IsGoodbye(spokenText(reply.BotResponse)) {
		logger.InfoContext(ctx, "goodbye phrase detected in reply, ending conversation", slog.String("conversation_id", conversationID))
		endConversation = true
	}
	span.SetAttributes(
		attribute.Bool("turn.streaming", streamingCapable),
		attribute.Bool("turn.end_conversation", endConversation),
	)

	turn.setStage(TurnStageEmitting)
	emitted := 0
	for event := range a.adapter.Adapt(*reply, streamingCapable) {
		if ctx.Err() != nil {
			span.AddEvent("turn cancelled while emitting", trace.WithAttributes(attribute.Int("turn.events", emitted)))
			return
		}
		emitted++
		if !a.emit(ctx, conversationID, event, yield) {
			span.AddEvent("consumer stopped", trace.WithAttributes(attribute.Int("turn.events", emitted)))
			return
		}
	}
	span.SetAttributes(attribute.Int("turn.events", emitted))

	if !endConversation || ctx.Err() != nil {
		return
	}

	turn.setStage(TurnStageSignalingEndOfTurn)
	a.emit(ctx, conversationID, events.NewEndOfTurnSignal(), yield)
	if ctx.Err() != nil {
		return
	}
	a.terminateConversation(ctx)
}

// InitialMessage emits the configured greeting the same way a reply would be
// emitted. It yields nothing when no initial message is configured.
func (a *Agent) InitialMessage(ctx context.Context, conversationID string) iter.Seq2[events.OutboundEvent, error] {
	return func(yield func(events.OutboundEvent, error) bool) {
		message := a.config.InitialMessage
		if message == nil {
			return
		}

		content, fallback := message.Text, ""
		switch {
		case a.config.SendRawMarkup && message.Markup != "":
			content, fallback = message.Markup, message.Text
		case content == "":
			content = spokenText(message.Markup)
		}

		a.touch()
		for event := range a.adapter.adapt(content, fallback, a.usingStreamingSynthesizer()) {
			if err := ctx.Err(); err != nil {
				yield(nil, fmt.Errorf("%w: %w", ErrTurnCancelled, err))
				return
			}
			if !a.emit(ctx, conversationID, event, yield) {
				return
			}
		}
	}
}

// CancelTurn cancels every turn that is still in flight and reports how many
// were cancelled.
func (a *Agent) CancelTurn() int {
	return a.turns.cancelAll()
}

// TurnStage reports the stage of the most recently started turn.
func (a *Agent) TurnStage() TurnStage {
	return a.turns.latestStage()
}

// Terminate ends the conversation and closes the agent.
func (a *Agent) Terminate(ctx context.Context) error {
	var err error
	if a.state != nil {
		if terminateErr := a.state.TerminateConversation(ctx); terminateErr != nil {
			err = fmt.Errorf("failed to terminate conversation: %w", terminateErr)
		}
	}

	a.Close()
	return err
}

// Close cancels turns in flight and releases the agent's resources without
// ending the conversation. Turns started afterwards fail with ErrAgentClosed.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.turns.close()
		close(a.closed)

		if client, ok := a.client.(interface{ CloseIdleConnections() }); ok {
			client.CloseIdleConnections()
		}
	})
}

// WatchIdle terminates the conversation once no turn was active for the
// configured allowed idle time. It returns when ctx is done, the agent is
// closed or the conversation was terminated for being idle. Without an
// allowed idle time it only waits for ctx or the agent to be done.
func (a *Agent) WatchIdle(ctx context.Context) error {
	allowedIdleTime := a.config.AllowedIdleTime
	if allowedIdleTime <= 0 {
		select {
		case <-ctx.Done():
		case <-a.closed:
		}
		return nil
	}

	timer := time.NewTimer(allowedIdleTime)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.closed:
			return nil
		case <-a.activity:
			timer.Reset(allowedIdleTime)
		case <-timer.C:
			if a.turns.inFlight() > 0 {
				timer.Reset(allowedIdleTime)
				continue
			}

			logger.InfoContext(ctx, "conversation idle, terminating", slog.Duration("allowed_idle_time", allowedIdleTime))
			return a.Terminate(ctx)
		}
	}
}

func (a *Agent) touch() {
	select {
	case a.activity <- struct{}{}:
	default:
	}
}

func (a *Agent) emit(ctx context.Context, conversationID string, event events.OutboundEvent, yield func(events.OutboundEvent, error) bool) bool {
	ok := yield(event, nil)

	if len(a.sinks) > 0 {
		if err := a.sinks.PublishEvent(ctx, conversationID, event); err != nil {
			logger.WarnContext(ctx, "failed to publish event to sinks",
				slog.String("conversation_id", conversationID),
				slog.String("kind", string(event.Kind())),
				slog.String("error", err.Error()),
			)
		}
	}

	return ok
}

func (a *Agent) destinationPhoneNumber(ctx context.Context) *string {
	telephony, ok := a.state.(conversations.TelephonyStateV0)
	if !ok {
		logger.WarnContext(ctx, "conversation state does not support telephony features, sending turn without phone number")
		return nil
	}

	phoneNumber, ok := telephony.DestinationPhoneNumber()
	if !ok || phoneNumber == "" {
		logger.WarnContext(ctx, "call has no destination phone number, sending turn without phone number")
		return nil
	}
	return utils.Ptr(phoneNumber)
}

func (a *Agent) usingStreamingSynthesizer() bool {
	if a.state == nil {
		return false
	}
	return a.state.UsingInputStreamingSynthesizer()
}

func (a *Agent) terminateConversation(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	if a.state == nil {
		logger.WarnContext(ctx, "reply ended the conversation but there is no conversation state to terminate")
		return
	}

	if err := a.state.TerminateConversation(ctx); err != nil {
		err = fmt.Errorf("failed to terminate conversation: %w", err)
		span.RecordError(err)
		level := slog.LevelError
		if errors.Is(err, conversations.ErrConversationEnded) {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "termination after end of turn failed", slog.String("error", err.Error()))
		return
	}
	span.AddEvent("conversation terminated")
}
