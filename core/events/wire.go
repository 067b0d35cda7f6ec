package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire is the JSON representation of an outbound event used by transports
// and sinks.
type Wire struct {
	Kind           Kind      `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Interruptible  bool      `json:"interruptible"`
	Text           string    `json:"text,omitempty"`
	Markup         string    `json:"markup,omitempty"`
}

// ToWire converts an outbound event into its wire representation.
func ToWire(conversationID string, event OutboundEvent) Wire {
	wire := Wire{
		Kind:           event.Kind(),
		Timestamp:      event.Timestamp(),
		ConversationID: conversationID,
		Interruptible:  event.IsInterruptible(),
	}

	switch event := event.(type) {
	case PlainMessage:
		wire.Text = event.Text
	case MarkupMessage:
		wire.Markup = event.Markup
		wire.Text = event.Text
	case TokenFragment:
		wire.Text = event.Text
	}

	return wire
}

// FromWire restores an outbound event from its wire representation.
func FromWire(wire Wire) (OutboundEvent, error) {
	base := Base{kind: wire.Kind, timestamp: wire.Timestamp}
	switch wire.Kind {
	case KindAssistantMessagePlain:
		return PlainMessage{Base: base, Text: wire.Text}, nil
	case KindAssistantMessageMarkup:
		return MarkupMessage{Base: base, Markup: wire.Markup, Text: wire.Text}, nil
	case KindAssistantMessageToken:
		return TokenFragment{Base: base, Text: wire.Text}, nil
	case KindEndOfTurn:
		return EndOfTurnSignal{Base: base}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", wire.Kind)
	}
}

// Marshal encodes an outbound event as JSON.
func Marshal(conversationID string, event OutboundEvent) ([]byte, error) {
	return json.Marshal(ToWire(conversationID, event))
}
