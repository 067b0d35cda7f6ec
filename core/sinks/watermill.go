package sinks

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/koscakluka/ema-onsai/core/events"
)

const (
	MetadataConversationID = "conversation_id"
	MetadataKind           = "kind"
)

// WatermillSink publishes events to a watermill Publisher as JSON wire
// events.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(ctx context.Context, conversationID string, event events.OutboundEvent) error {
	payload, err := events.Marshal(conversationID, event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataConversationID, conversationID)
	msg.Metadata.Set(MetadataKind, string(event.Kind()))

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to topic %s: %w", w.topic, err)
	}

	return nil
}

var _ EventSink = (*WatermillSink)(nil)
