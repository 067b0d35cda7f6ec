// Package sinks mirrors the outbound events of a conversation into message
// buses so other services can observe what the agent said.
package sinks

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-onsai/core/events"
)

// EventSink represents a destination for outbound events. Publishing is
// best-effort from the agent's point of view.
type EventSink interface {
	PublishEvent(ctx context.Context, conversationID string, event events.OutboundEvent) error
}

// Multi publishes to every sink and joins their errors.
type Multi []EventSink

func (m Multi) PublishEvent(ctx context.Context, conversationID string, event events.OutboundEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.PublishEvent(ctx, conversationID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
