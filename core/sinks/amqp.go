package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/rabbitmq/amqp091-go"
)

const eventTypeVersion = "v1"

// Envelope is the AMQP message body.
type Envelope struct {
	Meta Meta        `json:"meta"`
	Data events.Wire `json:"data"`
}

type Meta struct {
	// CorrelationID is the conversation the event belongs to
	CorrelationID string    `json:"correlation_id"`
	ID            string    `json:"id"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the event kind and version, e.g. assistant_message.plain.v1
	Type string `json:"type"`
}

// AMQPSink publishes events to a topic exchange, routed by event kind.
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	producer string
}

func NewAMQPSink(url, exchange, producer string) (*AMQPSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{conn: conn, exchange: exchange, producer: producer}, nil
}

func (s *AMQPSink) PublishEvent(ctx context.Context, conversationID string, event events.OutboundEvent) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	envelope := newEnvelope(s.producer, conversationID, event)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	err = ch.PublishWithContext(ctx, s.exchange, routingKey(event), false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     envelope.Meta.ID,
			CorrelationId: conversationID,
			Timestamp:     envelope.Meta.Time,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event to exchange %s: %w", s.exchange, err)
	}

	logger.DebugContext(ctx, "published event",
		slog.String("exchange", s.exchange),
		slog.String("key", routingKey(event)),
		slog.String("conversation_id", conversationID),
	)
	return nil
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}

func newEnvelope(producer, conversationID string, event events.OutboundEvent) Envelope {
	return Envelope{
		Meta: Meta{
			CorrelationID: conversationID,
			ID:            uuid.NewString(),
			Producer:      producer,
			Time:          time.Now(),
			Type:          routingKey(event),
		},
		Data: events.ToWire(conversationID, event),
	}
}

func routingKey(event events.OutboundEvent) string {
	return string(event.Kind()) + "." + eventTypeVersion
}

var _ EventSink = (*AMQPSink)(nil)
