package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillSinkPublishesWireEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "turn-events")
	require.NoError(t, err)

	sink := NewWatermillSink(pubSub, "turn-events")
	require.NoError(t, sink.PublishEvent(ctx, "abc-123", events.NewPlainMessage("You can park in the Garage for free.")))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "abc-123", msg.Metadata.Get(MetadataConversationID))
		assert.Equal(t, string(events.KindAssistantMessagePlain), msg.Metadata.Get(MetadataKind))

		var wire events.Wire
		require.NoError(t, json.Unmarshal(msg.Payload, &wire))
		assert.Equal(t, "You can park in the Garage for free.", wire.Text)
		assert.True(t, wire.Interruptible)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published event")
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	recorder := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}

	err := Multi{failing, recorder}.PublishEvent(context.Background(), "abc-123", events.NewEndOfTurnSignal())

	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)
	assert.Len(t, recorder.events, 1, "expected later sinks to still receive the event")
}

func TestEnvelopeRoutesByKind(t *testing.T) {
	envelope := newEnvelope("onsai-agent", "abc-123", events.NewTokenFragment("You can "))

	assert.Equal(t, "assistant_message.token.v1", envelope.Meta.Type)
	assert.Equal(t, "abc-123", envelope.Meta.CorrelationID)
	assert.NotEmpty(t, envelope.Meta.ID)
	assert.Equal(t, "You can ", envelope.Data.Text)
}

type recordingSink struct {
	err    error
	events []events.OutboundEvent
}

func (s *recordingSink) PublishEvent(_ context.Context, _ string, event events.OutboundEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}
