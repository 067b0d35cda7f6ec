package orchestration

import (
	"slices"
	"testing"

	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/events"
)

func TestAdaptEmptyStreamingReplyEmitsOneFragment(t *testing.T) {
	adapter := newResponseAdapter(false, sentenceSegmenter{})

	got := slices.Collect(adapter.Adapt(dialogue.TurnResponse{BotResponse: ""}, true))
	if len(got) != 1 {
		t.Fatalf("expected one fragment, got %d", len(got))
	}
	if fragment, ok := got[0].(events.TokenFragment); !ok || fragment.Text != "" {
		t.Fatalf("expected empty fragment, got %#v", got[0])
	}
}

func TestAdaptIgnoresEndConversation(t *testing.T) {
	adapter := newResponseAdapter(true, sentenceSegmenter{})

	got := slices.Collect(adapter.Adapt(dialogue.TurnResponse{BotResponse: "<speak>Bye.</speak>", EndConversation: true}, false))
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if _, ok := got[0].(events.MarkupMessage); !ok {
		t.Fatalf("expected markup message, got %T", got[0])
	}
}

func TestAdaptStopsWhenConsumerStops(t *testing.T) {
	adapter := newResponseAdapter(false, sentenceSegmenter{})

	seen := 0
	for range adapter.Adapt(dialogue.TurnResponse{BotResponse: "One. Two. Three."}, true) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("expected two events, got %d", seen)
	}
}
