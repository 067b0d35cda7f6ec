package orchestration

import (
	"iter"

	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/koscakluka/ema-onsai/core/markup"
)

// responseAdapter turns a backend reply into the outbound events of a turn.
// It only deals with content, ending the conversation is up to the agent.
type responseAdapter struct {
	sendRawMarkup bool
	segmenter     segmenter
}

func newResponseAdapter(sendRawMarkup bool, segmenter segmenter) *responseAdapter {
	return &responseAdapter{sendRawMarkup: sendRawMarkup, segmenter: segmenter}
}

// Adapt emits a single complete message when the synthesizer needs whole
// utterances, and token fragments covering the whole reply otherwise. The
// sequence is never empty.
func (a *responseAdapter) Adapt(reply dialogue.TurnResponse, streamingCapable bool) iter.Seq[events.OutboundEvent] {
	return a.adapt(reply.BotResponse, "", streamingCapable)
}

func (a *responseAdapter) adapt(content, fallbackText string, streamingCapable bool) iter.Seq[events.OutboundEvent] {
	return func(yield func(events.OutboundEvent) bool) {
		if !streamingCapable {
			yield(a.collate(content, fallbackText))
			return
		}

		emitted := false
		for segment := range a.segmenter.Segments(content) {
			emitted = true
			if !yield(events.NewTokenFragment(segment)) {
				return
			}
		}
		if !emitted {
			yield(events.NewTokenFragment(content))
		}
	}
}

func (a *responseAdapter) collate(content, fallbackText string) events.ContentEvent {
	if !a.sendRawMarkup {
		return events.NewPlainMessage(content)
	}

	if fallbackText == "" {
		fallbackText = spokenText(content)
	}
	return events.NewMarkupMessage(content, fallbackText)
}

// spokenText renders the text a reply speaks, falling back to the reply
// itself when it is not parseable markup.
func spokenText(content string) string {
	text, err := markup.PlainText(content)
	if err != nil {
		logger.Warn("failed to render reply markup as text, using raw reply")
		return content
	}
	return text
}
