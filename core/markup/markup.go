// Package markup renders and builds speech synthesis markup (SSML).
package markup

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IsMarkup reports whether text is a synthesis markup document.
func IsMarkup(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "<speak")
}

// PlainText renders the spoken text of a markup document with whitespace
// collapsed. Text without markup is returned with whitespace collapsed.
func PlainText(text string) (string, error) {
	if !strings.Contains(text, "<") {
		return strings.Join(strings.Fields(html.UnescapeString(text)), " "), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("failed to parse markup: %w", err)
	}

	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

type envelope struct {
	language        string
	voice           string
	pitch           string
	rate            string
	trailingSilence string
}

type Option func(*envelope)

func WithLanguage(language string) Option { return func(e *envelope) { e.language = language } }
func WithVoice(voice string) Option       { return func(e *envelope) { e.voice = voice } }
func WithPitch(pitch string) Option       { return func(e *envelope) { e.pitch = pitch } }
func WithRate(rate string) Option         { return func(e *envelope) { e.rate = rate } }

// WithTrailingSilence appends an exact trailing silence, e.g. "500ms". An
// empty duration disables it.
func WithTrailingSilence(duration string) Option {
	return func(e *envelope) { e.trailingSilence = duration }
}

// Wrap escapes text and wraps it in a speak/voice/prosody envelope.
func Wrap(text string, opts ...Option) string {
	e := envelope{
		language:        "en-US",
		voice:           "en-US-SteffanNeural",
		pitch:           "0%",
		rate:            "15%",
		trailingSilence: "500ms",
	}
	for _, opt := range opts {
		opt(&e)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<speak xmlns="https://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" version="1.0" xml:lang="%s">`, html.EscapeString(e.language))
	fmt.Fprintf(&b, `<voice name="%s">`, html.EscapeString(e.voice))
	if e.trailingSilence != "" {
		fmt.Fprintf(&b, `<mstts:silence value="%s" type="Tailing-exact" />`, html.EscapeString(e.trailingSilence))
	}
	fmt.Fprintf(&b, `<prosody pitch="%s" rate="%s">`, html.EscapeString(e.pitch), html.EscapeString(e.rate))
	b.WriteString(html.EscapeString(text))
	b.WriteString(`</prosody></voice></speak>`)

	return b.String()
}
