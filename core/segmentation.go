package orchestration

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// SegmentationPolicy decides where replies are cut into token fragments for
// synthesizers that consume incremental text.
type SegmentationPolicy string

const (
	// SegmentSentences cuts after sentence punctuation and the whitespace
	// following it. Markup tags are never cut.
	SegmentSentences SegmentationPolicy = "sentences"
	// SegmentTokens cuts at model token boundaries, keeping every fragment
	// valid UTF-8.
	SegmentTokens SegmentationPolicy = "tokens"
)

// segmenter splits text into consecutive, non-overlapping segments that
// concatenate to the original text.
type segmenter interface {
	Segments(text string) iter.Seq[string]
}

func newSegmenter(policy SegmentationPolicy) (segmenter, error) {
	switch policy {
	case "", SegmentSentences:
		return sentenceSegmenter{}, nil
	case SegmentTokens:
		return newTokenSegmenter()
	default:
		return nil, fmt.Errorf("unknown segmentation policy %q", policy)
	}
}

type sentenceSegmenter struct{}

func (sentenceSegmenter) Segments(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		inTag := false
		for i := 0; i < len(text); {
			switch c := text[i]; {
			case c == '<':
				inTag = true
			case c == '>':
				inTag = false
			case !inTag && isSentenceEnd(c):
				end := i + 1
				for end < len(text) && isSentenceEnd(text[end]) {
					end++
				}
				if end < len(text) && !isSpace(text[end]) && text[end] != '<' {
					// e.g. a decimal point
					i = end
					continue
				}
				for end < len(text) && isSpace(text[end]) {
					end++
				}
				if !yield(text[start:end]) {
					return
				}
				start, i = end, end
				continue
			}
			i++
		}

		if start < len(text) {
			yield(text[start:])
		}
	}
}

func isSentenceEnd(c byte) bool { return c == '.' || c == '?' || c == '!' }
func isSpace(c byte) bool        { return c == ' ' || c == '\n' || c == '\t' || c == '\r' }

type tokenSegmenter struct {
	codec    tokenizer.Codec
	fallback segmenter
}

func newTokenSegmenter() (*tokenSegmenter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &tokenSegmenter{codec: codec, fallback: sentenceSegmenter{}}, nil
}

func (s *tokenSegmenter) Segments(text string) iter.Seq[string] {
	fragments, err := s.fragments(text)
	if err != nil {
		logger.Warn("token segmentation failed, falling back to sentences", slog.String("error", err.Error()))
		return s.fallback.Segments(text)
	}
	return slices.Values(fragments)
}

func (s *tokenSegmenter) fragments(text string) ([]string, error) {
	ids, _, err := s.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text: %w", err)
	}

	fragments := make([]string, 0, len(ids))
	var pending []uint
	for _, id := range ids {
		pending = append(pending, id)
		fragment, err := s.codec.Decode(pending)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tokens: %w", err)
		}
		// multi-byte characters can span tokens
		if !utf8.ValidString(fragment) {
			continue
		}
		fragments = append(fragments, fragment)
		pending = pending[:0]
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("trailing tokens do not decode to valid text")
	}
	if strings.Join(fragments, "") != text {
		return nil, fmt.Errorf("tokens do not reconstruct the text")
	}
	return fragments, nil
}
