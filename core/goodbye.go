package orchestration

import (
	"slices"
	"strings"
	"unicode"
)

type goodbyeDetector struct {
	phrases [][]string
}

func newGoodbyeDetector(phrases []string) goodbyeDetector {
	detector := goodbyeDetector{}
	for _, phrase := range phrases {
		if phraseWords := words(phrase); len(phraseWords) > 0 {
			detector.phrases = append(detector.phrases, phraseWords)
		}
	}
	return detector
}

// IsGoodbye reports whether text contains any of the phrases as a sequence of
// whole words, ignoring case and punctuation.
func (d goodbyeDetector) IsGoodbye(text string) bool {
	if len(d.phrases) == 0 {
		return false
	}

	textWords := words(text)
	for _, phrase := range d.phrases {
		for i := 0; i+len(phrase) <= len(textWords); i++ {
			if slices.Equal(textWords[i:i+len(phrase)], phrase) {
				return true
			}
		}
	}
	return false
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
