package backend

import (
	"strings"
	"unicode"
)

// Truncate cuts text to at most maxRunes, preferring (in order) a
// sentence-ending boundary, then a word boundary, then a hard cut. Text
// that already fits is returned unchanged; maxRunes ≤ 0 disables
// truncation.
func Truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}

	candidate := runes[:maxRunes]

	// Sentence-ending punctuation followed by a space.
	for i := len(candidate) - 1; i > 0; i-- {
		r := candidate[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(candidate) && unicode.IsSpace(candidate[i+1]) {
			return strings.TrimSpace(string(candidate[:i+1]))
		}
	}

	// Word boundary.
	for i := len(candidate) - 1; i > 0; i-- {
		if unicode.IsSpace(candidate[i]) {
			return strings.TrimSpace(string(candidate[:i]))
		}
	}

	// Hard cut.
	return string(candidate)
}
