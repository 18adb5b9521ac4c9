package backend

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxRunes int
		expected string
	}{
		{
			name:     "fits unchanged",
			text:     "Short sentence.",
			maxRunes: 400,
			expected: "Short sentence.",
		},
		{
			name:     "zero disables truncation",
			text:     "Anything at all goes through.",
			maxRunes: 0,
			expected: "Anything at all goes through.",
		},
		{
			name:     "sentence boundary preferred",
			text:     "First sentence. Second sentence continues for a while longer.",
			maxRunes: 30,
			expected: "First sentence.",
		},
		{
			name:     "word boundary when no sentence end",
			text:     "word1 word2 word3 word4 word5",
			maxRunes: 16,
			expected: "word1 word2",
		},
		{
			name:     "hard cut for unbroken run",
			text:     "abcdefghijklmnopqrstuvwxyz",
			maxRunes: 10,
			expected: "abcdefghij",
		},
		{
			name:     "question mark is a sentence end",
			text:     "Is it done? More trailing text follows here.",
			maxRunes: 20,
			expected: "Is it done?",
		},
		{
			name:     "multibyte runes counted as runes",
			text:     "café café café café",
			maxRunes: 9,
			expected: "café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.maxRunes); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.maxRunes, got, tt.expected)
			}
		})
	}
}
