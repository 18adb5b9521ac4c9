package postprocess

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "plain translation untouched",
			input:    "Olá, mundo.",
			expected: "Olá, mundo.",
		},
		{
			name:     "thinking block removed",
			input:    "<thinking>let me see</thinking>Olá, mundo.",
			expected: "Olá, mundo.",
		},
		{
			name:     "truncated thinking block removed to end",
			input:    "Olá<think>this was cut off",
			expected: "Olá",
		},
		{
			name:     "reasoning block removed",
			input:    "Start<reasoning>grammar analysis</reasoning>End",
			expected: "StartEnd",
		},
		{
			name:     "instruction echo stripped",
			input:    "Here is the translation: Olá, mundo.",
			expected: "Olá, mundo.",
		},
		{
			name:     "polite echo stripped",
			input:    "Sure, here's the translation: Olá.",
			expected: "Olá.",
		},
		{
			name:     "double quotes unwrapped",
			input:    `"Olá, mundo."`,
			expected: "Olá, mundo.",
		},
		{
			name:     "guillemets unwrapped",
			input:    "«Olá»",
			expected: "Olá",
		},
		{
			name:     "unbalanced quote kept",
			input:    `"Olá, mundo.`,
			expected: `"Olá, mundo.`,
		},
		{
			name:     "interior quotes kept",
			input:    `Ela disse "olá" para mim`,
			expected: `Ela disse "olá" para mim`,
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  Olá \n",
			expected: "Olá",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
