// Package postprocess strips the artifacts LLM backends wrap around a
// translation: reasoning blocks, echoed instructions and quote wrapping.
// Raw output from any LLM-backed backend goes through Clean before it is
// substituted into a document.
package postprocess

import (
	"regexp"
	"strings"
)

// reasoningRe matches complete <think>-style blocks. Each tag variant is
// listed explicitly because RE2 has no backreferences.
var reasoningRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>`,
)

// openReasoningRe matches a reasoning tag whose closing tag never arrived
// (the model was cut off mid-thought).
var openReasoningRe = regexp.MustCompile(`(?is)(?:<thinking>|<think>|<reasoning>).*$`)

// echoRe matches introductory phrases models prepend even when told not
// to, anchored to the start and requiring a colon to limit false hits.
var echoRe = regexp.MustCompile(
	`(?i)^(?:(?:certainly|sure|of course)[,.]? )?(?:here(?:'s| is)(?: the)? )?(?:the )?(?:translated )?(?:translation|text)\s*:`,
)

// Clean returns text with LLM artifacts removed and whitespace trimmed.
func Clean(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	text = openReasoningRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if loc := echoRe.FindStringIndex(text); loc != nil {
		text = strings.TrimSpace(text[loc[1]:])
	}

	return unwrapQuotes(text)
}

// unwrapQuotes strips one matching pair of outer quotes when the whole
// text is wrapped in them.
func unwrapQuotes(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	pairs := map[rune]rune{
		'"':  '"',
		'\'': '\'',
		'«':  '»',
		'“':  '”',
		'‘':  '’',
	}
	if closing, ok := pairs[runes[0]]; ok && runes[n-1] == closing {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
