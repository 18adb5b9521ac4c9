// Package validator checks that text produced by a translation backend is
// actually written in the target language. Backend selection uses it to
// reject candidates whose canary translation came back in the wrong
// language (or not translated at all).
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/epubtran/internal/detector"
)

// minDetectableLength is the minimum rune count for reliable language
// detection; shorter texts pass without validation.
const minDetectableLength = 20

// Validator verifies translation output language. The underlying detector
// is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

func New() *Validator {
	return &Validator{det: detector.New()}
}

// Check returns an error when translated is empty or detectably not in
// targetLang. Texts too short or too ambiguous to classify pass.
func (v *Validator) Check(translated, targetLang string) error {
	if targetLang == "" {
		return nil
	}

	text := strings.TrimSpace(translated)
	if text == "" {
		return fmt.Errorf("translation is empty")
	}
	if len([]rune(text)) < minDetectableLength {
		return nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return nil
	}
	if !strings.EqualFold(detected, targetLang) {
		return fmt.Errorf("expected %s but detected %s", targetLang, detected)
	}
	return nil
}
