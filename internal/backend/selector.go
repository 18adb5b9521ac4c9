package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CanaryPhrase is the known input each candidate must translate before it
// is accepted.
const CanaryPhrase = "The book is excellent."

// ErrNoBackendAvailable is returned when every candidate fails either
// availability or canary validation.
var ErrNoBackendAvailable = errors.New("no translation backend available")

// ValidateFunc inspects a canary translation and returns an error when it
// looks wrong (empty, echoed input, wrong language). A nil ValidateFunc
// only rejects empty and echoed output.
type ValidateFunc func(translated string) error

// Select walks the candidate list in order and returns the first backend
// that is available and passes canary validation. When preferredID names
// one of the candidates it is tried first; the rest keep their quality
// order. No translation work is ever attempted against a rejected
// candidate beyond its single canary call.
func Select(ctx context.Context, candidates []Backend, preferredID, targetLang string, validate ValidateFunc) (Backend, error) {
	ordered := prioritize(candidates, preferredID)

	var lastErr error
	for _, cand := range ordered {
		if err := cand.IsAvailable(ctx); err != nil {
			lastErr = fmt.Errorf("%s: %w", cand.Name(), err)
			continue
		}
		if err := canary(ctx, cand, targetLang, validate); err != nil {
			lastErr = fmt.Errorf("%s: %w", cand.Name(), err)
			continue
		}
		return cand, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackendAvailable, lastErr)
	}
	return nil, ErrNoBackendAvailable
}

func prioritize(candidates []Backend, preferredID string) []Backend {
	if preferredID == "" {
		return candidates
	}
	ordered := make([]Backend, 0, len(candidates))
	for _, c := range candidates {
		if c.Name() == preferredID {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if c.Name() != preferredID {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

func canary(ctx context.Context, b Backend, targetLang string, validate ValidateFunc) error {
	input := CanaryPhrase
	if b.NeedsTargetHint() {
		input += TargetHint(targetLang)
	}

	out, err := b.Translate(ctx, []string{input})
	if err != nil {
		return fmt.Errorf("canary translation failed: %w", err)
	}
	if len(out) != 1 {
		return fmt.Errorf("canary returned %d results, want 1", len(out))
	}

	translated := strings.TrimSpace(out[0])
	if translated == "" {
		return fmt.Errorf("canary produced empty output")
	}
	if strings.EqualFold(translated, CanaryPhrase) {
		return fmt.Errorf("canary output identical to input")
	}
	if validate != nil {
		if err := validate(translated); err != nil {
			return fmt.Errorf("canary validation: %w", err)
		}
	}
	return nil
}
