package backend

import (
	"context"
	"fmt"
	"strings"
)

// Contract constants carried over from the original tool: at most two
// items per service call, each truncated to 400 runes.
const (
	DefaultBatchWidth = 2
	DefaultMaxItemLen = 400
)

// TargetHint is the fixed marker appended to every input when a
// multilingual backend needs to be steered to the target language, e.g.
// " [PT]" for Portuguese.
func TargetHint(targetLang string) string {
	return fmt.Sprintf(" [%s]", strings.ToUpper(targetLang))
}

// Adapter wraps the selected backend and enforces the per-call contract:
// a maximum batch width, a maximum item length, and the target-language
// hint for backends that declare they need one. A service failure is
// returned as-is — the adapter never substitutes text on error.
type Adapter struct {
	backend    Backend
	batchWidth int
	maxItemLen int
	hint       string
}

func NewAdapter(b Backend, batchWidth, maxItemLen int, targetLang string) *Adapter {
	if batchWidth <= 0 {
		batchWidth = DefaultBatchWidth
	}
	if maxItemLen <= 0 {
		maxItemLen = DefaultMaxItemLen
	}
	hint := ""
	if b.NeedsTargetHint() {
		hint = TargetHint(targetLang)
	}
	return &Adapter{
		backend:    b,
		batchWidth: batchWidth,
		maxItemLen: maxItemLen,
		hint:       hint,
	}
}

// BackendName returns the wrapped backend's identifier.
func (a *Adapter) BackendName() string {
	return a.backend.Name()
}

// BatchWidth returns the maximum items per Transform call.
func (a *Adapter) BatchWidth() int {
	return a.batchWidth
}

// Transform translates one batch. Items are truncated before submission
// so that text plus the hint marker stays within the maximum length; the
// marker itself is appended after truncation and is never cut off.
func (a *Adapter) Transform(ctx context.Context, batch []string) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > a.batchWidth {
		return nil, fmt.Errorf("batch of %d exceeds maximum width %d", len(batch), a.batchWidth)
	}

	limit := a.maxItemLen
	if w := len([]rune(a.hint)); w > 0 && w < limit {
		limit -= w
	}

	prepared := make([]string, len(batch))
	for i, text := range batch {
		text = Truncate(text, limit)
		prepared[i] = text + a.hint
	}

	out, err := a.backend.Translate(ctx, prepared)
	if err != nil {
		return nil, err
	}
	if len(out) != len(batch) {
		return nil, fmt.Errorf("backend returned %d results for %d inputs", len(out), len(batch))
	}
	return out, nil
}
