// Package backend selects and invokes the external translation service.
// Backends are tried in quality order with a canary phrase until one
// works; the chosen backend is then wrapped in an Adapter that enforces
// the per-call batching and truncation contract.
package backend

import "context"

// Backend is one translation engine candidate. Language pair and any
// credentials are fixed at construction; Translate only sees the batch.
//
// NeedsTargetHint is an explicit capability declared when the backend is
// registered: multilingual engines that require a target-language marker
// appended to every input return true. The flag is never inferred from
// the backend's name.
type Backend interface {
	Name() string
	NeedsTargetHint() bool

	// Translate transforms an ordered batch and returns the results in
	// the same order. A short or failed response is an error; the caller
	// decides what a failed batch means.
	Translate(ctx context.Context, batch []string) ([]string, error)

	IsAvailable(ctx context.Context) error
}
