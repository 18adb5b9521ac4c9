// Package pipeline drives a whole translation run: open the container,
// count fragments, resolve the checkpoint, translate batch by batch with
// in-place substitution, commit documents, and reassemble the output.
// One run owns all of its state on a single goroutine; the caller only
// observes events.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/valpere/epubtran/internal/backend"
	"github.com/valpere/epubtran/internal/checkpoint"
	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/extractor"
	"github.com/valpere/epubtran/internal/store"
)

// Config assembles a run's collaborators. Candidates are the backend
// fallback chain in quality order; Memory and the detection/validation
// callbacks are optional.
type Config struct {
	InputPath  string
	OutputPath string

	SourceLang string // ISO code or "auto"
	TargetLang string

	Candidates       []backend.Backend
	PreferredBackend string
	BatchWidth       int
	MaxItemLen       int
	CallTimeout      time.Duration

	Checkpoints *checkpoint.Store
	Memory      *store.Store

	// DetectSource resolves SourceLang=="auto" from a text sample.
	DetectSource func(sample string) (string, bool)
	// ValidateCanary inspects a candidate's canary translation.
	ValidateCanary backend.ValidateFunc

	Logger *slog.Logger
}

// Runner executes one pipeline run. Not reusable: create a new Runner
// per run.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	// adapter is memoized: backend selection happens at most once per run.
	adapter *backend.Adapter

	sourceLang string
	events     chan Event
	done       int
	total      int
}

func New(cfg Config) *Runner {
	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = backend.DefaultBatchWidth
	}
	if cfg.MaxItemLen <= 0 {
		cfg.MaxItemLen = backend.DefaultMaxItemLen
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewStore("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		cfg:        cfg,
		logger:     logger,
		sourceLang: cfg.SourceLang,
		events:     make(chan Event, 64),
	}
}

// Run starts the pipeline on its own goroutine and returns the event
// stream. The stream ends with exactly one terminal event (Completed,
// Failed or Cancelled) and is then closed.
func (r *Runner) Run(ctx context.Context) <-chan Event {
	go func() {
		defer close(r.events)
		r.run(ctx)
	}()
	return r.events
}

func (r *Runner) run(ctx context.Context) {
	// Opening.
	r.progress("Opening container...")
	container, err := epub.Open(r.cfg.InputPath)
	if err != nil {
		r.fail(err)
		return
	}
	docs := container.Documents()
	order := container.DocumentOrder()
	fingerprint := checkpoint.Fingerprint(order)
	r.logger.Info("container opened", "input", r.cfg.InputPath, "documents", len(docs))

	// Counting: one up-front extraction pass per document so progress
	// totals are exact before the first translation call.
	counts := make([]int, len(docs))
	for i, doc := range docs {
		tree, err := doc.Borrow()
		if err != nil {
			r.fail(err)
			return
		}
		frags := extractor.Extract(tree)
		counts[i] = len(frags)
		r.total += len(frags)

		if r.sourceLang == "auto" && r.cfg.DetectSource != nil {
			r.detectSource(frags)
		}
	}
	r.logger.Info("fragments counted", "total", r.total)

	if r.total == 0 {
		// Nothing translatable: pure copy-through.
		r.finalize(container, fingerprint)
		return
	}

	// Resolving-Checkpoint.
	cp := r.cfg.Checkpoints.Load()
	if !cp.IsZero() && !cp.Matches(order) {
		r.logger.Warn("checkpoint does not match container, restarting from the beginning")
		cp = checkpoint.Checkpoint{}
	}
	resumeDoc, resumeFrag := cp.DocumentIndex, cp.FragmentIndex
	if resumeDoc > len(docs) {
		resumeDoc, resumeFrag = 0, 0
	}
	if resumeDoc > 0 || resumeFrag > 0 {
		r.progress(fmt.Sprintf("Resuming at document %d, fragment %d", resumeDoc, resumeFrag))
	}

	// Translating.
	for di, doc := range docs {
		if ctx.Err() != nil {
			r.cancel()
			return
		}
		if di > resumeDoc {
			resumeFrag = 0
		}
		if di < resumeDoc {
			// Completed in a previous run: replay the persisted batch
			// results into a fresh tree and commit.
			if err := r.replayDocument(ctx, doc, fingerprint, counts[di]); err != nil {
				r.fail(err)
				return
			}
			r.done += counts[di]
			r.progress(fmt.Sprintf("Replayed %s from previous run", doc.Name))
			continue
		}

		if err := r.translateDocument(ctx, doc, order, di, resumeFrag, fingerprint); err != nil {
			if ctx.Err() != nil {
				r.cancel()
			} else {
				r.fail(err)
			}
			return
		}
	}

	r.finalize(container, fingerprint)
}

// translateDocument consumes one sub-document from startFrag onward in
// fixed-width batches and commits the mutated tree into the container
// model. Fragments before startFrag were translated by a previous run and
// are replayed from the store.
func (r *Runner) translateDocument(ctx context.Context, doc *epub.SubDocument, order []string, di, startFrag int, fingerprint string) error {
	tree, err := doc.Borrow()
	if err != nil {
		return err
	}
	// Earlier documents may have been mutated; this one has not. Extract
	// fresh so positions match the current tree.
	frags := extractor.Extract(tree)

	if startFrag > 0 {
		r.replayFragments(ctx, doc.ID, fingerprint, frags[:min(startFrag, len(frags))])
		r.done += min(startFrag, len(frags))
	}

	for f := startFrag; f < len(frags); f += r.cfg.BatchWidth {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := min(f+r.cfg.BatchWidth, len(frags))
		if err := r.translateBatch(ctx, doc, frags[f:end], fingerprint, f); err != nil {
			return err
		}

		r.done += end - f
		r.progress(fmt.Sprintf("Translating %s: %d/%d", doc.Name, r.done, r.total))

		next := checkpoint.Checkpoint{DocumentOrder: order, DocumentIndex: di, FragmentIndex: end}
		if end == len(frags) {
			next.DocumentIndex, next.FragmentIndex = di+1, 0
		}
		if err := r.cfg.Checkpoints.Save(next); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	// Committing-Document.
	if err := doc.Commit(tree); err != nil {
		return err
	}
	r.logger.Info("document committed", "document", doc.Name, "fragments", len(frags))
	return nil
}

// translateBatch transforms one batch and substitutes the results. A
// service failure leaves every service-bound fragment untouched and is
// reported as a warning, never as a run failure; only the inability to
// select any backend at all aborts the run.
func (r *Runner) translateBatch(ctx context.Context, doc *epub.SubDocument, batch []extractor.Fragment, fingerprint string, base int) error {
	translated := make([]string, len(batch))
	fromCache := make([]bool, len(batch))

	missing := make([]int, 0, len(batch))
	for i, frag := range batch {
		if r.cfg.Memory != nil {
			if cached, found, err := r.cfg.Memory.GetCachedTranslation(ctx, frag.Core, r.sourceLang, r.cfg.TargetLang); err == nil && found {
				translated[i] = cached
				fromCache[i] = true
				continue
			}
		}
		missing = append(missing, i)
	}

	backendName := ""
	if len(missing) > 0 {
		adapter, err := r.selectBackend(ctx)
		if err != nil {
			return err
		}
		backendName = adapter.BackendName()

		cores := make([]string, len(missing))
		for i, idx := range missing {
			cores[i] = batch[idx].Core
		}

		// In-flight calls are never interrupted by cancellation; they run
		// under their own timeout and the flag is honored at the next poll.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
		out, err := adapter.Transform(callCtx, cores)
		cancel()
		if err != nil {
			// Substitute nothing for the failed call; cache hits are
			// deterministic replays and still land below.
			r.logger.Warn("batch translation failed, keeping original text",
				"document", doc.Name, "fragments", len(missing), "error", err)
		} else {
			for i, idx := range missing {
				translated[idx] = out[i]
			}
		}
	}

	for i, frag := range batch {
		if translated[i] == "" {
			continue
		}
		if !extractor.Replace(frag, translated[i]) {
			r.logger.Warn("fragment position no longer holds a text node, substitution skipped",
				"document", doc.Name, "fragment", base+i)
			continue
		}

		if r.cfg.Memory != nil {
			if !fromCache[i] {
				_ = r.cfg.Memory.SaveToMemory(ctx, frag.Core, r.sourceLang, r.cfg.TargetLang, translated[i], backendName)
			}
			_ = r.cfg.Memory.SaveFragment(ctx, fingerprint, doc.ID, base+i, translated[i])
		}
	}
	return nil
}

// replayDocument re-applies a previous run's results to a document that
// was fully consumed before the interruption.
func (r *Runner) replayDocument(ctx context.Context, doc *epub.SubDocument, fingerprint string, count int) error {
	tree, err := doc.Borrow()
	if err != nil {
		return err
	}
	frags := extractor.Extract(tree)
	r.replayFragments(ctx, doc.ID, fingerprint, frags)
	return doc.Commit(tree)
}

// replayFragments substitutes persisted batch results without any service
// call. Fragments with no persisted text stay original — the same
// degradation a failed batch produces.
func (r *Runner) replayFragments(ctx context.Context, docID, fingerprint string, frags []extractor.Fragment) {
	if r.cfg.Memory == nil {
		r.logger.Warn("resuming without a store: completed fragments stay untranslated", "document", docID)
		return
	}
	cells, err := r.cfg.Memory.GetFragments(ctx, fingerprint, docID)
	if err != nil {
		r.logger.Warn("failed to load persisted fragments", "document", docID, "error", err)
		return
	}
	for i, frag := range frags {
		if text, ok := cells[i]; ok {
			if !extractor.Replace(frag, text) {
				r.logger.Warn("fragment position no longer holds a text node, replay skipped",
					"document", docID, "fragment", i)
			}
		}
	}
}

// selectBackend memoizes backend selection: it is attempted at most once
// per run.
func (r *Runner) selectBackend(ctx context.Context) (*backend.Adapter, error) {
	if r.adapter != nil {
		return r.adapter, nil
	}
	r.progress("Selecting translation backend...")
	b, err := backend.Select(ctx, r.cfg.Candidates, r.cfg.PreferredBackend, r.cfg.TargetLang, r.cfg.ValidateCanary)
	if err != nil {
		return nil, err
	}
	r.logger.Info("backend selected", "backend", b.Name(), "needs_target_hint", b.NeedsTargetHint())
	r.progress(fmt.Sprintf("Using backend %s", b.Name()))
	r.adapter = backend.NewAdapter(b, r.cfg.BatchWidth, r.cfg.MaxItemLen, r.cfg.TargetLang)
	return r.adapter, nil
}

// detectSource samples extracted fragments to resolve SourceLang=="auto".
func (r *Runner) detectSource(frags []extractor.Fragment) {
	sample := ""
	for _, frag := range frags {
		sample += frag.Core + " "
		if len(sample) > 400 {
			break
		}
	}
	if detected, ok := r.cfg.DetectSource(sample); ok {
		r.sourceLang = detected
		r.logger.Info("source language detected", "language", detected)
	}
}

// finalize writes the output container and clears the checkpoint. Only
// reached when no cancellation occurred.
func (r *Runner) finalize(container *epub.Container, fingerprint string) {
	r.progress("Writing output container...")
	if err := epub.Write(container, r.cfg.OutputPath); err != nil {
		r.fail(err)
		return
	}
	if err := r.cfg.Checkpoints.Invalidate(); err != nil {
		r.logger.Warn("failed to remove checkpoint", "error", err)
	}
	if r.cfg.Memory != nil {
		_, _ = r.cfg.Memory.ClearFragments(context.Background(), fingerprint)
	}
	r.logger.Info("run completed", "output", r.cfg.OutputPath, "fragments", r.done)
	r.send(Progress{Done: r.done, Total: r.total, Message: "Done"})
	r.events <- Completed{OutputPath: r.cfg.OutputPath}
}

func (r *Runner) fail(err error) {
	r.logger.Error("run failed", "error", err)
	r.events <- Failed{Message: err.Error()}
}

func (r *Runner) cancel() {
	r.logger.Info("run cancelled, checkpoint kept for resume")
	r.events <- Cancelled{}
}

func (r *Runner) progress(message string) {
	r.send(Progress{Done: r.done, Total: r.total, Message: message})
}

// send delivers a progress event without ever blocking the pipeline: a
// slow or absent consumer only loses progress updates, never correctness.
func (r *Runner) send(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}
