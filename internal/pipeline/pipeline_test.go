package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/valpere/epubtran/internal/backend"
	"github.com/valpere/epubtran/internal/checkpoint"
	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/store"
)

// scriptedBackend records every Translate call and answers via reply.
type scriptedBackend struct {
	name     string
	hint     bool
	availErr error
	calls    [][]string
	reply    func(batch []string) ([]string, error)
}

func (b *scriptedBackend) Name() string                          { return b.name }
func (b *scriptedBackend) NeedsTargetHint() bool                 { return b.hint }
func (b *scriptedBackend) IsAvailable(ctx context.Context) error { return b.availErr }

func (b *scriptedBackend) Translate(ctx context.Context, batch []string) ([]string, error) {
	b.calls = append(b.calls, batch)
	return b.reply(batch)
}

// prefixTranslate answers every input with a "pt:" prefix, which keeps
// canary validation happy (output differs from input) and makes
// substitutions easy to spot in the rendered output.
func prefixTranslate(batch []string) ([]string, error) {
	out := make([]string, len(batch))
	for i, s := range batch {
		out[i] = "pt:" + s
	}
	return out, nil
}

// writeBook builds an EPUB on disk with one XHTML document per body given,
// manifest ids ch1, ch2, ... in order.
func writeBook(t *testing.T, dir string, bodies ...string) string {
	t.Helper()

	var manifest strings.Builder
	for i := range bodies {
		fmt.Fprintf(&manifest, `<item id="ch%d" href="ch%d.xhtml" media-type="application/xhtml+xml"/>`, i+1, i+1)
	}
	opf := `<?xml version="1.0"?><package xmlns="http://www.idpf.org/2007/opf" version="3.0"><manifest>` +
		manifest.String() + `</manifest></package>`
	containerXML := `<?xml version="1.0"?><container xmlns="urn:oasis:names:tc:opendocument:xmlns:container" version="1.0">` +
		`<rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`

	path := filepath.Join(dir, "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	write := func(name, data string, method uint16) {
		hw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := hw.Write([]byte(data)); err != nil {
			t.Fatal(err)
		}
	}
	write("mimetype", "application/epub+zip", zip.Store)
	write("META-INF/container.xml", containerXML, zip.Deflate)
	write("content.opf", opf, zip.Deflate)
	for i, body := range bodies {
		write(fmt.Sprintf("ch%d.xhtml", i+1), "<html><body>"+body+"</body></html>", zip.Deflate)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// drain consumes the event stream to completion and returns all events.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	for ev := range events {
		all = append(all, ev)
	}
	if len(all) == 0 {
		t.Fatal("event stream closed without any event")
	}
	return all
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	last := events[len(events)-1]
	switch last.(type) {
	case Completed, Failed, Cancelled:
		return last
	}
	t.Fatalf("stream did not end with a terminal event: %T", last)
	return nil
}

// documentText renders every sub-document of an EPUB into one string.
func documentText(t *testing.T, path string) string {
	t.Helper()
	c, err := epub.Open(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	var buf bytes.Buffer
	for _, d := range c.Documents() {
		tree, err := d.Borrow()
		if err != nil {
			t.Fatal(err)
		}
		if err := html.Render(&buf, tree); err != nil {
			t.Fatal(err)
		}
	}
	return buf.String()
}

func TestRun_FullTranslation(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir,
		"<p>First paragraph.</p><p>Second paragraph.</p><p>Third paragraph.</p>",
		"<p>Fourth paragraph.</p>")
	output := filepath.Join(dir, "out.epub")
	cpPath := filepath.Join(dir, "progress.json")

	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(cpPath),
	})

	events := drain(t, r.Run(context.Background()))
	if done, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	} else if done.OutputPath != output {
		t.Errorf("output path = %q, want %q", done.OutputPath, output)
	}

	text := documentText(t, output)
	for _, want := range []string{"pt:First paragraph.", "pt:Second paragraph.", "pt:Third paragraph.", "pt:Fourth paragraph."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Checkpoint is removed after success.
	if _, err := os.Stat(cpPath); !os.IsNotExist(err) {
		t.Error("checkpoint file still present after a completed run")
	}

	// Canary plus two batches of two for ch1, one batch for the leftover
	// fragment and ch2's fragment split across documents.
	if len(sb.calls) < 2 {
		t.Errorf("expected canary plus batch calls, got %d calls", len(sb.calls))
	}
	if sb.calls[0][0] != backend.CanaryPhrase {
		t.Errorf("first call should be the canary, got %v", sb.calls[0])
	}
}

func TestRun_BatchFailureKeepsOriginalText(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir,
		"<p>Breaks here.</p><p>Also breaks.</p><p>Works fine.</p><p>Works too.</p>")
	output := filepath.Join(dir, "out.epub")

	// Exactly the first service batch fails; the canary and every later
	// batch succeed.
	failed := false
	sb := &scriptedBackend{
		name: "flaky",
		reply: func(batch []string) ([]string, error) {
			if len(batch) == 1 && batch[0] == backend.CanaryPhrase {
				return []string{"O livro é excelente."}, nil
			}
			if !failed {
				failed = true
				return nil, fmt.Errorf("service exploded")
			}
			return prefixTranslate(batch)
		},
	}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("a failed batch must not fail the run, got %#v", terminal(t, events))
	}

	text := documentText(t, output)
	if !strings.Contains(text, "Breaks here.") || !strings.Contains(text, "Also breaks.") {
		t.Errorf("failed batch should keep original text, got: %s", text)
	}
	if !strings.Contains(text, "pt:Works fine.") || !strings.Contains(text, "pt:Works too.") {
		t.Errorf("later batches should still translate, got: %s", text)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir,
		"<p>The book is excellent.</p><h1>Chapter One</h1>",
		"<pre><code>untouchable()</code></pre>")
	output := filepath.Join(dir, "out.epub")
	cpPath := filepath.Join(dir, "progress.json")

	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(cpPath),
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}

	text := documentText(t, output)
	if strings.Contains(text, ">The book is excellent.<") {
		t.Error("first document's prose was not transformed")
	}
	if !strings.Contains(text, "pt:The book is excellent.") || !strings.Contains(text, "pt:Chapter One") {
		t.Errorf("transformed text missing: %s", text)
	}
	if !strings.Contains(text, "untouchable()") {
		t.Errorf("code-region fragment altered: %s", text)
	}
	for _, call := range sb.calls {
		for _, item := range call {
			if strings.Contains(item, "untouchable") {
				t.Errorf("code-region fragment sent to the service: %q", item)
			}
		}
	}
	if _, err := os.Stat(cpPath); !os.IsNotExist(err) {
		t.Error("checkpoint file still exists after completion")
	}
}

func TestRun_NoBackendFailsRun(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<p>Some text.</p>")

	sb := &scriptedBackend{name: "down", availErr: fmt.Errorf("connection refused"), reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  filepath.Join(dir, "out.epub"),
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
	})

	events := drain(t, r.Run(context.Background()))
	failed, ok := terminal(t, events).(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %#v", terminal(t, events))
	}
	if !strings.Contains(failed.Message, "no translation backend available") {
		t.Errorf("unexpected failure message: %s", failed.Message)
	}
}

func TestRun_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{
		InputPath:   filepath.Join(dir, "missing.epub"),
		OutputPath:  filepath.Join(dir, "out.epub"),
		SourceLang:  "en",
		TargetLang:  "pt",
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Failed); !ok {
		t.Fatalf("expected Failed for a missing input, got %#v", terminal(t, events))
	}
}

func TestRun_CopyThroughWithoutFragments(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<pre>only code, nothing to translate</pre>")
	output := filepath.Join(dir, "out.epub")

	sb := &scriptedBackend{name: "unused", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}
	if len(sb.calls) != 0 {
		t.Errorf("backend must not be contacted when nothing is translatable, got %d calls", len(sb.calls))
	}
	if !strings.Contains(documentText(t, output), "only code, nothing to translate") {
		t.Error("skipped content altered in copy-through output")
	}
}

func TestRun_CancelledBeforeTranslating(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<p>Some text.</p>")
	cpPath := filepath.Join(dir, "progress.json")

	// Leave a prior checkpoint in place; cancellation must not remove it.
	prior := checkpoint.Checkpoint{DocumentOrder: []string{"stale"}, DocumentIndex: 0, FragmentIndex: 1}
	if err := checkpoint.NewStore(cpPath).Save(prior); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sb := &scriptedBackend{name: "unused", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  filepath.Join(dir, "out.epub"),
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(cpPath),
	})

	events := drain(t, r.Run(ctx))
	if _, ok := terminal(t, events).(Cancelled); !ok {
		t.Fatalf("expected Cancelled, got %#v", terminal(t, events))
	}
	if _, err := os.Stat(cpPath); err != nil {
		t.Error("checkpoint must survive a cancelled run")
	}
}

func TestRun_CancelMidDocumentThenResume(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir,
		"<p>One.</p><p>Two.</p><p>Three.</p><p>Four.</p><p>Five.</p>")
	output := filepath.Join(dir, "out.epub")
	cpPath := filepath.Join(dir, "progress.json")

	db, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// First run: cancellation is requested while the first batch is in
	// flight; the call completes, the checkpoint lands, and the flag is
	// honored at the next batch boundary.
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	first := &scriptedBackend{name: "fake"}
	first.reply = func(batch []string) ([]string, error) {
		if len(batch) == 1 && batch[0] == backend.CanaryPhrase {
			return []string{"O livro é excelente."}, nil
		}
		cancelRun()
		return prefixTranslate(batch)
	}
	r1 := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{first},
		Checkpoints: checkpoint.NewStore(cpPath),
		Memory:      db,
	})

	events := drain(t, r1.Run(ctx))
	if _, ok := terminal(t, events).(Cancelled); !ok {
		t.Fatalf("expected Cancelled, got %#v", terminal(t, events))
	}

	cp := checkpoint.NewStore(cpPath).Load()
	if cp.DocumentIndex != 0 || cp.FragmentIndex != 2 {
		t.Fatalf("checkpoint after one batch = (%d, %d), want (0, 2)", cp.DocumentIndex, cp.FragmentIndex)
	}

	// Second run resumes mid-document with a fresh runner.
	second := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r2 := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{second},
		Checkpoints: checkpoint.NewStore(cpPath),
		Memory:      db,
	})

	events = drain(t, r2.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed on resume, got %#v", terminal(t, events))
	}

	// Same output as an uninterrupted run: every fragment translated.
	text := documentText(t, output)
	for _, want := range []string{"pt:One.", "pt:Two.", "pt:Three.", "pt:Four.", "pt:Five."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q after resume: %s", want, text)
		}
	}

	// The first batch is replayed from the store, never re-sent.
	for _, call := range second.calls {
		for _, item := range call {
			if item == "One." || item == "Two." {
				t.Errorf("completed fragment re-sent to the service: %q", item)
			}
		}
	}

	if _, err := os.Stat(cpPath); !os.IsNotExist(err) {
		t.Error("checkpoint file still exists after a completed resume")
	}
}

func TestRun_ResumeReplaysPersistedFragments(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir,
		"<p>Done before.</p><p>Also done.</p>",
		"<p>Still pending.</p><p>Pending too.</p>")
	output := filepath.Join(dir, "out.epub")
	cpPath := filepath.Join(dir, "progress.json")

	db, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// A previous run finished ch1 and persisted its batch results.
	order := []string{"ch1", "ch2"}
	fp := checkpoint.Fingerprint(order)
	ctx := context.Background()
	if err := db.SaveFragment(ctx, fp, "ch1", 0, "replayed-first"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveFragment(ctx, fp, "ch1", 1, "replayed-second"); err != nil {
		t.Fatal(err)
	}
	cp := checkpoint.Checkpoint{DocumentOrder: order, DocumentIndex: 1, FragmentIndex: 0}
	if err := checkpoint.NewStore(cpPath).Save(cp); err != nil {
		t.Fatal(err)
	}

	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(cpPath),
		Memory:      db,
	})

	events := drain(t, r.Run(ctx))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}

	text := documentText(t, output)
	if !strings.Contains(text, "replayed-first") || !strings.Contains(text, "replayed-second") {
		t.Errorf("completed document not replayed from the store: %s", text)
	}
	if !strings.Contains(text, "pt:Still pending.") || !strings.Contains(text, "pt:Pending too.") {
		t.Errorf("pending document not translated: %s", text)
	}

	// The service never sees ch1's fragments again.
	for _, call := range sb.calls {
		for _, item := range call {
			if strings.Contains(item, "Done before") || strings.Contains(item, "Also done") {
				t.Errorf("replayed fragment re-sent to the service: %q", item)
			}
		}
	}

	// Cells for the run are cleared on success.
	cells, err := db.GetFragments(ctx, fp, "ch1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 0 {
		t.Errorf("fragment cells not cleared after completion: %v", cells)
	}
}

func TestRun_CheckpointOrderMismatchRestarts(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<p>Alpha text.</p><p>Beta text.</p>")
	output := filepath.Join(dir, "out.epub")
	cpPath := filepath.Join(dir, "progress.json")

	// Checkpoint from a different book.
	stale := checkpoint.Checkpoint{DocumentOrder: []string{"other1", "other2"}, DocumentIndex: 1, FragmentIndex: 3}
	if err := checkpoint.NewStore(cpPath).Save(stale); err != nil {
		t.Fatal(err)
	}

	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(cpPath),
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}

	text := documentText(t, output)
	if !strings.Contains(text, "pt:Alpha text.") || !strings.Contains(text, "pt:Beta text.") {
		t.Errorf("mismatched checkpoint must restart from the beginning: %s", text)
	}
}

func TestRun_CacheHitsSkipService(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<p>Cached already.</p><p>Never seen.</p>")
	output := filepath.Join(dir, "out.epub")

	db, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.SaveToMemory(ctx, "Cached already.", "en", "pt", "Já em cache.", "m1"); err != nil {
		t.Fatal(err)
	}

	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "en",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
		Memory:      db,
	})

	events := drain(t, r.Run(ctx))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}

	text := documentText(t, output)
	if !strings.Contains(text, "Já em cache.") {
		t.Errorf("cached translation not substituted: %s", text)
	}
	if !strings.Contains(text, "pt:Never seen.") {
		t.Errorf("uncached fragment not translated: %s", text)
	}

	for _, call := range sb.calls {
		for _, item := range call {
			if strings.Contains(item, "Cached already") {
				t.Errorf("cached fragment sent to the service: %q", item)
			}
		}
	}
}

func TestRun_AutoDetectSource(t *testing.T) {
	dir := t.TempDir()
	input := writeBook(t, dir, "<p>Plenty of English text for detection.</p>")
	output := filepath.Join(dir, "out.epub")

	var sample string
	sb := &scriptedBackend{name: "fake", reply: prefixTranslate}
	r := New(Config{
		InputPath:   input,
		OutputPath:  output,
		SourceLang:  "auto",
		TargetLang:  "pt",
		Candidates:  []backend.Backend{sb},
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "progress.json")),
		DetectSource: func(s string) (string, bool) {
			sample = s
			return "en", true
		},
	})

	events := drain(t, r.Run(context.Background()))
	if _, ok := terminal(t, events).(Completed); !ok {
		t.Fatalf("expected Completed, got %#v", terminal(t, events))
	}
	if !strings.Contains(sample, "Plenty of English text") {
		t.Errorf("detector sample missing document text: %q", sample)
	}
	if r.sourceLang != "en" {
		t.Errorf("source language = %q, want en", r.sourceLang)
	}
}
