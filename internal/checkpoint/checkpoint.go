// Package checkpoint persists the pipeline's position between runs so an
// interrupted translation resumes where it stopped. The record is a small
// JSON file; a missing, truncated or malformed file is treated as "no
// checkpoint", never as a fatal error.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath is the well-known progress file written next to wherever
// the tool runs, matching the original progress-file location.
const DefaultPath = "translation_progress.json"

// Checkpoint records how far the pipeline got. It is only valid against a
// container whose computed sub-document order matches DocumentOrder
// exactly; any mismatch discards it.
type Checkpoint struct {
	DocumentOrder []string `json:"document_order"`
	DocumentIndex int      `json:"document_index"`
	FragmentIndex int      `json:"fragment_index"`
}

// IsZero reports whether the checkpoint carries no progress.
func (c Checkpoint) IsZero() bool {
	return len(c.DocumentOrder) == 0 && c.DocumentIndex == 0 && c.FragmentIndex == 0
}

// Matches reports whether the recorded document order equals order.
func (c Checkpoint) Matches(order []string) bool {
	if len(c.DocumentOrder) != len(order) {
		return false
	}
	for i, id := range order {
		if c.DocumentOrder[i] != id {
			return false
		}
	}
	return true
}

// Fingerprint derives a stable key from a document order. Persisted batch
// results are scoped by this key so progress for one book never bleeds
// into another.
func Fingerprint(order []string) string {
	sum := sha256.Sum256([]byte(strings.Join(order, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Store reads and writes the checkpoint file. It is a single-writer
// resource: only the running pipeline may save to it.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the file the store operates on.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved checkpoint, or a zero checkpoint when the file is
// absent, unreadable or corrupt.
func (s *Store) Load() Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Checkpoint{}
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}
	}
	return c
}

// Save writes the checkpoint atomically: a temporary file in the same
// directory is renamed over the destination, so a later Load can never
// observe a half-written record.
func (s *Store) Save(c Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temporary checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Invalidate removes the checkpoint file. Called once the pipeline
// reports success; a missing file is not an error.
func (s *Store) Invalidate() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
