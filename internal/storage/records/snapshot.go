package records

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Snapshot persists one JSON document atomically via temp file +
// rename. Load returns nil when the file does not exist yet.
type Snapshot[T any] struct {
	path string
}

// NewSnapshot creates a snapshot store at the given path, creating the
// parent directory if needed.
func NewSnapshot[T any](path string) (*Snapshot[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	return &Snapshot[T]{path: path}, nil
}

// Load reads the snapshot from disk.
func (s *Snapshot[T]) Load() (*T, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read snapshot")
	}
	if len(payload) == 0 {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &value, nil
}

// Save writes the snapshot to disk atomically.
func (s *Snapshot[T]) Save(value T) error {
	if s == nil || s.path == "" {
		return nil
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist snapshot")
	}
	return nil
}
