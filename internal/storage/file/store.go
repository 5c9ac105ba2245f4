// Package file persists alert state as a JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/Alias1177/VolumeSpike/internal/alert"
)

const DefaultPath = "./state/alerts.json"

// Store keeps the alert state in a single JSON file replaced atomically on save.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a file store, making sure the parent directory exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create alert state dir")
	}

	return &Store{path: path}, nil
}

// Path returns the state file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the alert state. A missing or empty file is an empty state.
func (s *Store) Load(_ context.Context) (alert.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return alert.State{}, nil
		}

		return alert.State{}, errors.Wrap(err, "read alert state")
	}

	if len(payload) == 0 {
		return alert.State{}, nil
	}

	var state alert.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return alert.State{}, errors.Wrap(err, "decode alert state")
	}

	return state, nil
}

// Save writes the alert state via a temp file and rename.
func (s *Store) Save(_ context.Context, state alert.State) error {
	if state.Alerted == nil {
		state.Alerted = []string{}
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode alert state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write alert state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist alert state")
	}

	return nil
}

// Clear removes the state file.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove alert state")
	}

	return nil
}
