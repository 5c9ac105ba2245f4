// Package wal persists alert state as snapshot records in a write-ahead log.
package wal

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/Alias1177/VolumeSpike/internal/alert"
)

const (
	DefaultDir   = "./state/wal"
	segmentLimit = 100
	maxSegments  = 5

	snapshotKey = "alert_state"
)

type record struct {
	Index uint64      `json:"index"`
	State alert.State `json:"state"`
}

// Store appends one full snapshot per save; the newest snapshot is the state.
type Store struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewStore opens the WAL in dir
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create WAL directory")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "alerts_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init alert WAL")
	}

	return &Store{wal: wal}, nil
}

// Load returns the newest snapshot
func (s *Store) Load(_ context.Context) (alert.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest record
		found  bool
	)
	for msg := range s.wal.Iterator() {
		if msg.Key != snapshotKey {
			continue
		}
		var rec record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return alert.State{}, errors.Wrap(err, "decode alert snapshot")
		}
		if !found || rec.Index >= latest.Index {
			latest = rec
			found = true
		}
	}

	return latest.State, nil
}

// Save appends a snapshot
func (s *Store) Save(_ context.Context, state alert.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(state)
}

// Clear appends an empty snapshot
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(alert.State{})
}

func (s *Store) append(state alert.State) error {
	nextIndex := s.wal.CurrentIndex() + 1

	payload, err := json.Marshal(record{Index: nextIndex, State: state})
	if err != nil {
		return errors.Wrap(err, "marshal alert snapshot")
	}

	return errors.Wrap(s.wal.Write(nextIndex, snapshotKey, payload), "write alert snapshot")
}

// Close closes the underlying WAL
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
