package alert

import (
	"context"
	"sync"
)

// MemoryStore keeps alert state in process memory only
type MemoryStore struct {
	mu    sync.Mutex
	state State
	saves int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Day: m.state.Day, Alerted: append([]string(nil), m.state.Alerted...)}, nil
}

func (m *MemoryStore) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{Day: state.Day, Alerted: append([]string(nil), state.Alerted...)}
	m.saves++
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
	return nil
}

// Saves returns how many times Save was called
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
