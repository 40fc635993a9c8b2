package storage

import (
	"context"
	"sync"

	"bookkeeper/internal/core"
)

// MemoryPersister keeps the last saved state in memory.
type MemoryPersister struct {
	mu      sync.Mutex
	state   *core.State
	saves   int
	saveErr error
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// Load returns the last saved state.
func (m *MemoryPersister) Load(ctx context.Context) (core.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return core.State{}, core.ErrNoState
	}
	return m.state.Clone(), nil
}

// Save stores a copy of st.
func (m *MemoryPersister) Save(ctx context.Context, st core.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	c := st.Clone()
	m.state = &c
	m.saves++
	return nil
}

// FailSaves makes every following Save return err; nil restores saving.
func (m *MemoryPersister) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Close is a no-op.
func (m *MemoryPersister) Close() error { return nil }

// Saves counts successful saves.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
