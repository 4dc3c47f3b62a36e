package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Checkpoints are kept as encoded JSON so a caller mutating a loaded state
// can never change what is stored. MemStore is thread-safe.
//
// Limitations:
//   - Data is lost when process terminates
//   - Not suitable for distributed systems
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte       // threadID -> encoded checkpoint
	history     map[string][]StepRecord // threadID -> commits, oldest first
	closed      bool

	// FailSave, when set, is returned by Save before anything is written.
	// Tests use it to simulate a persistence fault.
	FailSave error
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := NewMemStore[MyState]()
//	engine := graph.New(reducer, st, emitter)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		checkpoints: make(map[string][]byte),
		history:     make(map[string][]StepRecord),
	}
}

// Setup is a no-op for MemStore.
func (m *MemStore[S]) Setup(_ context.Context) error {
	return nil
}

// Save commits cp if the stored version is cp.Version-1.
func (m *MemStore[S]) Save(_ context.Context, cp Checkpoint[S]) error {
	if err := validate(cp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.FailSave != nil {
		return m.FailSave
	}

	var current int64
	if raw, ok := m.checkpoints[cp.ThreadID]; ok {
		var stored Checkpoint[S]
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		current = stored.Version
	}
	if current != cp.Version-1 {
		return fmt.Errorf("%w: thread %s at version %d, write expects %d",
			ErrVersionConflict, cp.ThreadID, current, cp.Version-1)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	m.checkpoints[cp.ThreadID] = data
	m.history[cp.ThreadID] = append(m.history[cp.ThreadID], Record(cp))
	return nil
}

// Load returns the latest checkpoint for threadID.
func (m *MemStore[S]) Load(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cp Checkpoint[S]
	if m.closed {
		return cp, ErrClosed
	}

	raw, ok := m.checkpoints[threadID]
	if !ok {
		return cp, ErrNotFound
	}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// History returns a copy of the thread's commit history.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	records := m.history[threadID]
	out := make([]StepRecord, len(records))
	copy(out, records)
	return out, nil
}

// Close marks the store closed.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
