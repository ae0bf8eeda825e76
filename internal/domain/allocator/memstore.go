package allocator

import (
	"context"
	"sync"

	"ventapos/internal/core/series"
)

// MemStore is an in-memory Store with real compare-and-swap semantics.
// Used by terminal-side tests and as a reference implementation of the
// Store contract; production runs the Postgres-backed store.
type MemStore struct {
	mu     sync.Mutex
	state  map[string]*series.Series
	failer func(op string, key series.Key) error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{state: make(map[string]*series.Series)}
}

// FailWith installs a fault hook invoked before every operation.
// op is "get" or "cas". A non-nil return aborts the operation with that error.
func (m *MemStore) FailWith(fn func(op string, key series.Key) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failer = fn
}

func (m *MemStore) Get(ctx context.Context, key series.Key) (*series.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failer != nil {
		if err := m.failer("get", key); err != nil {
			return nil, err
		}
	}

	cur, ok := m.state[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (m *MemStore) CompareAndSwap(ctx context.Context, key series.Key, label string, expected, next int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failer != nil {
		if err := m.failer("cas", key); err != nil {
			return false, err
		}
	}

	cur, ok := m.state[key.String()]
	if !ok {
		if expected != 0 {
			return false, nil
		}
		m.state[key.String()] = &series.Series{Key: key, Label: label, LastNumber: next}
		return true, nil
	}
	if cur.LastNumber != expected {
		return false, nil
	}
	cur.LastNumber = next
	return true, nil
}

// Current returns the stored last number for a key, 0 when absent.
func (m *MemStore) Current(key series.Key) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.state[key.String()]; ok {
		return cur.LastNumber
	}
	return 0
}
