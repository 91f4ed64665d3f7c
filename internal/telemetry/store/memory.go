package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryKV is a process-local KV. It does not survive restarts; used in tests and when no store is configured.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
	// PutErr, when set, is returned by every Put. Lets tests exercise persistence failures.
	PutErr error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *MemoryKV) Close() error { return nil }
