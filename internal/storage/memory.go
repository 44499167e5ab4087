package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in process memory. Used for tests and for
// throwaway sessions.
type MemoryStorage struct {
	mu     sync.Mutex
	quota  int64
	values map[string][]byte
}

// NewMemoryStorage constructs an empty store. A quota of 0 disables the limit.
func NewMemoryStorage(quota int64) *MemoryStorage {
	return &MemoryStorage{quota: quota, values: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := checkQuota(m.quota, key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
