package store

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// MemoryStore is an in-process KVStore. TTLs are accepted but not enforced.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) SetValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	return m.SetValue(ctx, key, value)
}

func (m *MemoryStore) GetValue(ctx context.Context, key string) (ValkeyResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return ValkeyResponse{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return ValkeyResponse{Message: ValkeyValue{Value: value}}, nil
}

// ListKeys matches with glob semantics close enough to valkey's for the
// prefix patterns used in this module.
func (m *MemoryStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for key := range m.data {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) DeleteValue(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
