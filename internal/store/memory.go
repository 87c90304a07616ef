package store

import (
	"context"
	"sync"
)

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]string)}
}

func (m *MemoryStore) Save(_ context.Context, scope, key, value string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.scopes[scope]
	if !ok {
		values = make(map[string]string)
		m.scopes[scope] = values
	}
	values[key] = value
	return nil
}

func (m *MemoryStore) Load(_ context.Context, scope, key string) (string, bool, error) {
	if err := validate(scope, key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.scopes[scope][key]
	return v, ok, nil
}
