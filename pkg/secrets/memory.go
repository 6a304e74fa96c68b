// Copyright 2026 fanjia1024
// In-memory secret store (tests and local runs)

package secrets

import (
	"context"
	"fmt"
	"sync"
)

type memoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore 创建内存 secret store，values 在创建时拷贝
func NewMemoryStore(values map[string]string) Store {
	m := &memoryStore{secrets: make(map[string]string, len(values))}
	for k, v := range values {
		m.secrets[k] = v
	}
	return m
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}
