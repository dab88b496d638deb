// Package cache holds the console's persisted presentation state: the last
// scan response and the auth token pair, stored as raw values under fixed
// keys, the way a browser keeps them in local storage.
package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Backend when a key holds no value.
var ErrNotFound = errors.New("cache: key not found")

// Backend is a byte-oriented key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// initializer is implemented by backends that need schema setup before first use.
type initializer interface {
	Init(ctx context.Context) error
}

// Memory is an in-process Backend, used by tests and the "memory" driver.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
