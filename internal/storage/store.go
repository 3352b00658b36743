// Package storage holds the ephemeral per-checkout key/value state: credit UI
// preferences, the last credit decision and cached slot data. Every operation
// is best-effort. An unavailable or corrupt store reads as "no stored state".
package storage

import (
	"context"
	"sync"
)

// Store is the capability the checkout engine uses for volatile state.
// Implementations never return errors; failures are logged and swallowed.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Remove(ctx context.Context, key string)
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStore) Set(_ context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *MemoryStore) Remove(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// NoopStore remembers nothing
type NoopStore struct{}

func (NoopStore) Get(context.Context, string) (string, bool) { return "", false }
func (NoopStore) Set(context.Context, string, string)        {}
func (NoopStore) Remove(context.Context, string)             {}

// scopedStore prefixes every key
type scopedStore struct {
	inner  Store
	prefix string
}

// Scoped namespaces keys of inner under prefix. A nil inner becomes a NoopStore.
func Scoped(inner Store, prefix string) Store {
	if inner == nil {
		inner = NoopStore{}
	}
	return &scopedStore{inner: inner, prefix: prefix}
}

func (s *scopedStore) Get(ctx context.Context, key string) (string, bool) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *scopedStore) Set(ctx context.Context, key, value string) {
	s.inner.Set(ctx, s.prefix+key, value)
}

func (s *scopedStore) Remove(ctx context.Context, key string) {
	s.inner.Remove(ctx, s.prefix+key)
}
