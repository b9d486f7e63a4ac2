package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKVStore is an in-process core.KVStore. It backs local runs and
// tests, and loses everything on exit.
type MemoryKVStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
}

// NewMemoryKVStore returns an empty store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryKVStore) entry(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if ok && e.expired(time.Now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (m *MemoryKVStore) put(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
}

// Get implements core.KVStore.
func (m *MemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, core.ErrClosed
	}
	e, ok := m.entry(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements core.KVStore.
func (m *MemoryKVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return core.ErrClosed
	}
	m.put(key, value, ttl)
	return nil
}

// Delete implements core.KVStore.
func (m *MemoryKVStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return core.ErrClosed
	}
	delete(m.entries, key)
	return nil
}

// Exists implements core.KVStore.
func (m *MemoryKVStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, core.ErrClosed
	}
	_, ok := m.entry(key)
	return ok, nil
}

// BatchSet implements core.KVStore. The batch is applied atomically.
func (m *MemoryKVStore) BatchSet(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return core.ErrClosed
	}
	for key, value := range items {
		m.put(key, value, ttl)
	}
	return nil
}

// Keys returns the live keys.
func (m *MemoryKVStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		if _, ok := m.entry(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close implements core.KVStore.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MemoryKVStoreFactory creates in-memory KV stores.
type MemoryKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

// Validate accepts any configuration of type "memory".
func (f *MemoryKVStoreFactory) Validate(config registry.KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create returns a new empty store.
func (f *MemoryKVStoreFactory) Create(context.Context, registry.KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
}
