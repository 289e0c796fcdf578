package cache

import (
	"context"
	"sync"
)

type memoryKey struct {
	ns  Namespace
	key string
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[memoryKey]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[memoryKey]Entry)}
}

func (m *MemoryBackend) Load(_ context.Context, ns Namespace, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[memoryKey{ns, key}]
	return e, ok, nil
}

func (m *MemoryBackend) Save(_ context.Context, ns Namespace, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoryKey{ns, key}] = e
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memoryKey{ns, key})
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[memoryKey]Entry)
	return nil
}

func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
