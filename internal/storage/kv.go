package storage

import (
	"context"
	"sync"
)

// Keys the engine reads and writes in the injected store.
const (
	KeyModelPreference = "model-preference"
	KeyBriefingDate    = "briefing-date"
	KeyBriefingText    = "briefing-text"
)

// KV is the persisted key-value collaborator for preferences and the daily briefing.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryKV keeps values in process; used when no external store is reachable.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}
