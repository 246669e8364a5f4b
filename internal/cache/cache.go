package cache

import (
	"context"
	"sync"
	"time"
)

// Store provides get/set-with-TTL semantics over the shared cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type memoryEntry struct {
	value    string
	expireAt time.Time
}

// Memory is an in-process Store used when Redis is unavailable.
type Memory struct {
	nowFn func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory constructs a Memory store.
func NewMemory(nowFn func() time.Time) *Memory {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{
		nowFn:   nowFn,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the value for key if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if m.nowFn().After(entry.expireAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// SetEx stores value under key with a TTL.
func (m *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expireAt: m.nowFn().Add(ttl)}
	return nil
}

// Del removes key from the store.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
