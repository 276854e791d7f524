package lock

import (
	"context"
	"sync"
	"time"
)

var _ Store = new(MemoryStore)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryStore keeps lock entries in process. It serves single node mode and
// tests; it gives no exclusion across processes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.expires.After(now) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if _, ok := m.live(key, now); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) CompareAndDelete(ctx context.Context, key string, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key, time.Now())
	if !ok || e.token != token {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryStore) CompareAndExpire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	e, ok := m.live(key, now)
	if !ok || e.token != token {
		return false, nil
	}
	e.expires = now.Add(ttl)
	m.entries[key] = e
	return true, nil
}
