package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for local development and tests. It is
// not suitable for multi-instance deployments: entries do not survive
// the process and are not shared.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryWithClock returns an in-memory store using the given clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get returns the value for key. An entry past its expiry behaves as
// absent and is deleted.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !ent.expiresAt.IsZero() && !m.now().Before(ent.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return ent.value, true, nil
}

// Put stores value under key, overwriting any existing entry.
func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent := memoryEntry{value: value}
	if ttl > 0 {
		ent.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = ent
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Len reports the number of live entries, counting expired ones not yet
// evicted. Used by tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
