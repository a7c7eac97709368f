package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// Memory is a process-local cache for single-replica deployments. Expired
// entries are dropped on access and on every sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns a copy of the cached value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

// Set stores a copy of val. A non-positive ttl stores nothing.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{val: append([]byte(nil), val...), expiresAt: m.now().Add(ttl)}
	return nil
}

// DeletePrefix removes matching keys and sweeps expired ones.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	deleted := 0
	for key, e := range m.entries {
		switch {
		case strings.HasPrefix(key, prefix):
			delete(m.entries, key)
			deleted++
		case !now.Before(e.expiresAt):
			delete(m.entries, key)
		}
	}
	return deleted, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
