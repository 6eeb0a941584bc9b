package confirm

import (
	"context"
	"sync"
)

// Action tells a Store what to do with an entry after Update inspected it.
type Action int

const (
	Keep Action = iota
	Remove
)

// Store keeps at most one Context per user.
type Store interface {
	// Put stores entry, replacing whatever the user had.
	Put(ctx context.Context, entry Context) error
	// Update hands fn exclusive access to the user's entry (nil when absent)
	// and applies the returned action before releasing it.
	Update(ctx context.Context, userID string, fn func(entry *Context) Action) error
	// Sweep removes every entry for which expired reports true.
	Sweep(ctx context.Context, expired func(Context) bool) (int, error)
}

// MemoryStore is a process-local Store. A positive maxEntries caps its size by
// evicting the oldest context on Put.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Context
	maxEntries int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]Context),
		maxEntries: maxEntries,
	}
}

func (s *MemoryStore) Put(_ context.Context, entry Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.UserID]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[entry.UserID] = entry
	return nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, fn func(entry *Context) Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Context
	if entry, ok := s.entries[userID]; ok {
		current = &entry
	}
	if fn(current) == Remove {
		delete(s.entries, userID)
	}
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, expired func(Context) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, entry := range s.entries {
		if expired(entry) {
			delete(s.entries, userID)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many contexts are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) evictOldestLocked() {
	var oldestID string
	first := true
	for userID, entry := range s.entries {
		if first || entry.CreatedAt.Before(s.entries[oldestID].CreatedAt) {
			oldestID = userID
			first = false
		}
	}
	if !first {
		delete(s.entries, oldestID)
	}
}
