package storage

import (
	"sync"
	"time"
)

// MemoryStore implements Store in memory, bounded to maxRows entries.
// When full, the oldest entry is dropped.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string // insertion order, oldest first
	maxRows int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(maxRows int) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		maxRows: maxRows,
	}
}

// Put stores an entry.
func (s *MemoryStore) Put(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		s.removeFromOrder(e.ID)
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)

	for len(s.order) > s.maxRows {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	return nil
}

func (s *MemoryStore) removeFromOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Get returns live entries in request order.
func (s *MemoryStore) Get(ids []string, now time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// List returns live entries, newest first.
func (s *MemoryStore) List(opts ListOptions, now time.Time) ([]Entry, error) {
	opts = normalizeList(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Entry{}
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		e := s.entries[s.order[i]]
		if e.Expired(now) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// DeleteExpired removes expired entries.
func (s *MemoryStore) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	deleted := 0
	for _, id := range s.order {
		if s.entries[id].Expired(now) {
			delete(s.entries, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
