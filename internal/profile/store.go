package profile

import "sync"

// Store maps namespaced request keys to records for the lifetime of a page
// session. It never evicts.
type Store struct {
	prefix string

	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty store whose keys are "<prefix>-row-<id>".
func NewStore(prefix string) *Store {
	return &Store{
		prefix:  prefix,
		records: make(map[string]*Record),
	}
}

// Key returns the namespaced key for a request id. Summary rows use it as
// their element id.
func (s *Store) Key(id string) string {
	return s.prefix + "-row-" + id
}

// Put stores rec. Records are immutable, so a second Put for the same id is
// rejected and reported as false.
func (s *Store) Put(rec *Record) bool {
	key := s.Key(rec.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return false
	}
	s.records[key] = rec
	return true
}

// Get looks a record up by request id.
func (s *Store) Get(id string) (*Record, bool) {
	return s.GetByKey(s.Key(id))
}

// GetByKey looks a record up by its namespaced key.
func (s *Store) GetByKey(key string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
