package querycache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Entries not written for longer
// than retention are dropped; zero retention keeps them forever. Writes
// sweep the whole map at most once per retention period, so keys that
// are never read again still go away.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]Entry
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   map[string]Entry{},
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryStore) expired(entry Entry) bool {
	return s.retention > 0 && s.now().Sub(entry.FetchedAt) > s.retention
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if s.expired(entry) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retention > 0 && s.now().Sub(s.lastSweep) >= s.retention {
		s.sweepLocked()
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) MarkStale(_ context.Context, resource string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, entry := range s.entries {
		if !belongsTo(key, resource) {
			continue
		}
		entry.Stale = true
		s.entries[key] = entry
		n++
	}
	return n, nil
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *MemoryStore) sweepLocked() int {
	s.lastSweep = s.now()
	n := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
