package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store persists intent reservations. PutIfAbsent is the contract's
// heart: it must be atomic, returning the pre-existing record when the
// key is already held. There is deliberately no Delete — reservations
// only leave via TTL expiry.
type Store interface {
	// PutIfAbsent stores rec under rec.Key unless the key is live.
	// Returns the record now held under the key and whether this call
	// created it.
	PutIfAbsent(ctx context.Context, rec Record, ttl time.Duration) (Record, bool, error)

	// Get fetches a live record by key
	Get(ctx context.Context, key string) (Record, bool, error)

	// Sweep drops expired records, returning how many were removed.
	// Stores with native expiry return (0, nil).
	Sweep(ctx context.Context) (int, error)
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is the in-process store used by backtests and tests
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, rec Record, ttl time.Duration) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[rec.Key]; ok && e.expiresAt.After(now) {
		return e.rec, false, nil
	}
	s.entries[rec.Key] = memoryEntry{rec: rec, expiresAt: now.Add(ttl)}
	return rec, true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(s.now()) {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports live entries, for tests
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	now := s.now()
	for _, e := range s.entries {
		if e.expiresAt.After(now) {
			n++
		}
	}
	return n
}
