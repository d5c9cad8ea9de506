package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Expired records are dropped
// lazily on read and eagerly by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl selects
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		ttl:     ttlOrDefault(ttl),
		now:     time.Now,
	}
}

// FindByKey implements Store.
func (s *MemoryStore) FindByKey(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()

	if !ok {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if record.ExpiredAt(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Upsert may have
		// replaced the record.
		if current, ok := s.records[key]; ok && current.ExpiredAt(s.now()) {
			delete(s.records, key)
		}
		s.mu.Unlock()
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	copied := record.clone()
	return &copied, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, record Record) error {
	if err := validate(record); err != nil {
		CacheErrors.WithLabelValues("upsert").Inc()
		return err
	}

	now := s.now()
	stored := record.clone()
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.records[record.Key] = stored
	s.mu.Unlock()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.mu.Unlock()
	return nil
}

// Sweep removes expired records and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if record.ExpiredAt(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len returns the number of records held, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
