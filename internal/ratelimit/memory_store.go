package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a process-local CounterStore used when Redis is unavailable
// at boot and as the deterministic store in tests. Counters it holds are not
// shared across instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	nowF     func() time.Time
}

// NewMemoryStore returns an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		nowF:     time.Now,
	}
}

// Incr increments the counter for key, starting a fresh window when none is
// live.
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &memoryCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.resetAt, nil
}

// Reset deletes the counter for key.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Sweep drops expired windows. Called periodically by the server so an
// instance running on the memory fallback does not grow without bound.
func (s *MemoryStore) Sweep() {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, k)
		}
	}
}
