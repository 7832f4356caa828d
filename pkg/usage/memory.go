package usage

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Key]int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[Key]int64)}
}

// TryIncrement implements Store
func (s *MemoryStore) TryIncrement(ctx context.Context, key Key, limit int64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, unavailable("memory reserve", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.counters[key]
	if current+1 > limit {
		return Result{Accepted: false, Count: current}, nil
	}
	s.counters[key] = current + 1
	return Result{Accepted: true, Count: current + 1}, nil
}

// Peek implements Store
func (s *MemoryStore) Peek(ctx context.Context, key Key) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("memory peek", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

// DeleteBefore drops counters for days strictly before day
func (s *MemoryStore) DeleteBefore(ctx context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k := range s.counters {
		if k.Day < day {
			delete(s.counters, k)
			removed++
		}
	}
	return removed, nil
}
