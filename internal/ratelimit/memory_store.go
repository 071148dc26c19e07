package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// MemoryStore keeps buckets in process memory. Increment-and-compare happens
// under one mutex so concurrent hits on a key cannot slip past the limit.
// Expired buckets are swept at most once per sweepEvery.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]*memoryBucket
	lastSweep  time.Time
	sweepEvery time.Duration
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:    make(map[string]*memoryBucket),
		sweepEvery: time.Minute,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowStart.Add(b.window)) {
		b = &memoryBucket{windowStart: now, window: window}
		s.buckets[key] = b
	}
	b.count++
	return Bucket{Key: key, WindowStart: b.windowStart, Count: b.count}, nil
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for key, b := range s.buckets {
		if !now.Before(b.windowStart.Add(b.window)) {
			delete(s.buckets, key)
		}
	}
}
