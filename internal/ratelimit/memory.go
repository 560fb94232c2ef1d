package ratelimit

import (
	"context"
	"path"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type window struct {
	hits   []time.Time
	length time.Duration
}

// MemoryStore keeps windows in process memory. Suitable for tests and single
// instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, limit int, length time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)

	w, ok := s.windows[key]
	if !ok {
		w = &window{length: length}
		s.windows[key] = w
	}
	w.length = length
	w.hits = prune(w.hits, now.Add(-length))

	if len(w.hits) >= limit {
		return Result{
			Limited:    true,
			RetryAfter: w.hits[0].Add(length).Sub(now),
		}, nil
	}

	w.hits = append(w.hits, now)
	return Result{Remaining: limit - len(w.hits)}, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.windows {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.windows, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// sweep drops keys whose newest hit is outside their window. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, w := range s.windows {
		w.hits = prune(w.hits, now.Add(-w.length))
		if len(w.hits) == 0 {
			delete(s.windows, key)
		}
	}
}

// prune drops hits at or before cutoff. hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
