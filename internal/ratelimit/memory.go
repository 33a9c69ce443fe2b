package ratelimit

import (
	"context"
	"sync"
	"time"
)

// gcEvery is how many hits pass between sweeps of expired windows.
const gcEvery = 5000

// MemoryStore keeps windows in process memory. Hits are serialized by a
// mutex; expired windows are evicted opportunistically.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
	hits    uint64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sweep before touching key so a stale entry is not refreshed.
	s.hits++
	if s.hits >= gcEvery {
		for k, w := range s.windows {
			if now.Sub(w.Start) >= window {
				delete(s.windows, k)
			}
		}
		s.hits = 0
	}

	w, ok := s.windows[key]
	w = advance(w, ok, now, window)
	s.windows[key] = w
	return w, nil
}

// Len reports the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
