package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Suitable for a single
// instance only.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Counter

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore returns a store that, once per window, drops keys whose
// window has ended. A non-positive window disables sweeping.
func NewMemoryStore(window time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]Counter),
		stop:    make(chan struct{}),
	}
	if window > 0 {
		go s.sweepLoop(window)
	}
	return s
}

// Incr counts one hit for key, starting a new window once the old one is over.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok || expired(c.WindowStart, now, window) {
		c = Counter{WindowStart: now}
	}
	c.Count++
	s.entries[key] = c
	return c, nil
}

// Sweep drops keys whose window ended before now.
func (s *MemoryStore) Sweep(window time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.entries {
		if expired(c.WindowStart, now, window) {
			delete(s.entries, key)
		}
	}
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweepLoop(window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Sweep(window, now)
		}
	}
}
