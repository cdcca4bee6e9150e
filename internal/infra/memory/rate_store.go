package memory

import (
	"context"
	"sync"
	"time"
)

// RateStore counts attempts per key in fixed windows held in process memory.
type RateStore struct {
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func NewRateStore(window time.Duration) *RateStore {
	return NewRateStoreWithClock(window, time.Now)
}

// NewRateStoreWithClock is used by tests to control window rollover.
func NewRateStoreWithClock(window time.Duration, clock func() time.Time) *RateStore {
	return &RateStore{
		window:  window,
		clock:   clock,
		windows: make(map[string]*rateWindow),
	}
}

func (s *RateStore) Hit(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(s.window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (s *RateStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Cleanup drops windows that have rolled over.
func (s *RateStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

// Len returns the number of tracked keys.
func (s *RateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
