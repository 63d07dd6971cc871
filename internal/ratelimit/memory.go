package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is an in-process Store. Counters are not shared between
// instances and do not survive restarts.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter

	// maxKeys bounds memory under a flood of distinct clients, 0 = unbounded
	maxKeys int

	sweepEvery time.Duration
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMaxKeys caps the number of live windows. New keys beyond the cap get
// ErrCapacity until expired windows are swept.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

// WithSweepInterval controls how often expired windows are evicted
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates the store and starts the background sweeper, which
// exits when ctx is cancelled.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters:   make(map[string]*counter),
		sweepEvery: time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sweepEvery > 0 {
		go s.sweepLoop(ctx)
	}
	return s
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if ok && now.Before(c.resetAt) {
		c.count++
		return c.count, c.resetAt, nil
	}

	if !ok && s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
		s.sweepLocked(now)
		if len(s.counters) >= s.maxKeys {
			return 0, time.Time{}, ErrCapacity
		}
	}

	c = &counter{count: 1, resetAt: now.Add(window)}
	s.counters[key] = c
	return c.count, c.resetAt, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of tracked windows, live or not yet swept
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sweepLocked(s.now())
			s.mu.Unlock()
		}
	}
}

// sweepLocked drops windows that have closed; callers hold mu
func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, k)
		}
	}
}
