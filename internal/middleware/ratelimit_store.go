package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/pongarena/authd/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// MemoryRateStore provides process-local rate limiting. It is concurrency-safe.
type MemoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	tick  *time.Ticker
	done  chan struct{}
	stop  sync.Once
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store. It is suitable for
// single-instance deployments and tests; multi-worker deployments should use
// NewSharedRateStore so all workers see the same counters. Call Stop when the
// store is no longer needed.
func NewMemoryRateStore() *MemoryRateStore {
	store := &MemoryRateStore{
		data:  make(map[string]*memoryCounter),
		tick:  time.NewTicker(time.Minute),
		done:  make(chan struct{}),
		clock: time.Now,
	}

	go store.cleanupLoop()
	return store
}

// Stop terminates the background cleanup goroutine. Safe to call more than once.
func (s *MemoryRateStore) Stop() {
	s.stop.Do(func() {
		s.tick.Stop()
		close(s.done)
	})
}

func (s *MemoryRateStore) cleanupLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.tick.C:
		}

		now := s.clock()
		s.mu.Lock()
		for key, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, key)
			}
		}
		s.mu.Unlock()
	}
}

func (s *MemoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{
			count:     0,
			windowEnd: now.Add(window),
		}
		s.data[key] = counter
	}

	counter.count++

	return counter.count, time.Until(counter.windowEnd), nil
}

// storeRateStore implements RateStore on top of the shared cache store, so
// counters survive restarts and are visible to every worker.
type storeRateStore struct {
	store cache.Store
}

// NewSharedRateStore wraps a cache store (Redis or database backed) in a RateStore.
func NewSharedRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
