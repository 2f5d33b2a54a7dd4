package counter

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process [Store]. It only coordinates callers inside
// one process, so it fits tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty store reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

// live returns the entry for key, evicting it first if it expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// IncrementWindow increments key and sets its expiry under one lock.
func (s *MemoryStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		return 0, 0, errors.New("counter: window must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.count++
	if e.expiresAt.IsZero() {
		e.expiresAt = now.Add(window)
	}
	return e.count, e.expiresAt.Sub(now), nil
}

// Get returns the live value of key.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, false, nil
	}
	return e.count, true, nil
}

// TTL returns the remaining lifetime of key.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}
