package market

import (
	"sync"
	"time"
)

// entry is one cached value plus the instant it was stored.
type entry[V any] struct {
	value       V
	refreshedAt time.Time
	ttl         time.Duration
}

func (e entry[V]) fresh(now time.Time) bool {
	return now.Sub(e.refreshedAt) < e.ttl
}

// store holds the TTL entries and cooldown state for one cache, plus a lock
// per key so that at most one fetch per key is in flight.
type store[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	entries  map[K]entry[V]
	cooldown *CooldownState[K]

	locksMu sync.Mutex
	locks   map[K]*sync.Mutex
}

func newStore[K comparable, V any](ttl, cooldown time.Duration, now func() time.Time) *store[K, V] {
	if now == nil {
		now = time.Now
	}
	return &store[K, V]{
		ttl:      ttl,
		now:      now,
		entries:  make(map[K]entry[V]),
		cooldown: NewCooldownState[K](cooldown),
		locks:    make(map[K]*sync.Mutex),
	}
}

// fresh returns the cached value when it is younger than the TTL.
func (s *store[K, V]) fresh(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !e.fresh(s.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// stale returns the cached value regardless of age.
func (s *store[K, V]) stale(key K) (V, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e.value, e.refreshedAt, ok
}

// put replaces the entry and arms the cooldown in one step.
func (s *store[K, V]) put(key K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = entry[V]{value: v, refreshedAt: now, ttl: s.ttl}
	s.cooldown.Mark(key, now)
}

func (s *store[K, V]) cooldownRemaining(key K) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cooldown.Remaining(key, s.now())
}

// lock returns the fetch lock of key.
func (s *store[K, V]) lock(key K) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
