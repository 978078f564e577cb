package market

import "time"

// CooldownState remembers the last action per key and gates the next one
// until the cooldown period has passed. It is not safe for concurrent use;
// owners guard it with their own lock.
type CooldownState[K comparable] struct {
	period time.Duration
	last   map[K]time.Time
}

// NewCooldownState creates a cooldown gate with the given period.
func NewCooldownState[K comparable](period time.Duration) *CooldownState[K] {
	return &CooldownState[K]{
		period: period,
		last:   make(map[K]time.Time),
	}
}

// Period returns the configured cooldown period.
func (c *CooldownState[K]) Period() time.Duration {
	return c.period
}

// Remaining returns how long key must still wait at now. Zero means allowed.
func (c *CooldownState[K]) Remaining(key K, now time.Time) time.Duration {
	last, ok := c.last[key]
	if !ok {
		return 0
	}
	left := c.period - now.Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// Allowed reports whether an action for key may run at now.
func (c *CooldownState[K]) Allowed(key K, now time.Time) bool {
	return c.Remaining(key, now) == 0
}

// Mark records an action for key at now.
func (c *CooldownState[K]) Mark(key K, now time.Time) {
	c.last[key] = now
}

// LastAction returns the instant of the last recorded action for key.
func (c *CooldownState[K]) LastAction(key K) (time.Time, bool) {
	t, ok := c.last[key]
	return t, ok
}
