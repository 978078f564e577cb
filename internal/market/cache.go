package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults used when Options leave a field unset.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCooldown = 5 * time.Minute
)

// NoCooldown disables a cooldown. A zero Cooldown means DefaultCooldown.
const NoCooldown time.Duration = -1

// Options configures a Cache or SnapshotCache.
type Options struct {
	// TTL is how long a fetched value is served without touching the network.
	TTL time.Duration
	// Cooldown is the minimum gap between manual refreshes of one key.
	// Zero selects DefaultCooldown; a negative value disables it.
	Cooldown time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	} else if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Key identifies one cached series.
type Key struct {
	Symbol string
	Window string
}

func (k Key) String() string {
	return k.Symbol + "/" + k.Window
}

// Cache serves normalized series per (symbol, window) with a TTL, fetching
// from the resolved source when the entry is missing or stale. Each session
// owns its own Cache.
//
// An entry is only ever replaced as a whole after a successful fetch; a failed
// fetch leaves the previous series in place. Fetches for the same key are
// serialized, so at most one is in flight.
type Cache struct {
	sources Resolver
	store   *store[Key, *Series]
	logger  zerolog.Logger
}

// NewCache creates a Cache reading from sources.
func NewCache(sources Resolver, opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		sources: sources,
		store:   newStore[Key, *Series](opts.TTL, opts.Cooldown, opts.Now),
		logger:  log.With().Str("component", "market_cache").Logger(),
	}
}

// Get returns the cached series while it is younger than the TTL, without any
// network access. Otherwise it fetches a new one.
func (c *Cache) Get(ctx context.Context, symbol, window string) (*Series, error) {
	key, w, err := c.resolveKey(symbol, window)
	if err != nil {
		return nil, err
	}
	if s, ok := c.store.fresh(key); ok {
		return s, nil
	}

	lock := c.store.lock(key)
	lock.Lock()
	defer lock.Unlock()

	// A fetch that finished while we waited for the lock already did the work.
	if s, ok := c.store.fresh(key); ok {
		return s, nil
	}
	return c.fetchLocked(ctx, key, w)
}

// Fetch unconditionally fetches, normalizes and stores a new series.
func (c *Cache) Fetch(ctx context.Context, symbol, window string) (*Series, error) {
	key, w, err := c.resolveKey(symbol, window)
	if err != nil {
		return nil, err
	}

	lock := c.store.lock(key)
	lock.Lock()
	defer lock.Unlock()

	return c.fetchLocked(ctx, key, w)
}

// RefreshIfAllowed fetches a new series unless the key's cooldown is running.
// The boolean reports whether a fetch was attempted; a refused refresh makes
// no network call.
func (c *Cache) RefreshIfAllowed(ctx context.Context, symbol, window string) (bool, error) {
	key, w, err := c.resolveKey(symbol, window)
	if err != nil {
		return false, err
	}
	if c.store.cooldownRemaining(key) > 0 {
		return false, nil
	}

	lock := c.store.lock(key)
	lock.Lock()
	defer lock.Unlock()

	if c.store.cooldownRemaining(key) > 0 {
		return false, nil
	}
	_, err = c.fetchLocked(ctx, key, w)
	return true, err
}

// RefreshAll refreshes every supported window of symbol whose cooldown allows
// it and returns how many were refreshed. It stops at the first failure;
// windows refreshed before it keep their new series.
func (c *Cache) RefreshAll(ctx context.Context, symbol string) (int, error) {
	refreshed := 0
	for _, w := range windows {
		ok, err := c.RefreshIfAllowed(ctx, symbol, w.Name)
		if err != nil {
			return refreshed, err
		}
		if ok {
			refreshed++
		}
	}
	return refreshed, nil
}

// CooldownPeriod returns the gap enforced between refreshes of one key.
func (c *Cache) CooldownPeriod() time.Duration {
	return c.store.cooldown.Period()
}

// Stale returns the last good series for the key regardless of its age.
func (c *Cache) Stale(symbol, window string) (*Series, bool) {
	key, _, err := c.resolveKey(symbol, window)
	if err != nil {
		return nil, false
	}
	s, _, ok := c.store.stale(key)
	return s, ok
}

// RefreshedAt returns when the key was last stored.
func (c *Cache) RefreshedAt(symbol, window string) (time.Time, bool) {
	key, _, err := c.resolveKey(symbol, window)
	if err != nil {
		return time.Time{}, false
	}
	_, at, ok := c.store.stale(key)
	return at, ok
}

// CooldownRemaining returns the wait before the key may be refreshed manually.
func (c *Cache) CooldownRemaining(symbol, window string) time.Duration {
	key, _, err := c.resolveKey(symbol, window)
	if err != nil {
		return 0
	}
	return c.store.cooldownRemaining(key)
}

func (c *Cache) resolveKey(symbol, window string) (Key, Window, error) {
	w, err := ParseWindow(window)
	if err != nil {
		return Key{}, Window{}, err
	}
	return Key{Symbol: NormalizeSymbol(symbol), Window: w.Name}, w, nil
}

// fetchLocked must be called with the key's fetch lock held.
func (c *Cache) fetchLocked(ctx context.Context, key Key, w Window) (*Series, error) {
	src, err := c.sources.CandleSource(key.Symbol)
	if err != nil {
		return nil, err
	}

	started := c.store.now()
	rows, err := src.FetchCandles(ctx, key.Symbol, w)
	if err != nil {
		err = Classify(src.Name(), err)
		c.logger.Warn().Err(err).Str("key", key.String()).Str("source", src.Name()).Msg("Fetch failed, keeping previous series")
		return nil, err
	}

	series, err := Normalize(key.Symbol, w, src.Name(), started, rows)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Int("rows", len(rows)).Msg("Normalization failed, keeping previous series")
		return nil, err
	}

	c.store.put(key, series)
	c.logger.Debug().
		Str("key", key.String()).
		Str("source", src.Name()).
		Int("candles", series.Len()).
		Int("dropped", series.Dropped).
		Dur("took", c.store.now().Sub(started)).
		Msg("Series refreshed")
	return series, nil
}
