package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Snapshot is the current market state of one coin.
type Snapshot struct {
	Symbol string  `json:"symbol"`
	Source string  `json:"source"`
	Price  float64 `json:"price"`
	// Change24hPct is nil when the upstream reports no 24h change.
	Change24hPct *float64 `json:"change_24h_pct,omitempty"`
	// ChangeApprox is set when Change24hPct is derived from the 24h VWAP
	// instead of a prior-close lookup.
	ChangeApprox      bool      `json:"change_approx,omitempty"`
	Volume24h         *float64  `json:"volume_24h,omitempty"`
	MarketCap         *float64  `json:"market_cap,omitempty"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// SnapshotCache memoizes market snapshots per symbol with a TTL and gates
// manual refreshes with a cooldown, like Cache does for series.
type SnapshotCache struct {
	sources SnapshotResolver
	store   *store[string, *Snapshot]
	logger  zerolog.Logger
}

// NewSnapshotCache creates a snapshot cache.
func NewSnapshotCache(sources SnapshotResolver, opts Options) *SnapshotCache {
	opts = opts.withDefaults()
	return &SnapshotCache{
		sources: sources,
		store:   newStore[string, *Snapshot](opts.TTL, opts.Cooldown, opts.Now),
		logger:  log.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Get returns the cached snapshot while it is fresh, otherwise fetches it.
func (c *SnapshotCache) Get(ctx context.Context, symbol string) (*Snapshot, error) {
	sym := NormalizeSymbol(symbol)
	if s, ok := c.store.fresh(sym); ok {
		return s, nil
	}

	lock := c.store.lock(sym)
	lock.Lock()
	defer lock.Unlock()

	if s, ok := c.store.fresh(sym); ok {
		return s, nil
	}
	return c.fetchLocked(ctx, sym)
}

// RefreshIfAllowed refetches the snapshot unless the cooldown is running.
// The boolean reports whether a fetch was attempted.
func (c *SnapshotCache) RefreshIfAllowed(ctx context.Context, symbol string) (bool, error) {
	sym := NormalizeSymbol(symbol)
	if c.store.cooldownRemaining(sym) > 0 {
		return false, nil
	}

	lock := c.store.lock(sym)
	lock.Lock()
	defer lock.Unlock()

	if c.store.cooldownRemaining(sym) > 0 {
		return false, nil
	}
	_, err := c.fetchLocked(ctx, sym)
	return true, err
}

// Stale returns the last fetched snapshot regardless of age.
func (c *SnapshotCache) Stale(symbol string) (*Snapshot, bool) {
	s, _, ok := c.store.stale(NormalizeSymbol(symbol))
	return s, ok
}

// CooldownRemaining returns the wait before the next manual refresh.
func (c *SnapshotCache) CooldownRemaining(symbol string) time.Duration {
	return c.store.cooldownRemaining(NormalizeSymbol(symbol))
}

func (c *SnapshotCache) fetchLocked(ctx context.Context, sym string) (*Snapshot, error) {
	src, err := c.sources.SnapshotSource(sym)
	if err != nil {
		return nil, err
	}

	snap, err := src.FetchSnapshot(ctx, sym)
	if err != nil {
		err = Classify(src.Name(), err)
		c.logger.Warn().Err(err).Str("symbol", sym).Str("source", src.Name()).Msg("Snapshot fetch failed")
		return nil, err
	}

	c.store.put(sym, snap)
	c.logger.Debug().Str("symbol", sym).Float64("price", snap.Price).Msg("Snapshot refreshed")
	return snap, nil
}
