// Package session holds the per-user dashboard context: the selected coin and
// window, the user's own market-data caches, prediction cooldowns and the
// prediction history.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Alias1177/CoinDash/internal/api/predictor"
	"github.com/Alias1177/CoinDash/internal/calculate"
	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/market"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures the caches and gates of every session.
type Options struct {
	HistoryTTL      time.Duration
	SnapshotTTL     time.Duration
	RefreshCooldown time.Duration
	PredictCooldown time.Duration
	// HistoryLimit caps the prediction history; the oldest entries go first.
	HistoryLimit int
	IdleTTL      time.Duration
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PredictCooldown == 0 {
		o.PredictCooldown = 5 * time.Minute
	} else if o.PredictCooldown < 0 {
		o.PredictCooldown = 0
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CooldownError reports an action refused because its cooldown is running.
type CooldownError struct {
	Action    string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s available again in %s", market.ErrCooldown, e.Action, e.Remaining.Round(time.Second))
}

// Unwrap makes errors.Is(err, market.ErrCooldown) hold.
func (e *CooldownError) Unwrap() error {
	return market.ErrCooldown
}

// HistoryView is a series lookup result. On a failed refresh Series holds the
// last good series (Stale) and Err the failure.
type HistoryView struct {
	Series      *market.Series
	Stale       bool
	Err         error
	RefreshedAt time.Time
	Cooldown    time.Duration
}

// SnapshotView is a snapshot lookup result, with the same stale semantics.
type SnapshotView struct {
	Snapshot *market.Snapshot
	Stale    bool
	Err      error
}

// RefreshResult reports a manual refresh.
type RefreshResult struct {
	Refreshed bool
	// Remaining is the cooldown left when the refresh was refused.
	Remaining time.Duration
}

// PredictionRecord is one successful prediction kept in the history.
type PredictionRecord struct {
	Prediction *predictor.Prediction
	Preset     features.Preset
	Features   *features.Set
	Reference  float64
	Delta      calculate.Delta
}

// Session is one user's dashboard state. All methods are safe for concurrent
// use; the actions of one session run one at a time.
type Session struct {
	ID int64

	mu        sync.Mutex
	catalog   *Catalog
	opts      Options
	history   *market.Cache
	snapshots *market.SnapshotCache
	coin      string
	window    string
	predictCD *market.CooldownState[string]
	panels    map[string]*PredictionRecord
	records   []*PredictionRecord
	logger    zerolog.Logger

	// lastActivity is guarded by the owning Manager.
	lastActivity time.Time
}

// New creates a session that starts on the first catalog coin.
func New(id int64, catalog *Catalog, opts Options) *Session {
	opts = opts.withDefaults()
	first, _ := catalog.Coin(catalog.order[0])

	return &Session{
		ID:      id,
		catalog: catalog,
		opts:    opts,
		history: market.NewCache(catalog.candles, market.Options{
			TTL:      opts.HistoryTTL,
			Cooldown: opts.RefreshCooldown,
			Now:      opts.Now,
		}),
		snapshots: market.NewSnapshotCache(catalog.snapshots, market.Options{
			TTL:      opts.SnapshotTTL,
			Cooldown: opts.RefreshCooldown,
			Now:      opts.Now,
		}),
		coin:         first.Symbol,
		window:       first.DefaultWindow,
		predictCD:    market.NewCooldownState[string](opts.PredictCooldown),
		panels:       make(map[string]*PredictionRecord),
		logger:       log.With().Str("component", "session").Int64("session", id).Logger(),
		lastActivity: opts.Now(),
	}
}

// Selection returns the selected coin and window.
func (s *Session) Selection() (Coin, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coin, _ := s.catalog.Coin(s.coin)
	return coin, s.window
}

// SelectCoin switches to symbol and resets the window to the coin's default.
func (s *Session) SelectCoin(symbol string) (Coin, error) {
	coin, err := s.catalog.Coin(symbol)
	if err != nil {
		return Coin{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.coin = coin.Symbol
	s.window = coin.DefaultWindow
	return coin, nil
}

// SelectWindow switches the window of the selected coin.
func (s *Session) SelectWindow(name string) (market.Window, error) {
	w, err := market.ParseWindow(name)
	if err != nil {
		return market.Window{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = w.Name
	return w, nil
}

// History returns the series of the selection, fetching it when the cached
// one expired. A failed fetch falls back to the last good series.
func (s *Session) History(ctx context.Context) HistoryView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.historyLocked(ctx, s.coin, s.window)
}

func (s *Session) historyLocked(ctx context.Context, symbol, window string) HistoryView {
	view := HistoryView{}
	series, err := s.history.Get(ctx, symbol, window)
	if err != nil {
		view.Err = err
		if stale, ok := s.history.Stale(symbol, window); ok && !errors.Is(err, market.ErrValidation) {
			series = stale
			view.Stale = true
		}
	}
	view.Series = series
	view.RefreshedAt, _ = s.history.RefreshedAt(symbol, window)
	view.Cooldown = s.history.CooldownRemaining(symbol, window)
	return view
}

// Snapshot returns the market snapshot of the selected coin.
func (s *Session) Snapshot(ctx context.Context) SnapshotView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked(ctx)
}

func (s *Session) snapshotLocked(ctx context.Context) SnapshotView {
	view := SnapshotView{}
	snap, err := s.snapshots.Get(ctx, s.coin)
	if err != nil {
		view.Err = err
		if stale, ok := s.snapshots.Stale(s.coin); ok {
			snap = stale
			view.Stale = true
		}
	}
	view.Snapshot = snap
	return view
}

// Refresh refetches the series of the selection and the coin snapshot unless
// the refresh cooldown is running. A refused refresh touches no upstream.
func (s *Session) Refresh(ctx context.Context) (RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refreshed, err := s.history.RefreshIfAllowed(ctx, s.coin, s.window)
	if err != nil {
		return RefreshResult{Refreshed: refreshed}, err
	}
	if !refreshed {
		return RefreshResult{Remaining: s.history.CooldownRemaining(s.coin, s.window)}, nil
	}

	// The snapshot has its own cooldown; a refused snapshot refresh is not an error.
	if _, err := s.snapshots.RefreshIfAllowed(ctx, s.coin); err != nil && !errors.Is(err, market.ErrValidation) {
		s.logger.Warn().Err(err).Str("coin", s.coin).Msg("Snapshot refresh failed")
	}
	return RefreshResult{Refreshed: true}, nil
}

// RefreshAll refreshes every window of the selected coin whose cooldown allows it.
func (s *Session) RefreshAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.history.RefreshAll(ctx, s.coin)
}

// PredictRequest selects the inputs of a prediction.
type PredictRequest struct {
	Preset    features.Preset
	Overrides map[string]float64
}

// Predict requests a prediction for the selected coin. It is refused with a
// *CooldownError while the coin's prediction cooldown runs; only a
// successful prediction arms the cooldown.
func (s *Session) Predict(ctx context.Context, req PredictRequest) (*PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coin, err := s.catalog.Coin(s.coin)
	if err != nil {
		return nil, err
	}
	if coin.Predictor == nil {
		return nil, fmt.Errorf("%w: %s has no prediction service", market.ErrValidation, coin.Symbol)
	}
	if left := s.predictCD.Remaining(coin.Symbol, s.opts.Now()); left > 0 {
		return nil, &CooldownError{Action: coin.Symbol + " prediction", Remaining: left}
	}

	record := &PredictionRecord{}
	var payload map[string]float64
	var lastClose float64

	if coin.Predictor.Endpoint().Mode == predictor.ModeFeatures {
		preset := req.Preset
		if preset == "" {
			preset = features.Yesterday
		}
		view := s.historyLocked(ctx, coin.Symbol, coin.FeatureWindow)
		if view.Series == nil {
			return nil, view.Err
		}
		set, err := features.Build(view.Series, preset, s.opts.Now(), req.Overrides)
		if err != nil {
			return nil, err
		}
		record.Preset = preset
		record.Features = set
		payload = set.Payload()
		if last, ok := view.Series.Last(); ok {
			lastClose = last.Close
		}
	}

	pred, err := coin.Predictor.Predict(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.predictCD.Mark(coin.Symbol, s.opts.Now())

	record.Prediction = pred
	record.Reference = s.referencePriceLocked(ctx, lastClose)
	if record.Reference > 0 {
		record.Delta = calculate.PredictionDelta(pred.Value, record.Reference)
	}

	s.panels[panelKey(coin.Symbol, record.Preset)] = record
	s.records = append(s.records, record)
	if over := len(s.records) - s.opts.HistoryLimit; over > 0 {
		s.records = append([]*PredictionRecord(nil), s.records[over:]...)
	}

	s.logger.Info().Str("coin", coin.Symbol).Float64("value", pred.Value).Msg("Prediction stored")
	return record, nil
}

// referencePriceLocked prefers the live snapshot price and falls back to the
// last close of the selected series.
func (s *Session) referencePriceLocked(ctx context.Context, fallback float64) float64 {
	if view := s.snapshotLocked(ctx); view.Snapshot != nil {
		return view.Snapshot.Price
	}
	if fallback > 0 {
		return fallback
	}
	if view := s.historyLocked(ctx, s.coin, s.window); view.Series != nil {
		if last, ok := view.Series.Last(); ok {
			return last.Close
		}
	}
	return 0
}

// PredictCooldown returns the wait before the next prediction for symbol.
func (s *Session) PredictCooldown(symbol string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.predictCD.Remaining(market.NormalizeSymbol(symbol), s.opts.Now())
}

// Panel returns the last prediction of symbol made with preset.
func (s *Session) Panel(symbol string, preset features.Preset) (*PredictionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.panels[panelKey(market.NormalizeSymbol(symbol), preset)]
	return r, ok
}

// Panel is one prediction panel of a coin with its last result, if any.
type Panel struct {
	Preset features.Preset
	Record *PredictionRecord
}

// Panels returns the prediction panels of the selected coin: one per preset
// for a features service, a single one for a live service.
func (s *Session) Panels() (Coin, []Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coin, _ := s.catalog.Coin(s.coin)
	if coin.Predictor == nil {
		return coin, nil
	}
	presets := []features.Preset{""}
	if coin.Predictor.Endpoint().Mode == predictor.ModeFeatures {
		presets = features.Presets
	}
	panels := make([]Panel, len(presets))
	for i, p := range presets {
		panels[i] = Panel{Preset: p, Record: s.panels[panelKey(coin.Symbol, p)]}
	}
	return coin, panels
}

// RefreshCooldown returns the gap enforced between manual refreshes.
func (s *Session) RefreshCooldown() time.Duration {
	return s.history.CooldownPeriod()
}

// Predictions returns the prediction history, oldest first.
func (s *Session) Predictions() []*PredictionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*PredictionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Catalog returns the catalog the session was created from.
func (s *Session) Catalog() *Catalog {
	return s.catalog
}

func panelKey(symbol string, preset features.Preset) string {
	if preset == "" {
		return symbol
	}
	return symbol + "/" + string(preset)
}
