package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	platformhttp "github.com/Alias1177/CoinDash/internal/platform/http"
)

// Source fetches raw OHLC rows for a symbol and window from one upstream.
// Implementations may merge several upstream calls into one row set.
type Source interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, w Window) ([]RawCandle, error)
}

// SnapshotSource fetches the current market snapshot for a symbol.
type SnapshotSource interface {
	Name() string
	FetchSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
}

// Resolver picks the candle source serving a symbol.
type Resolver interface {
	CandleSource(symbol string) (Source, error)
}

// SnapshotResolver picks the snapshot source serving a symbol.
type SnapshotResolver interface {
	SnapshotSource(symbol string) (SnapshotSource, error)
}

// Router dispatches symbols to their configured sources.
type Router struct {
	candles   map[string]Source
	snapshots map[string]SnapshotSource
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		candles:   make(map[string]Source),
		snapshots: make(map[string]SnapshotSource),
	}
}

// Route registers the sources of one symbol. Either source may be nil.
func (r *Router) Route(symbol string, candles Source, snapshot SnapshotSource) {
	sym := NormalizeSymbol(symbol)
	if candles != nil {
		r.candles[sym] = candles
	}
	if snapshot != nil {
		r.snapshots[sym] = snapshot
	}
}

// CandleSource implements Resolver.
func (r *Router) CandleSource(symbol string) (Source, error) {
	src, ok := r.candles[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported symbol %q (supported: %s)", ErrValidation, symbol, strings.Join(r.Symbols(), ", "))
	}
	return src, nil
}

// SnapshotSource implements SnapshotResolver.
func (r *Router) SnapshotSource(symbol string) (SnapshotSource, error) {
	src, ok := r.snapshots[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: no market snapshot for symbol %q", ErrValidation, symbol)
	}
	return src, nil
}

// Symbols returns the symbols with a candle source, sorted.
func (r *Router) Symbols() []string {
	out := make([]string, 0, len(r.candles))
	for sym := range r.candles {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NormalizeSymbol canonicalizes a ticker symbol ("btc " -> "BTC").
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Classify maps a transport error from an upstream call onto the error
// taxonomy. Errors that are already classified pass through unchanged.
func Classify(source string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrUpstreamUnavailable, ErrUpstreamMalformed, ErrEmptySeries, ErrValidation} {
		if errors.Is(err, known) {
			return err
		}
	}

	var decodeErr *platformhttp.DecodeError
	if errors.As(err, &decodeErr) {
		return fmt.Errorf("%w: %s: %w", ErrUpstreamMalformed, source, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, source, err)
}
