package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alias1177/CoinDash/internal/api/predictor"
	"github.com/Alias1177/CoinDash/internal/market"
)

// Predictor requests next-day-high predictions for one coin.
type Predictor interface {
	Endpoint() predictor.Endpoint
	Predict(ctx context.Context, features map[string]float64) (*predictor.Prediction, error)
}

// Coin is one dashboard coin as sessions see it.
type Coin struct {
	Symbol        string
	Name          string
	DefaultWindow string
	// Predictor is nil when the coin has no inference service.
	Predictor Predictor
	// FeatureWindow is the daily window features are built from.
	FeatureWindow string
}

// Catalog is the read-only set of coins and upstream sources shared by all
// sessions. Sessions never share cached data, only this.
type Catalog struct {
	coins     map[string]Coin
	order     []string
	candles   market.Resolver
	snapshots market.SnapshotResolver
}

// NewCatalog creates a catalog. Coins keep the given order.
func NewCatalog(candles market.Resolver, snapshots market.SnapshotResolver, coins ...Coin) (*Catalog, error) {
	c := &Catalog{
		coins:     make(map[string]Coin, len(coins)),
		candles:   candles,
		snapshots: snapshots,
	}
	for _, coin := range coins {
		coin.Symbol = market.NormalizeSymbol(coin.Symbol)
		if _, dup := c.coins[coin.Symbol]; dup {
			return nil, fmt.Errorf("coin %s listed twice", coin.Symbol)
		}
		if coin.DefaultWindow == "" {
			coin.DefaultWindow = market.DefaultWindow
		}
		if _, err := market.ParseWindow(coin.DefaultWindow); err != nil {
			return nil, fmt.Errorf("coin %s: %w", coin.Symbol, err)
		}
		if coin.FeatureWindow == "" {
			coin.FeatureWindow = "month"
		}
		c.coins[coin.Symbol] = coin
		c.order = append(c.order, coin.Symbol)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog has no coins")
	}
	return c, nil
}

// Coin looks a coin up by symbol.
func (c *Catalog) Coin(symbol string) (Coin, error) {
	coin, ok := c.coins[market.NormalizeSymbol(symbol)]
	if !ok {
		return Coin{}, fmt.Errorf("%w: unsupported coin %q (supported: %s)", market.ErrValidation, symbol, strings.Join(c.order, ", "))
	}
	return coin, nil
}

// Symbols returns the coin symbols in catalog order.
func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
