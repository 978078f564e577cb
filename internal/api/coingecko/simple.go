package coingecko

import (
	"context"
	"fmt"

	"github.com/Alias1177/CoinDash/internal/market"
)

// SimplePrice is a snapshot source backed by /simple/price. It is lighter
// than /coins/{id} but has no circulating supply.
type SimplePrice struct {
	client *Client
}

// SimplePrice returns the /simple/price snapshot source of the client.
func (c *Client) SimplePrice() *SimplePrice {
	return &SimplePrice{client: c}
}

// Name implements market.SnapshotSource.
func (s *SimplePrice) Name() string {
	return "coingecko_simple"
}

// FetchSnapshot implements market.SnapshotSource.
func (s *SimplePrice) FetchSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	c := s.client
	id, err := c.id(symbol)
	if err != nil {
		return nil, err
	}

	params := c.params()
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")
	params.Set("include_market_cap", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_24hr_change", "true")
	params.Set("include_last_updated_at", "true")

	c.logger.Debug().Str("coin", id).Msg("Fetching simple price")

	var data map[string]map[string]any
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/simple/price", params, &data); err != nil {
		return nil, err
	}
	fields, ok := data[id]
	if !ok {
		return nil, fmt.Errorf("%w: coingecko simple/price: no entry for %s", market.ErrUpstreamMalformed, id)
	}
	price, ok := market.ParseFloat(fields["usd"])
	if !ok {
		return nil, fmt.Errorf("%w: coingecko simple/price %s: usd price missing", market.ErrUpstreamMalformed, id)
	}

	snap := &market.Snapshot{
		Symbol:       market.NormalizeSymbol(symbol),
		Source:       s.Name(),
		Price:        price,
		Change24hPct: optional(fields["usd_24h_change"]),
		Volume24h:    optional(fields["usd_24h_vol"]),
		MarketCap:    optional(fields["usd_market_cap"]),
	}
	if ts, ok := market.ParseTime(fields["last_updated_at"]); ok {
		snap.LastUpdated = ts
	}
	return snap, nil
}
