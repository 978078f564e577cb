package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
	httpClient "github.com/Alias1177/CoinDash/internal/platform/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// DefaultIDs maps dashboard symbols to CoinGecko coin ids.
var DefaultIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "ripple",
}

// supportedDays are the days values accepted by the OHLC endpoint, ascending.
var supportedDays = []int{1, 7, 14, 30, 90, 180, 365}

// Client is the CoinGecko API client
type Client struct {
	baseURL    string
	ids        map[string]string
	httpClient *httpClient.Client
	apiKey     string
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new CoinGecko client
type ClientOptions struct {
	BaseURL string
	// IDs overrides DefaultIDs.
	IDs map[string]string
	// APIKey is sent as the demo API key parameter when set.
	APIKey string
	// HTTP is the shared retrying client. When nil one is built from the
	// remaining fields.
	HTTP           *httpClient.Client
	RequestTimeout time.Duration
	RequestsPerSec int
	MaxRetries     int
	RetryDelay     time.Duration
}

// NewClient creates a new CoinGecko API client
func NewClient(options ClientOptions) *Client {
	hc := options.HTTP
	if hc == nil {
		hc = httpClient.NewClient(httpClient.ClientOptions{
			Name:           "coingecko",
			Timeout:        options.RequestTimeout,
			RequestsPerSec: options.RequestsPerSec,
			MaxRetries:     options.MaxRetries,
			RetryDelay:     options.RetryDelay,
		})
	}
	if options.BaseURL == "" {
		options.BaseURL = DefaultBaseURL
	}
	ids := options.IDs
	if len(ids) == 0 {
		ids = DefaultIDs
	}
	normalized := make(map[string]string, len(ids))
	for sym, id := range ids {
		normalized[market.NormalizeSymbol(sym)] = id
	}

	return &Client{
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		ids:        normalized,
		httpClient: hc,
		apiKey:     options.APIKey,
		logger:     log.With().Str("component", "coingecko_client").Logger(),
	}
}

// Name implements market.Source and market.SnapshotSource.
func (c *Client) Name() string {
	return "coingecko"
}

// marketChart is the market_chart payload; each point is [ms, value].
type marketChart struct {
	Prices       [][]any `json:"prices"`
	MarketCaps   [][]any `json:"market_caps"`
	TotalVolumes [][]any `json:"total_volumes"`
}

// FetchCandles fetches the OHLC series and merges the market_chart volume
// and market cap into it by exact timestamp. Candles without a matching
// point keep those fields absent. The candles are aggregated to the window
// interval; when /ohlc only has coarser candles the series is built from the
// market_chart price points instead.
func (c *Client) FetchCandles(ctx context.Context, symbol string, w market.Window) ([]market.RawCandle, error) {
	id, err := c.id(symbol)
	if err != nil {
		return nil, err
	}
	days := Days(w)
	if step := ohlcStep(days); step > w.Interval || w.Interval%step != 0 {
		return c.chartCandles(ctx, id, w)
	}

	params := c.params()
	params.Set("vs_currency", "usd")
	params.Set("days", days)

	c.logger.Debug().Str("coin", id).Str("days", days).Str("window", w.Name).Msg("Fetching candles")

	var ohlc [][]any
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/coins/"+url.PathEscape(id)+"/ohlc", params, &ohlc); err != nil {
		return nil, err
	}

	var chart marketChart
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/coins/"+url.PathEscape(id)+"/market_chart", params, &chart); err != nil {
		return nil, err
	}
	volumes := pointIndex(chart.TotalVolumes)
	caps := pointIndex(chart.MarketCaps)

	rows := make([]market.RawCandle, 0, len(ohlc))
	for _, p := range ohlc {
		// [ms, open, high, low, close]
		if len(p) < 5 {
			return nil, fmt.Errorf("%w: coingecko ohlc %s: row has %d fields, want 5", market.ErrUpstreamMalformed, id, len(p))
		}
		row := market.RawCandle{Time: p[0], Open: p[1], High: p[2], Low: p[3], Close: p[4]}
		if ts, ok := market.ParseInt(p[0]); ok {
			row.Volume = volumes[ts]
			row.MarketCap = caps[ts]
		}
		rows = append(rows, row)
	}

	c.logger.Debug().Int("count", len(rows)).Int("volumes", len(volumes)).Str("coin", id).Msg("Fetched candles")
	return aggregate(rows, w.Interval), nil
}

// chartCandles builds candles from the market_chart price points, each point
// a flat candle, aggregated to the window interval.
func (c *Client) chartCandles(ctx context.Context, id string, w market.Window) ([]market.RawCandle, error) {
	days := chartDays(w)

	params := c.params()
	params.Set("vs_currency", "usd")
	params.Set("days", days)

	c.logger.Debug().Str("coin", id).Str("days", days).Str("window", w.Name).Msg("Fetching chart candles")

	var chart marketChart
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/coins/"+url.PathEscape(id)+"/market_chart", params, &chart); err != nil {
		return nil, err
	}
	volumes := pointIndex(chart.TotalVolumes)
	caps := pointIndex(chart.MarketCaps)

	rows := make([]market.RawCandle, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		// [ms, price]
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: coingecko market_chart %s: point has %d fields, want 2", market.ErrUpstreamMalformed, id, len(p))
		}
		row := market.RawCandle{Time: p[0], Open: p[1], High: p[1], Low: p[1], Close: p[1]}
		if ts, ok := market.ParseInt(p[0]); ok {
			row.Volume = volumes[ts]
			row.MarketCap = caps[ts]
		}
		rows = append(rows, row)
	}

	c.logger.Debug().Int("count", len(rows)).Str("coin", id).Msg("Fetched chart candles")
	return aggregate(rows, w.Interval), nil
}

// coinData is the subset of /coins/{id} the snapshot needs.
type coinData struct {
	MarketData struct {
		CurrentPrice             map[string]any `json:"current_price"`
		PriceChangePercentage24h any            `json:"price_change_percentage_24h"`
		TotalVolume              map[string]any `json:"total_volume"`
		MarketCap                map[string]any `json:"market_cap"`
		CirculatingSupply        any            `json:"circulating_supply"`
		LastUpdated              any            `json:"last_updated"`
	} `json:"market_data"`
}

// FetchSnapshot fetches the market_data block of /coins/{id}.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	id, err := c.id(symbol)
	if err != nil {
		return nil, err
	}

	params := c.params()
	params.Set("localization", "false")
	params.Set("tickers", "false")
	params.Set("community_data", "false")
	params.Set("developer_data", "false")

	c.logger.Debug().Str("coin", id).Msg("Fetching market data")

	var data coinData
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/coins/"+url.PathEscape(id), params, &data); err != nil {
		return nil, err
	}
	md := data.MarketData

	price, ok := market.ParseFloat(md.CurrentPrice["usd"])
	if !ok {
		return nil, fmt.Errorf("%w: coingecko %s: market_data.current_price.usd missing", market.ErrUpstreamMalformed, id)
	}
	snap := &market.Snapshot{
		Symbol:            market.NormalizeSymbol(symbol),
		Source:            c.Name(),
		Price:             price,
		Change24hPct:      optional(md.PriceChangePercentage24h),
		Volume24h:         optional(md.TotalVolume["usd"]),
		MarketCap:         optional(md.MarketCap["usd"]),
		CirculatingSupply: optional(md.CirculatingSupply),
	}
	if ts, ok := market.ParseTime(md.LastUpdated); ok {
		snap.LastUpdated = ts
	}
	return snap, nil
}

// IDs returns the configured symbol to coin id mapping.
func (c *Client) IDs() map[string]string {
	out := make(map[string]string, len(c.ids))
	for k, v := range c.ids {
		out[k] = v
	}
	return out
}

// Days picks the smallest supported days value covering the window span,
// or "max" when none does.
func Days(w market.Window) string {
	need := int((w.Span() + 24*time.Hour - 1) / (24 * time.Hour))
	for _, d := range supportedDays {
		if d >= need {
			return fmt.Sprint(d)
		}
	}
	return "max"
}

func (c *Client) id(symbol string) (string, error) {
	id, ok := c.ids[market.NormalizeSymbol(symbol)]
	if !ok {
		return "", fmt.Errorf("%w: coingecko has no coin id for %q", market.ErrValidation, symbol)
	}
	return id, nil
}

func (c *Client) params() url.Values {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("x_cg_demo_api_key", c.apiKey)
	}
	return params
}

// pointIndex maps the millisecond timestamp of each [ms, value] point to its value.
func pointIndex(points [][]any) map[int64]any {
	out := make(map[int64]any, len(points))
	for _, p := range points {
		if len(p) < 2 {
			continue
		}
		if ts, ok := market.ParseInt(p[0]); ok {
			out[ts] = p[1]
		}
	}
	return out
}

func optional(v any) *float64 {
	f, ok := market.ParseFloat(v)
	if !ok {
		return nil
	}
	return &f
}
