package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
	httpClient "github.com/Alias1177/CoinDash/internal/platform/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is Kraken's public REST API.
const DefaultBaseURL = "https://api.kraken.com"

// DefaultPairs maps dashboard symbols to Kraken pair names.
var DefaultPairs = map[string]string{
	"BTC": "XBTUSD",
	"ETH": "ETHUSD",
	"SOL": "SOLUSD",
	"XRP": "XRPUSD",
}

// supportedIntervals are the OHLC interval values Kraken accepts, in minutes.
var supportedIntervals = map[int]bool{
	1: true, 5: true, 15: true, 30: true, 60: true, 240: true, 1440: true, 10080: true, 21600: true,
}

// Client is the Kraken public API client. It serves both candles and ticker
// snapshots.
type Client struct {
	baseURL    string
	pairs      map[string]string
	httpClient *httpClient.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Kraken client
type ClientOptions struct {
	BaseURL string
	// Pairs overrides DefaultPairs.
	Pairs map[string]string
	// HTTP is the shared retrying client. When nil one is built from the
	// remaining fields.
	HTTP           *httpClient.Client
	RequestTimeout time.Duration
	RequestsPerSec int
	MaxRetries     int
	RetryDelay     time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// NewClient creates a new Kraken API client
func NewClient(options ClientOptions) *Client {
	hc := options.HTTP
	if hc == nil {
		hc = httpClient.NewClient(httpClient.ClientOptions{
			Name:           "kraken",
			Timeout:        options.RequestTimeout,
			RequestsPerSec: options.RequestsPerSec,
			MaxRetries:     options.MaxRetries,
			RetryDelay:     options.RetryDelay,
		})
	}
	if options.BaseURL == "" {
		options.BaseURL = DefaultBaseURL
	}
	pairs := options.Pairs
	if len(pairs) == 0 {
		pairs = DefaultPairs
	}
	normalized := make(map[string]string, len(pairs))
	for sym, pair := range pairs {
		normalized[market.NormalizeSymbol(sym)] = pair
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		pairs:      normalized,
		httpClient: hc,
		now:        options.Now,
		logger:     log.With().Str("component", "kraken_client").Logger(),
	}
}

// Name implements market.Source and market.SnapshotSource.
func (c *Client) Name() string {
	return "kraken"
}

// envelope is the common Kraken response shape.
type envelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// FetchCandles fetches OHLC rows for the symbol at the window's interval.
// Kraken returns at most 720 rows; normalization trims them to the window span.
func (c *Client) FetchCandles(ctx context.Context, symbol string, w market.Window) ([]market.RawCandle, error) {
	pair, err := c.pair(symbol)
	if err != nil {
		return nil, err
	}
	minutes, err := IntervalMinutes(w)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("interval", fmt.Sprint(minutes))

	c.logger.Debug().Str("pair", pair).Int("interval", minutes).Str("window", w.Name).Msg("Fetching candles")

	var env envelope
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/0/public/OHLC", params, &env); err != nil {
		return nil, err
	}
	raw, err := pickResult(env, pair)
	if err != nil {
		return nil, err
	}

	var tuples [][]any
	if err := decodeNumbers(raw, &tuples); err != nil {
		return nil, fmt.Errorf("%w: kraken OHLC %s: %w", market.ErrUpstreamMalformed, pair, err)
	}

	rows := make([]market.RawCandle, 0, len(tuples))
	for _, t := range tuples {
		// [time, open, high, low, close, vwap, volume, count]
		if len(t) < 8 {
			return nil, fmt.Errorf("%w: kraken OHLC %s: row has %d fields, want 8", market.ErrUpstreamMalformed, pair, len(t))
		}
		rows = append(rows, market.RawCandle{
			Time:       t[0],
			Open:       t[1],
			High:       t[2],
			Low:        t[3],
			Close:      t[4],
			VWAP:       t[5],
			Volume:     t[6],
			TradeCount: t[7],
		})
	}

	c.logger.Debug().Int("count", len(rows)).Str("pair", pair).Msg("Fetched candles")
	return rows, nil
}

// ticker is one entry of the Ticker result. Arrays hold [today, last 24h]
// except c, which holds [price, lot volume].
type ticker struct {
	Close []string `json:"c"`
	VWAP  []string `json:"p"`
	Vol   []string `json:"v"`
}

// FetchSnapshot fetches the ticker of the symbol. Kraken has no 24h change
// field, so the change is approximated from the 24h VWAP and flagged as such.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	pair, err := c.pair(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", pair)

	c.logger.Debug().Str("pair", pair).Msg("Fetching ticker")

	var env envelope
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/0/public/Ticker", params, &env); err != nil {
		return nil, err
	}
	raw, err := pickResult(env, pair)
	if err != nil {
		return nil, err
	}

	var t ticker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: kraken ticker %s: %w", market.ErrUpstreamMalformed, pair, err)
	}
	if len(t.Close) == 0 {
		return nil, fmt.Errorf("%w: kraken ticker %s: missing last trade price", market.ErrUpstreamMalformed, pair)
	}
	price, ok := market.ParseFloat(t.Close[0])
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: kraken ticker %s: bad last price %q", market.ErrUpstreamMalformed, pair, t.Close[0])
	}

	snap := &market.Snapshot{
		Symbol:      market.NormalizeSymbol(symbol),
		Source:      c.Name(),
		Price:       price,
		LastUpdated: c.now().UTC(),
	}
	if vwap, ok := second(t.VWAP); ok && vwap > 0 {
		change := (price/vwap - 1) * 100
		snap.Change24hPct = &change
		snap.ChangeApprox = true
		if vol, ok := second(t.Vol); ok {
			quote := vol * vwap
			snap.Volume24h = &quote
		}
	}
	return snap, nil
}

// IntervalMinutes converts the window interval to a Kraken interval value.
func IntervalMinutes(w market.Window) (int, error) {
	minutes := int(w.Interval / time.Minute)
	if !supportedIntervals[minutes] || w.Interval%time.Minute != 0 {
		return 0, fmt.Errorf("%w: kraken has no %s interval for window %q", market.ErrValidation, w.Interval, w.Name)
	}
	return minutes, nil
}

// Pairs returns the symbols this client can serve, sorted.
func (c *Client) Pairs() []string {
	out := make([]string, 0, len(c.pairs))
	for sym := range c.pairs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (c *Client) pair(symbol string) (string, error) {
	pair, ok := c.pairs[market.NormalizeSymbol(symbol)]
	if !ok {
		return "", fmt.Errorf("%w: kraken has no pair for %q", market.ErrValidation, symbol)
	}
	return pair, nil
}

// pickResult returns the payload of the requested pair. Kraken keys results by
// its canonical pair name (XBTUSD comes back as XXBTZUSD), so when the exact
// name is missing the single non-"last" key is used.
func pickResult(env envelope, pair string) (json.RawMessage, error) {
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("%w: kraken %s: %s", market.ErrUpstreamMalformed, pair, strings.Join(env.Error, "; "))
	}
	if raw, ok := env.Result[pair]; ok {
		return raw, nil
	}

	var found json.RawMessage
	count := 0
	for key, raw := range env.Result {
		if key == "last" {
			continue
		}
		found = raw
		count++
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: kraken %s: result has %d pair entries", market.ErrUpstreamMalformed, pair, count)
	}
	return found, nil
}

func decodeNumbers(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func second(values []string) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	return market.ParseFloat(values[1])
}
