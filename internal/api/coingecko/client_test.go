package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
	httpClient "github.com/Alias1177/CoinDash/internal/platform/http"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientOptions{
		BaseURL: srv.URL,
		HTTP: httpClient.NewClient(httpClient.ClientOptions{
			Name:           "coingecko",
			Timeout:        time.Second,
			RequestsPerSec: 1000,
			MaxRetries:     1,
			RetryDelay:     time.Millisecond,
		}),
	})
}

func TestDays(t *testing.T) {
	tests := []struct {
		window string
		want   string
	}{
		{"day", "1"},
		{"week", "7"},
		{"month", "30"},
		{"90d", "90"},
		{"year", "365"},
		{"2y", "max"},
	}

	for _, tt := range tests {
		w, err := market.ParseWindow(tt.window)
		if err != nil {
			t.Fatalf("ParseWindow(%q) error = %v", tt.window, err)
		}
		if got := Days(w); got != tt.want {
			t.Errorf("Days(%s) = %s, want %s", tt.window, got, tt.want)
		}
	}
}

func TestFetchCandles_MergesMarketChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("days"); got != "30" {
			t.Errorf("days = %q, want 30", got)
		}
		switch r.URL.Path {
		case "/coins/solana/ohlc":
			fmt.Fprint(w, `[[1740700800000,140.1,145.2,138.0,142.5],[1740787200000,142.5,150.0,141.0,148.9]]`)
		case "/coins/solana/market_chart":
			fmt.Fprint(w, `{"prices":[[1740700800000,140.1]],
				"market_caps":[[1740700800000,7.1e10],[1740790000000,7.3e10]],
				"total_volumes":[[1740700800000,3.2e9]]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	w, _ := market.ParseWindow("month")

	rows, err := c.FetchCandles(context.Background(), "SOL", w)
	if err != nil {
		t.Fatalf("FetchCandles() error = %v", err)
	}
	s, err := market.Normalize("SOL", w, c.Name(), time.Now(), rows)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	first, second := s.Candles[0], s.Candles[1]
	if !first.Time.Equal(time.UnixMilli(1740700800000)) {
		t.Errorf("Time = %v, want ms timestamp", first.Time)
	}
	if first.Volume == nil || *first.Volume != 3.2e9 {
		t.Errorf("Volume = %v, want 3.2e9", first.Volume)
	}
	if first.MarketCap == nil || *first.MarketCap != 7.1e10 {
		t.Errorf("MarketCap = %v, want 7.1e10", first.MarketCap)
	}
	if second.Volume != nil || second.MarketCap != nil {
		t.Error("unmatched timestamps must leave volume and market cap absent")
	}
}

func TestFetchCandles_AggregatesToWindowInterval(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("days"); got != "1" {
			t.Errorf("days = %q, want 1", got)
		}
		var ohlc, volumes []string
		for i := 0; i < 48; i++ {
			ms := start.Add(time.Duration(i) * 30 * time.Minute).UnixMilli()
			p := 100 + float64(i)
			ohlc = append(ohlc, fmt.Sprintf("[%d,%g,%g,%g,%g]", ms, p, p+1, p-1, p+0.5))
			volumes = append(volumes, fmt.Sprintf("[%d,%d]", ms, 1000+i))
		}
		switch r.URL.Path {
		case "/coins/solana/ohlc":
			fmt.Fprint(w, "["+strings.Join(ohlc, ",")+"]")
		case "/coins/solana/market_chart":
			fmt.Fprint(w, `{"prices":[],"market_caps":[],"total_volumes":[`+strings.Join(volumes, ",")+`]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	w, _ := market.ParseWindow("day")

	rows, err := c.FetchCandles(context.Background(), "SOL", w)
	if err != nil {
		t.Fatalf("FetchCandles() error = %v", err)
	}
	s, err := market.Normalize("SOL", w, c.Name(), time.Now(), rows)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if s.Len() != 24 {
		t.Fatalf("Len() = %d, want 24 hourly candles", s.Len())
	}
	for i := 1; i < s.Len(); i++ {
		if step := s.Candles[i].Time.Sub(s.Candles[i-1].Time); step != time.Hour {
			t.Fatalf("step %d = %v, want 1h", i, step)
		}
	}

	first := s.Candles[0]
	if !first.Time.Equal(start) || first.Open != 100 || first.High != 102 || first.Low != 99 || first.Close != 101.5 {
		t.Errorf("first candle = %+v, want 100/102/99/101.5 at %v", first, start)
	}
	if first.Volume == nil || *first.Volume != 1001 {
		t.Errorf("Volume = %v, want the later rolling volume 1001", first.Volume)
	}
}

func TestFetchCandles_BuildsFromChartWhenOHLCIsCoarser(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/solana/market_chart" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("days"); got != "90" {
			t.Errorf("days = %q, want 90", got)
		}
		var prices []string
		for i := 0; i < 72; i++ {
			ms := start.Add(time.Duration(i) * time.Hour).UnixMilli()
			prices = append(prices, fmt.Sprintf("[%d,%d]", ms, 100+i))
		}
		fmt.Fprint(w, `{"prices":[`+strings.Join(prices, ",")+`],"market_caps":[],"total_volumes":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	w, _ := market.ParseWindow("90d")

	rows, err := c.FetchCandles(context.Background(), "SOL", w)
	if err != nil {
		t.Fatalf("FetchCandles() error = %v", err)
	}
	s, err := market.Normalize("SOL", w, c.Name(), time.Now(), rows)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 daily candles", s.Len())
	}
	second := s.Candles[1]
	if !second.Time.Equal(start.Add(24*time.Hour)) || second.Open != 124 || second.High != 147 || second.Low != 124 || second.Close != 147 {
		t.Errorf("second candle = %+v", second)
	}
	if second.Volume != nil {
		t.Errorf("Volume = %v, want absent", *second.Volume)
	}
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/solana" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"solana","market_data":{
			"current_price":{"usd":148.9,"eur":137.0},
			"price_change_percentage_24h":-2.35,
			"total_volume":{"usd":3200000000},
			"market_cap":{"usd":72000000000},
			"circulating_supply":487000000.5,
			"last_updated":"2025-03-01T12:30:00.000Z"}}`)
	}))
	defer srv.Close()

	snap, err := newTestClient(srv).FetchSnapshot(context.Background(), "sol")
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if snap.Symbol != "SOL" || snap.Price != 148.9 {
		t.Errorf("snapshot = %s %v", snap.Symbol, snap.Price)
	}
	if snap.Change24hPct == nil || *snap.Change24hPct != -2.35 {
		t.Errorf("Change24hPct = %v, want -2.35", snap.Change24hPct)
	}
	if snap.ChangeApprox {
		t.Error("CoinGecko change is exact")
	}
	if snap.CirculatingSupply == nil || *snap.CirculatingSupply != 487000000.5 {
		t.Errorf("CirculatingSupply = %v", snap.CirculatingSupply)
	}
	if want := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC); !snap.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated = %v, want %v", snap.LastUpdated, want)
	}
}

func TestFetchSnapshot_MissingPriceIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"market_data":{"current_price":{}}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchSnapshot(context.Background(), "BTC")
	if !errors.Is(err, market.ErrUpstreamMalformed) {
		t.Fatalf("error = %v, want ErrUpstreamMalformed", err)
	}
}

func TestSimplePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "bitcoin" {
			t.Errorf("request = %s", r.URL)
		}
		fmt.Fprint(w, `{"bitcoin":{"usd":84400.2,"usd_market_cap":1.67e12,"usd_24h_vol":2.1e10,
			"usd_24h_change":1.25,"last_updated_at":1740830400}}`)
	}))
	defer srv.Close()

	src := newTestClient(srv).SimplePrice()
	snap, err := src.FetchSnapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if snap.Source != "coingecko_simple" {
		t.Errorf("Source = %q", snap.Source)
	}
	if snap.MarketCap == nil || *snap.MarketCap != 1.67e12 {
		t.Errorf("MarketCap = %v", snap.MarketCap)
	}
	if snap.CirculatingSupply != nil {
		t.Error("simple/price has no circulating supply")
	}
	if !snap.LastUpdated.Equal(time.Unix(1740830400, 0)) {
		t.Errorf("LastUpdated = %v", snap.LastUpdated)
	}
}

func TestFetchCandles_UnknownSymbol(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:0"})
	w, _ := market.ParseWindow("day")
	if _, err := c.FetchCandles(context.Background(), "DOGE", w); !errors.Is(err, market.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
