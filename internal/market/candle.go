package market

import "time"

// Candle is one OHLC interval. Optional fields are nil when the upstream did
// not supply them; they are never defaulted to zero.
type Candle struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     *float64  `json:"volume,omitempty"`
	VWAP       *float64  `json:"vwap,omitempty"`
	TradeCount *int64    `json:"trade_count,omitempty"`
	MarketCap  *float64  `json:"market_cap,omitempty"`
}

// Series is an ordered run of candles for one (symbol, window) pair.
// A published Series is shared between readers and must not be modified.
type Series struct {
	Symbol    string    `json:"symbol"`
	Window    string    `json:"window"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Candles   []Candle  `json:"candles"`
	// Dropped counts upstream rows discarded during normalization.
	Dropped int `json:"dropped,omitempty"`
}

// Len returns the number of candles.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// Last returns the most recent candle.
func (s *Series) Last() (Candle, bool) {
	if s.Len() == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// At returns the candle at i, counting from the end when i is negative.
func (s *Series) At(i int) (Candle, bool) {
	n := s.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return Candle{}, false
	}
	return s.Candles[i], true
}

// Closes returns the close prices in time order.
func (s *Series) Closes() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = s.Candles[i].Close
	}
	return out
}

// RawCandle is an upstream row before normalization. Each field holds the
// decoded JSON scalar (string, json.Number, float64) or nil when absent.
type RawCandle struct {
	Time       any
	Open       any
	High       any
	Low        any
	Close      any
	Volume     any
	VWAP       any
	TradeCount any
	MarketCap  any
}

// Float returns a pointer to v, for optional candle fields.
func Float(v float64) *float64 {
	return &v
}
