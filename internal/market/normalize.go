package market

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch milliseconds from epoch seconds.
// 1e12 ms is September 2001; 1e12 s is far beyond any candle.
const epochMillisThreshold = 1e12

// Normalize turns upstream rows into a Series: timestamps become UTC instants,
// numbers become float64, rows with an unusable timestamp or price are dropped,
// rows are sorted ascending and duplicate timestamps resolve to the row that
// came later in the payload. The result is trimmed to the window span,
// anchored at the newest candle.
func Normalize(symbol string, w Window, source string, fetchedAt time.Time, rows []RawCandle) (*Series, error) {
	candles := make([]Candle, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		c, ok := normalizeRow(row)
		if !ok {
			dropped++
			continue
		}
		candles = append(candles, c)
	}

	// Stable sort keeps payload order among equal timestamps, so the later row wins below.
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	unique := candles[:0]
	for _, c := range candles {
		if n := len(unique); n > 0 && unique[n-1].Time.Equal(c.Time) {
			unique[n-1] = c
			dropped++
			continue
		}
		unique = append(unique, c)
	}

	for _, c := range unique {
		if err := checkOHLC(c); err != nil {
			return nil, err
		}
	}

	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: %s %s from %s: %d row(s), none usable", ErrEmptySeries, symbol, w.Name, source, len(rows))
	}

	if span := w.Span(); span > 0 {
		cutoff := unique[len(unique)-1].Time.Add(-span)
		first := sort.Search(len(unique), func(i int) bool {
			return unique[i].Time.After(cutoff)
		})
		unique = unique[first:]
	}

	out := make([]Candle, len(unique))
	copy(out, unique)

	return &Series{
		Symbol:    symbol,
		Window:    w.Name,
		Source:    source,
		FetchedAt: fetchedAt.UTC(),
		Candles:   out,
		Dropped:   dropped,
	}, nil
}

func normalizeRow(row RawCandle) (Candle, bool) {
	ts, ok := ParseTime(row.Time)
	if !ok {
		return Candle{}, false
	}

	var c Candle
	c.Time = ts
	prices := []struct {
		raw any
		dst *float64
	}{
		{row.Open, &c.Open},
		{row.High, &c.High},
		{row.Low, &c.Low},
		{row.Close, &c.Close},
	}
	for _, p := range prices {
		v, ok := ParseFloat(p.raw)
		if !ok {
			return Candle{}, false
		}
		*p.dst = v
	}

	c.Volume = optionalFloat(row.Volume)
	c.VWAP = optionalFloat(row.VWAP)
	c.MarketCap = optionalFloat(row.MarketCap)
	if n, ok := ParseInt(row.TradeCount); ok {
		c.TradeCount = &n
	}
	return c, true
}

func checkOHLC(c Candle) error {
	if c.Low > c.High || c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: candle at %s breaks low<=open,close<=high (o=%g h=%g l=%g c=%g)",
			ErrUpstreamMalformed, c.Time.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

func optionalFloat(v any) *float64 {
	f, ok := ParseFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// ParseFloat coerces a decoded JSON scalar to a finite float64.
func ParseFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseInt coerces a decoded JSON scalar to an int64. Fractional values are rejected.
func ParseInt(v any) (int64, bool) {
	f, ok := ParseFloat(v)
	if !ok || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime coerces an epoch (seconds or milliseconds, number or numeric
// string) or an ISO 8601 string to a UTC instant. Layouts without a zone are
// read as UTC.
func ParseTime(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
			return time.Time{}, false
		}
	}

	f, ok := ParseFloat(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
