package coingecko

import (
	"fmt"
	"sort"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
)

// ohlcStep is the candle size /ohlc returns for a days value.
func ohlcStep(days string) time.Duration {
	switch days {
	case "1", "2":
		return 30 * time.Minute
	case "7", "14", "30":
		return 4 * time.Hour
	}
	return 4 * 24 * time.Hour
}

// chartDays is the days value for /market_chart covering the window span.
// Up to 90 days the points are hourly, beyond that daily.
func chartDays(w market.Window) string {
	return fmt.Sprint(int((w.Span() + 24*time.Hour - 1) / (24 * time.Hour)))
}

// aggregate folds candles finer than interval into buckets aligned to
// interval boundaries: first open, highest high, lowest low, last close.
// total_volumes and market_caps are rolling 24h figures, so a bucket keeps
// the last one it saw. Rows that do not parse or break low <= open,close <= high
// pass through unchanged for Normalize to drop or reject.
func aggregate(rows []market.RawCandle, interval time.Duration) []market.RawCandle {
	type point struct {
		t          time.Time
		o, h, l, c float64
		row        market.RawCandle
	}

	out := make([]market.RawCandle, 0, len(rows))
	points := make([]point, 0, len(rows))
	for _, r := range rows {
		t, okT := market.ParseTime(r.Time)
		o, okO := market.ParseFloat(r.Open)
		h, okH := market.ParseFloat(r.High)
		l, okL := market.ParseFloat(r.Low)
		c, okC := market.ParseFloat(r.Close)
		if !okT || !okO || !okH || !okL || !okC || l > min(o, c) || h < max(o, c) {
			out = append(out, r)
			continue
		}
		points = append(points, point{t: t, o: o, h: h, l: l, c: c, row: r})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].t.Before(points[j].t)
	})

	var cur *market.RawCandle
	var start time.Time
	var high, low float64
	flush := func() {
		if cur != nil {
			cur.High, cur.Low = high, low
			out = append(out, *cur)
		}
	}
	for _, p := range points {
		if b := p.t.Truncate(interval); cur == nil || !b.Equal(start) {
			flush()
			start, high, low = b, p.h, p.l
			cur = &market.RawCandle{Time: b.Unix(), Open: p.o}
		}
		high, low = max(high, p.h), min(low, p.l)
		cur.Close = p.c
		if p.row.Volume != nil {
			cur.Volume = p.row.Volume
		}
		if p.row.MarketCap != nil {
			cur.MarketCap = p.row.MarketCap
		}
	}
	flush()
	return out
}
