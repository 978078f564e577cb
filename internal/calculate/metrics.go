// Package calculate derives display metrics from normalized series. Every
// function is pure; a metric that cannot be computed is reported absent
// instead of being defaulted to zero.
package calculate

import (
	"math"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
)

// PercentChange returns (new/old - 1) * 100. It is absent when old is zero
// or either side is not finite.
func PercentChange(newValue, oldValue float64) (float64, bool) {
	if oldValue == 0 || !finite(newValue) || !finite(oldValue) {
		return 0, false
	}
	return (newValue/oldValue - 1) * 100, true
}

// WindowStats is the KPI block of one series.
type WindowStats struct {
	Symbol string
	Window string
	// Last is the most recent candle.
	Last market.Candle
	// Previous is the candle before Last; HasPrevious is false for a single-candle series.
	Previous    market.Candle
	HasPrevious bool
	// Change is Last.Close - Previous.Close.
	Change    float64
	ChangePct float64
	HasChange bool
	// High and Low are the extremes over the whole window.
	High    float64
	HighAt  time.Time
	Low     float64
	LowAt   time.Time
	Candles int
	// VolumeSum totals the candles that carry volume; VolumeCount says how many did.
	VolumeSum   float64
	VolumeCount int
}

// Stats computes the KPI block of series. ok is false for an empty series.
func Stats(series *market.Series) (WindowStats, bool) {
	last, ok := series.Last()
	if !ok {
		return WindowStats{}, false
	}

	st := WindowStats{
		Symbol:  series.Symbol,
		Window:  series.Window,
		Last:    last,
		High:    math.Inf(-1),
		Low:     math.Inf(1),
		Candles: series.Len(),
	}
	for _, c := range series.Candles {
		if c.High > st.High {
			st.High, st.HighAt = c.High, c.Time
		}
		if c.Low < st.Low {
			st.Low, st.LowAt = c.Low, c.Time
		}
		if c.Volume != nil {
			st.VolumeSum += *c.Volume
			st.VolumeCount++
		}
	}

	if prev, ok := series.At(-2); ok {
		st.Previous = prev
		st.HasPrevious = true
		st.Change = last.Close - prev.Close
		st.ChangePct, st.HasChange = PercentChange(last.Close, prev.Close)
	}
	return st, true
}

// Return is the close-to-close change of one candle against the one before.
type Return struct {
	Time time.Time
	Pct  float64
}

// DailyReturns returns the percent change of each close against the previous
// close. Pairs with a zero previous close are skipped.
func DailyReturns(series *market.Series) []Return {
	if series.Len() < 2 {
		return nil
	}
	out := make([]Return, 0, series.Len()-1)
	for i := 1; i < series.Len(); i++ {
		pct, ok := PercentChange(series.Candles[i].Close, series.Candles[i-1].Close)
		if !ok {
			continue
		}
		out = append(out, Return{Time: series.Candles[i].Time, Pct: pct})
	}
	return out
}

// Delta compares a predicted value with a reference price.
type Delta struct {
	Predicted float64
	Reference float64
	USD       float64
	Pct       float64
	HasPct    bool
}

// PredictionDelta returns the distance from the reference price to the prediction.
func PredictionDelta(predicted, reference float64) Delta {
	d := Delta{
		Predicted: predicted,
		Reference: reference,
		USD:       predicted - reference,
	}
	d.Pct, d.HasPct = PercentChange(predicted, reference)
	return d
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
