// Package report renders dashboard panels as plain text for chat and CLI
// front-ends.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/calculate"
	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/market"
	"github.com/Alias1177/CoinDash/internal/session"
	"github.com/dustin/go-humanize"
)

// History renders the KPI block of a series lookup.
func History(coin session.Coin, view session.HistoryView, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s), %s window\n", coin.Name, coin.Symbol, windowLabel(view))
	if view.Series == nil {
		fmt.Fprintf(&b, "No data: %s\n", ErrorText(view.Err))
		return b.String()
	}
	if view.Stale {
		fmt.Fprintf(&b, "Showing cached data from %s; refresh failed: %s\n", Ago(view.RefreshedAt, now), ErrorText(view.Err))
	}

	st, ok := calculate.Stats(view.Series)
	if !ok {
		b.WriteString("The series is empty.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Last close: %s (%s)\n", Money(st.Last.Close), st.Last.Time.Format("2006-01-02 15:04 MST"))
	if st.HasPrevious {
		change := SignedMoney(st.Change)
		if st.HasChange {
			change += " (" + Percent(st.ChangePct) + ")"
		}
		fmt.Fprintf(&b, "Change vs previous: %s\n", change)
	}
	fmt.Fprintf(&b, "High: %s on %s\n", Money(st.High), st.HighAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Low: %s on %s\n", Money(st.Low), st.LowAt.Format("2006-01-02 15:04"))
	if st.VolumeCount > 0 {
		fmt.Fprintf(&b, "Volume (%d candles): %s\n", st.VolumeCount, Quantity(st.VolumeSum, coin.Symbol))
	}
	fmt.Fprintf(&b, "Candles: %s from %s", humanize.Comma(int64(st.Candles)), view.Series.Source)
	if view.Series.Dropped > 0 {
		fmt.Fprintf(&b, ", %d malformed row(s) skipped", view.Series.Dropped)
	}
	b.WriteString("\n")
	if !view.Stale {
		fmt.Fprintf(&b, "Updated %s\n", Ago(view.RefreshedAt, now))
	}
	return b.String()
}

func windowLabel(view session.HistoryView) string {
	if view.Series == nil {
		return "selected"
	}
	if w, err := market.ParseWindow(view.Series.Window); err == nil {
		return w.String()
	}
	return view.Series.Window
}

// Candles renders the last n candles of a series, newest first.
func Candles(series *market.Series, n int) string {
	if series.Len() == 0 {
		return "No candles.\n"
	}
	if n <= 0 || n > series.Len() {
		n = series.Len()
	}

	var b strings.Builder
	b.WriteString("time | open | high | low | close | volume\n")
	for i := series.Len() - 1; i >= series.Len()-n; i-- {
		c := series.Candles[i]
		vol := na
		if c.Volume != nil {
			vol = humanize.FormatFloat("#,###.##", *c.Volume)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			c.Time.Format("01-02 15:04"), Money(c.Open), Money(c.High), Money(c.Low), Money(c.Close), vol)
	}
	return b.String()
}

// Indicators renders the technical block.
func Indicators(ind calculate.Indicators) string {
	var b strings.Builder
	b.WriteString("Indicators\n")
	fmt.Fprintf(&b, "RSI: %s | Stoch: %s / %s\n", optNumber(ind.RSI), optNumber(ind.StochK), optNumber(ind.StochD))
	fmt.Fprintf(&b, "EMA: %s | SMA: %s\n", optMoney(ind.EMA), optMoney(ind.SMA))
	fmt.Fprintf(&b, "BB: %s / %s / %s\n", optMoney(ind.BBLower), optMoney(ind.BBMiddle), optMoney(ind.BBUpper))
	if ind.Volatility != nil {
		fmt.Fprintf(&b, "Volatility: %.2f%%\n", *ind.Volatility)
	}
	if ind.ATR != nil {
		fmt.Fprintf(&b, "ATR: %s\n", Money(*ind.ATR))
	}
	if ind.AvgVolume != nil {
		fmt.Fprintf(&b, "Avg volume: %s\n", humanize.FormatFloat("#,###.##", *ind.AvgVolume))
	}
	if ind.OBV != nil {
		fmt.Fprintf(&b, "OBV: %s\n", humanize.FormatFloat("#,###.", *ind.OBV))
	}
	if len(ind.Support) > 0 {
		fmt.Fprintf(&b, "Support: %s\n", levels(ind.Support))
	}
	if len(ind.Resistance) > 0 {
		fmt.Fprintf(&b, "Resistance: %s\n", levels(ind.Resistance))
	}
	return b.String()
}

func levels(v []float64) string {
	out := make([]string, len(v))
	for i, l := range v {
		out[i] = Money(l)
	}
	return strings.Join(out, ", ")
}

func optNumber(v *float64) string {
	if v == nil {
		return na
	}
	return fmt.Sprintf("%.2f", *v)
}

// Snapshot renders the market snapshot block.
func Snapshot(coin session.Coin, view session.SnapshotView, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s market\n", coin.Name)
	if view.Snapshot == nil {
		fmt.Fprintf(&b, "Unavailable: %s\n", ErrorText(view.Err))
		return b.String()
	}

	s := view.Snapshot
	if view.Stale {
		fmt.Fprintf(&b, "Cached snapshot; refresh failed: %s\n", ErrorText(view.Err))
	}
	fmt.Fprintf(&b, "Spot price: %s\n", Money(s.Price))
	if s.Change24hPct != nil {
		change := Percent(*s.Change24hPct)
		if s.ChangeApprox {
			change += " (vs 24h VWAP)"
		}
		fmt.Fprintf(&b, "24h change: %s\n", change)
	} else {
		fmt.Fprintf(&b, "24h change: %s\n", na)
	}
	fmt.Fprintf(&b, "24h volume: %s\n", optCompact(s.Volume24h))
	fmt.Fprintf(&b, "Market cap: %s\n", optCompact(s.MarketCap))
	if s.CirculatingSupply != nil {
		fmt.Fprintf(&b, "Circulating supply: %s\n", Quantity(*s.CirculatingSupply, coin.Symbol))
	}
	fmt.Fprintf(&b, "Source: %s, updated %s\n", s.Source, Ago(s.LastUpdated, now))
	return b.String()
}

// Prediction renders the card of one prediction.
func Prediction(coin session.Coin, rec *session.PredictionRecord) string {
	var b strings.Builder
	p := rec.Prediction

	title := fmt.Sprintf("%s next-day high", coin.Name)
	if rec.Preset != "" {
		title += fmt.Sprintf(" (%s)", rec.Preset)
	}
	b.WriteString(title + "\n")
	fmt.Fprintf(&b, "Predicted high: %s\n", Money(p.Value))
	if rec.Reference > 0 {
		fmt.Fprintf(&b, "Current price: %s\n", Money(rec.Reference))
		delta := SignedMoney(rec.Delta.USD)
		if rec.Delta.HasPct {
			delta += " (" + Percent(rec.Delta.Pct) + ")"
		}
		fmt.Fprintf(&b, "Difference: %s\n", delta)
	}
	if p.PredictedDate != "" {
		fmt.Fprintf(&b, "For: %s\n", p.PredictedDate)
	}
	if p.AsOf != nil {
		fmt.Fprintf(&b, "As of: %s\n", p.AsOf.UTC().Format(time.RFC3339))
	}
	if p.ModelVersion != "" {
		fmt.Fprintf(&b, "Model: %s\n", p.ModelVersion)
	}
	if rec.Features != nil {
		fmt.Fprintf(&b, "Features for %s:\n", rec.Features.Day.Format("2006-01-02"))
		for _, name := range rec.Features.Sorted() {
			fmt.Fprintf(&b, "  %s = %s\n", name, humanize.FormatFloat("#,###.####", rec.Features.Values[name]))
		}
	}
	if p.Took > 0 {
		fmt.Fprintf(&b, "Answered in %s\n", Duration(p.Took))
	}
	return b.String()
}

// Predictions renders the prediction history, newest first.
func Predictions(records []*session.PredictionRecord) string {
	if len(records) == 0 {
		return "No predictions yet. Use /predict.\n"
	}

	var b strings.Builder
	b.WriteString("Prediction history\n")
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		line := fmt.Sprintf("%s %s %s", r.Prediction.RequestedAt.UTC().Format("01-02 15:04"), r.Prediction.Symbol, Money(r.Prediction.Value))
		if r.Preset != "" {
			line += " [" + string(r.Preset) + "]"
		}
		if r.Delta.HasPct {
			line += " " + Percent(r.Delta.Pct)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Panels renders the last result of each prediction panel of coin.
func Panels(coin session.Coin, panels []session.Panel) string {
	if len(panels) == 0 {
		return fmt.Sprintf("%s has no prediction service.\n", coin.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s prediction panels\n", coin.Name)
	for _, p := range panels {
		name := string(p.Preset)
		if name == "" {
			name = "live"
		}
		if p.Record == nil {
			fmt.Fprintf(&b, "%s: no prediction yet\n", name)
			continue
		}
		line := fmt.Sprintf("%s: %s", name, Money(p.Record.Prediction.Value))
		if p.Record.Delta.HasPct {
			line += " (" + Percent(p.Record.Delta.Pct) + ")"
		}
		if p.Record.Features != nil {
			line += " from " + p.Record.Features.Day.Format("2006-01-02")
		}
		line += ", requested " + p.Record.Prediction.RequestedAt.UTC().Format("01-02 15:04")
		b.WriteString(line + "\n")
	}
	return b.String()
}

// RefreshAllHint renders the outcome of refreshing every window.
func RefreshAllHint(refreshed, total int) string {
	if refreshed == 0 {
		return "Every window is cooling down, nothing refreshed."
	}
	return fmt.Sprintf("Refreshed %d of %d windows.", refreshed, total)
}

// RefreshHint renders the outcome of a manual refresh.
func RefreshHint(res session.RefreshResult) string {
	if res.Refreshed {
		return "Data refreshed."
	}
	return fmt.Sprintf("Refresh is cooling down, next refresh in %s.", Duration(res.Remaining))
}

// ErrorText renders an error for the user without transport details.
func ErrorText(err error) string {
	var cd *session.CooldownError
	switch {
	case err == nil:
		return "no data"
	case errors.As(err, &cd):
		return fmt.Sprintf("please wait %s before the next %s", Duration(cd.Remaining), cd.Action)
	case errors.Is(err, market.ErrValidation):
		return err.Error()
	case errors.Is(err, market.ErrEmptySeries):
		return "the data source returned no candles for this window"
	case errors.Is(err, market.ErrUpstreamMalformed):
		return "the data source returned data that could not be read"
	case errors.Is(err, market.ErrUpstreamUnavailable):
		return "the data source is unavailable, try again later"
	case errors.Is(err, market.ErrPredictionUnavailable):
		return "the prediction service is unavailable (it may be waking up), try again in a minute"
	}
	return "unexpected error"
}

// PresetHelp lists the prediction presets.
func PresetHelp() string {
	return fmt.Sprintf("Presets: %s (default), %s, %s k=v ... Features: %s",
		features.Yesterday, features.Today, features.Manual, strings.Join(features.Names, ", "))
}
