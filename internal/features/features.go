// Package features builds the lag feature set sent to feature-mode
// prediction services from a daily candle series.
package features

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/market"
)

// Feature names, in the order services document them.
const (
	CloseLag1 = "close_lag1"
	CloseLag3 = "close_lag3"
	CloseLag7 = "close_lag7"
	Body      = "body"
	Year      = "timeHigh_year"
	Close     = "close"
	Volume    = "volume"
	// Open is not sent; it is kept so that Manual overrides can recompute Body.
	Open = "open"
)

// Names lists the features sent to the service.
var Names = []string{CloseLag1, CloseLag3, CloseLag7, Body, Year, Close, Volume}

// Preset selects the day the features describe.
type Preset string

const (
	// Yesterday uses the last complete daily candle.
	Yesterday Preset = "yesterday"
	// Today uses the current, still forming daily candle.
	Today Preset = "today"
	// Manual starts from Today and applies user overrides.
	Manual Preset = "manual"
)

// maxLag is the deepest close lag, in days.
const maxLag = 7

// Presets lists the presets in display order.
var Presets = []Preset{Yesterday, Today, Manual}

// ParsePreset validates a preset name. Empty means Yesterday.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Yesterday, nil
	case Yesterday, Today, Manual:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown preset %q (use yesterday, today or manual)", market.ErrValidation, s)
}

// Set is one built feature set.
type Set struct {
	Preset Preset
	// Day is the open time of the candle the features describe.
	Day    time.Time
	Values map[string]float64
}

// Payload returns the values sent to the service, without helper fields.
func (s *Set) Payload() map[string]float64 {
	out := make(map[string]float64, len(Names))
	for _, name := range Names {
		out[name] = s.Values[name]
	}
	return out
}

// Build derives the feature set of preset from a daily series. now supplies
// timeHigh_year. Manual applies overrides on top of Today; other presets
// reject overrides. A missing lag or volume is a validation error.
func Build(series *market.Series, preset Preset, now time.Time, overrides map[string]float64) (*Set, error) {
	if series == nil {
		return nil, fmt.Errorf("%w: no daily series to build features from", market.ErrValidation)
	}
	idx := series.Len() - 1
	switch preset {
	case Yesterday:
		idx--
	case Today, Manual:
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", market.ErrValidation, preset)
	}
	if len(overrides) > 0 && preset != Manual {
		return nil, fmt.Errorf("%w: overrides need the manual preset", market.ErrValidation)
	}

	day, ok := series.At(idx)
	if idx < 0 || !ok {
		return nil, fmt.Errorf("%w: series has %d candle(s), %s needs more", market.ErrValidation, series.Len(), preset)
	}

	// Lags count rows, so every row from the deepest lag to day must be one day apart.
	for i := max(idx-maxLag, 0) + 1; i <= idx; i++ {
		prev, cur := series.Candles[i-1].Time, series.Candles[i].Time
		if step := cur.Sub(prev); step != 24*time.Hour {
			return nil, fmt.Errorf("%w: features need consecutive daily candles, %s series has a %s step at %s",
				market.ErrValidation, series.Window, step, cur.Format("2006-01-02"))
		}
	}

	values := map[string]float64{
		Close: day.Close,
		Open:  day.Open,
		Body:  day.Close - day.Open,
		Year:  float64(now.UTC().Year()),
	}
	if day.Volume == nil {
		return nil, fmt.Errorf("%w: candle of %s has no volume", market.ErrValidation, day.Time.Format("2006-01-02"))
	}
	values[Volume] = *day.Volume

	lags := []struct {
		name string
		back int
	}{{CloseLag1, 1}, {CloseLag3, 3}, {CloseLag7, maxLag}}
	for _, lag := range lags {
		c, ok := series.At(idx - lag.back)
		if idx-lag.back < 0 || !ok {
			return nil, fmt.Errorf("%w: %s needs %d earlier daily candle(s), series has %d", market.ErrValidation, lag.name, lag.back, idx)
		}
		values[lag.name] = c.Close
	}

	if err := applyOverrides(values, overrides); err != nil {
		return nil, err
	}
	return &Set{Preset: preset, Day: day.Time, Values: values}, nil
}

// applyOverrides replaces values by name. Overriding open or close without
// body recomputes body.
func applyOverrides(values, overrides map[string]float64) error {
	_, bodySet := overrides[Body]
	recompute := false
	for name, v := range overrides {
		if _, known := values[name]; !known {
			return fmt.Errorf("%w: unknown feature %q (known: %s, %s)", market.ErrValidation, name, strings.Join(Names, ", "), Open)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %s is not a finite number", market.ErrValidation, name)
		}
		values[name] = v
		if name == Open || name == Close {
			recompute = true
		}
	}
	if recompute && !bodySet {
		values[Body] = values[Close] - values[Open]
	}
	return nil
}

// ParseOverrides parses "name=value" arguments.
func ParseOverrides(args []string) (map[string]float64, error) {
	out := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: override %q is not name=value", market.ErrValidation, arg)
		}
		v, ok := market.ParseFloat(strings.ReplaceAll(raw, ",", ""))
		if !ok {
			return nil, fmt.Errorf("%w: override %q has no valid number", market.ErrValidation, arg)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

// Sorted returns the payload names in send order followed by any extras.
func (s *Set) Sorted() []string {
	seen := make(map[string]bool, len(Names))
	out := make([]string, 0, len(s.Values))
	for _, name := range Names {
		out = append(out, name)
		seen[name] = true
	}
	var extra []string
	for name := range s.Values {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
