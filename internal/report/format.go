package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const na = "n/a"

// Money formats a USD amount with grouped thousands. Amounts under $10 keep
// four decimals so that low-priced coins stay readable.
func Money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return na
	}
	if v < 0 {
		return "-" + Money(-v)
	}
	if v < 10 {
		return "$" + humanize.FormatFloat("#,###.####", v)
	}
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// Compact formats a large USD amount as "$1.23 B" or "$456.78 M".
func Compact(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return na
	}
	switch abs := math.Abs(v); {
	case abs >= 1e9:
		return "$" + humanize.FormatFloat("#,###.##", v/1e9) + " B"
	case abs >= 1e6:
		return "$" + humanize.FormatFloat("#,###.##", v/1e6) + " M"
	}
	return Money(v)
}

// Quantity formats an amount of units, in millions when large ("123.45 M SOL").
func Quantity(v float64, unit string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return na
	}
	if math.Abs(v) >= 1e6 {
		return humanize.FormatFloat("#,###.##", v/1e6) + " M " + unit
	}
	return humanize.FormatFloat("#,###.##", v) + " " + unit
}

// Percent formats a signed percentage.
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return na
	}
	return fmt.Sprintf("%+.2f%%", v)
}

// SignedMoney formats a USD difference with an explicit sign.
func SignedMoney(v float64) string {
	if v < 0 {
		return "-" + Money(-v)
	}
	return "+" + Money(v)
}

// Duration formats a wait like "4m 10s", rounded to the second.
func Duration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}

	var parts []string
	if h := d / time.Hour; h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// Ago describes t relative to now ("3 minutes ago").
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func optMoney(v *float64) string {
	if v == nil {
		return na
	}
	return Money(*v)
}

func optCompact(v *float64) string {
	if v == nil {
		return na
	}
	return Compact(*v)
}
