package market

import (
	"fmt"
	"strings"
	"time"
)

// Window is a named lookback/granularity pair.
type Window struct {
	Name     string
	Interval time.Duration
	Lookback int
}

// Span is the time range covered by the window.
func (w Window) Span() time.Duration {
	return w.Interval * time.Duration(w.Lookback)
}

func (w Window) String() string {
	return w.Name
}

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var windows = []Window{
	{Name: "day", Interval: time.Hour, Lookback: 24},
	{Name: "week", Interval: 4 * time.Hour, Lookback: 42},
	{Name: "month", Interval: day, Lookback: 30},
	{Name: "90d", Interval: day, Lookback: 90},
	{Name: "year", Interval: week, Lookback: 52},
	{Name: "2y", Interval: day, Lookback: 720},
}

// DefaultWindow is the window a new session starts with.
const DefaultWindow = "day"

// ParseWindow maps a window name to its interval and lookback. Unknown names
// are rejected instead of falling back to a default.
func ParseWindow(name string) (Window, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, w := range windows {
		if w.Name == key {
			return w, nil
		}
	}
	return Window{}, fmt.Errorf("%w: unsupported window %q (supported: %s)",
		ErrValidation, name, strings.Join(WindowNames(), ", "))
}

// Windows returns every supported window, shortest first.
func Windows() []Window {
	out := make([]Window, len(windows))
	copy(out, windows)
	return out
}

// WindowNames returns the supported window names, shortest first.
func WindowNames() []string {
	names := make([]string, len(windows))
	for i, w := range windows {
		names[i] = w.Name
	}
	return names
}
