package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource serves hourly rows ending at the clock's hour, or a queued error.
type fakeSource struct {
	clock *fakeClock
	calls int32
	gate  chan struct{}

	mu   sync.Mutex
	errs []error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) FetchCandles(ctx context.Context, symbol string, w Window) ([]RawCandle, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	end := s.clock.Now().Truncate(time.Hour)
	rows := make([]RawCandle, 0, w.Lookback)
	for i := w.Lookback - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * w.Interval)
		rows = append(rows, RawCandle{Time: ts.Unix(), Open: 10.0, High: 12.0, Low: 9.0, Close: 11.0})
	}
	return rows, nil
}

func (s *fakeSource) failNext(errs ...error) {
	s.mu.Lock()
	s.errs = append(s.errs, errs...)
	s.mu.Unlock()
}

func (s *fakeSource) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func newTestCache(t *testing.T) (*Cache, *fakeSource, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: base}
	src := &fakeSource{clock: clock}

	router := NewRouter()
	router.Route("BTC", src, nil)

	cache := NewCache(router, Options{TTL: 5 * time.Minute, Cooldown: 5 * time.Minute, Now: clock.Now})
	return cache, src, clock
}

func TestCache_GetWithinTTLIsMemoized(t *testing.T) {
	cache, src, clock := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Get(ctx, "BTC", "day")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(4 * time.Minute)
	second, err := cache.Get(ctx, "btc", "DAY")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if first != second {
		t.Error("Get() within TTL returned a different series")
	}
	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1", src.Calls())
	}

	clock.Advance(2 * time.Minute)
	third, err := cache.Get(ctx, "BTC", "day")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if third == first {
		t.Error("Get() after TTL returned the expired series")
	}
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2", src.Calls())
	}
}

func TestCache_WindowsAreCachedSeparately(t *testing.T) {
	cache, src, _ := newTestCache(t)
	ctx := context.Background()

	day, err := cache.Get(ctx, "BTC", "day")
	if err != nil {
		t.Fatalf("Get(day) error = %v", err)
	}
	week, err := cache.Get(ctx, "BTC", "week")
	if err != nil {
		t.Fatalf("Get(week) error = %v", err)
	}
	if day.Window != "day" || week.Window != "week" {
		t.Errorf("windows = %s, %s", day.Window, week.Window)
	}
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2", src.Calls())
	}
}

func TestCache_RefreshIfAllowedHonorsCooldown(t *testing.T) {
	cache, src, clock := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.RefreshIfAllowed(ctx, "BTC", "day")
	if err != nil || !ok {
		t.Fatalf("first RefreshIfAllowed() = %v, %v; want true, nil", ok, err)
	}
	ok, err = cache.RefreshIfAllowed(ctx, "BTC", "day")
	if err != nil || ok {
		t.Fatalf("second RefreshIfAllowed() = %v, %v; want false, nil", ok, err)
	}
	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1", src.Calls())
	}
	if got := cache.CooldownRemaining("BTC", "day"); got != 5*time.Minute {
		t.Errorf("CooldownRemaining() = %v, want 5m", got)
	}

	clock.Advance(5 * time.Minute)
	ok, err = cache.RefreshIfAllowed(ctx, "BTC", "day")
	if err != nil || !ok {
		t.Fatalf("RefreshIfAllowed() after cooldown = %v, %v; want true, nil", ok, err)
	}
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2", src.Calls())
	}
}

func TestCache_NoCooldown(t *testing.T) {
	clock := &fakeClock{now: base}
	src := &fakeSource{clock: clock}
	router := NewRouter()
	router.Route("BTC", src, nil)
	cache := NewCache(router, Options{TTL: 5 * time.Minute, Cooldown: NoCooldown, Now: clock.Now})
	ctx := context.Background()

	if got := cache.CooldownPeriod(); got != 0 {
		t.Errorf("CooldownPeriod() = %v, want 0", got)
	}
	for i := 0; i < 3; i++ {
		ok, err := cache.RefreshIfAllowed(ctx, "BTC", "day")
		if err != nil || !ok {
			t.Fatalf("RefreshIfAllowed() #%d = %v, %v; want true, nil", i+1, ok, err)
		}
	}
	if src.Calls() != 3 {
		t.Errorf("calls = %d, want 3", src.Calls())
	}
}

func TestCache_FirstLoadArmsCooldown(t *testing.T) {
	cache, src, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "BTC", "day"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	ok, err := cache.RefreshIfAllowed(ctx, "BTC", "day")
	if err != nil || ok {
		t.Fatalf("RefreshIfAllowed() = %v, %v; want false, nil", ok, err)
	}
	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1", src.Calls())
	}
}

func TestCache_FailureKeepsPreviousSeries(t *testing.T) {
	cache, src, clock := newTestCache(t)
	ctx := context.Background()

	good, err := cache.Get(ctx, "BTC", "day")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	clock.Advance(6 * time.Minute)
	timeout := errors.New("dial tcp: i/o timeout")
	src.failNext(fmt.Errorf("kraken: after 3 attempt(s): %w", timeout))

	_, err = cache.Get(ctx, "BTC", "day")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("Get() error = %v, want ErrUpstreamUnavailable", err)
	}
	if !errors.Is(err, timeout) {
		t.Errorf("Get() error = %v, want the transport cause kept", err)
	}

	stale, ok := cache.Stale("BTC", "day")
	if !ok || stale != good {
		t.Error("failed fetch replaced the previous series")
	}
	if at, _ := cache.RefreshedAt("BTC", "day"); !at.Equal(base) {
		t.Errorf("RefreshedAt() = %v, want %v", at, base)
	}
}

func TestCache_FailedRefreshDoesNotArmCooldown(t *testing.T) {
	cache, src, _ := newTestCache(t)
	ctx := context.Background()

	src.failNext(errors.New("connection refused"))
	ok, err := cache.RefreshIfAllowed(ctx, "BTC", "day")
	if !ok || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("RefreshIfAllowed() = %v, %v; want true, ErrUpstreamUnavailable", ok, err)
	}
	if got := cache.CooldownRemaining("BTC", "day"); got != 0 {
		t.Errorf("CooldownRemaining() = %v, want 0", got)
	}

	ok, err = cache.RefreshIfAllowed(ctx, "BTC", "day")
	if !ok || err != nil {
		t.Fatalf("retry RefreshIfAllowed() = %v, %v; want true, nil", ok, err)
	}
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2", src.Calls())
	}
}

func TestCache_ValidationBeforeNetwork(t *testing.T) {
	cache, src, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "DOGE", "day"); !errors.Is(err, ErrValidation) {
		t.Errorf("Get(DOGE) error = %v, want ErrValidation", err)
	}
	if _, err := cache.Get(ctx, "BTC", "fortnight"); !errors.Is(err, ErrValidation) {
		t.Errorf("Get(fortnight) error = %v, want ErrValidation", err)
	}
	if src.Calls() != 0 {
		t.Errorf("calls = %d, want 0", src.Calls())
	}
}

func TestCache_ConcurrentGetsShareOneFetch(t *testing.T) {
	cache, src, _ := newTestCache(t)
	src.gate = make(chan struct{})
	ctx := context.Background()

	const readers = 8
	results := make([]*Series, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Get(ctx, "BTC", "day")
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			results[i] = s
		}(i)
	}

	// Let the first fetch through once someone is waiting on it.
	for src.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(src.gate)
	wg.Wait()

	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1", src.Calls())
	}
	for i := 1; i < readers; i++ {
		if results[i] != results[0] {
			t.Fatalf("reader %d saw a different series", i)
		}
	}
}

func TestCache_RefreshAll(t *testing.T) {
	cache, src, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "BTC", "day"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	n, err := cache.RefreshAll(ctx, "BTC")
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if want := len(Windows()) - 1; n != want {
		t.Errorf("RefreshAll() = %d, want %d (day is cooling down)", n, want)
	}
	if src.Calls() != len(Windows()) {
		t.Errorf("calls = %d, want %d", src.Calls(), len(Windows()))
	}
}

type fakeSnapshots struct {
	calls int
	err   error
}

func (f *fakeSnapshots) Name() string { return "fake" }

func (f *fakeSnapshots) FetchSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Snapshot{Symbol: symbol, Source: "fake", Price: 100 + float64(f.calls), LastUpdated: base}, nil
}

func TestSnapshotCache(t *testing.T) {
	clock := &fakeClock{now: base}
	src := &fakeSnapshots{}
	router := NewRouter()
	router.Route("SOL", nil, src)
	cache := NewSnapshotCache(router, Options{TTL: time.Minute, Cooldown: 2 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	snap, err := cache.Get(ctx, "sol")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Price != 101 {
		t.Errorf("Price = %v, want 101", snap.Price)
	}
	if again, _ := cache.Get(ctx, "SOL"); again != snap || src.calls != 1 {
		t.Errorf("Get() within TTL refetched (calls = %d)", src.calls)
	}

	clock.Advance(90 * time.Second)
	if ok, _ := cache.RefreshIfAllowed(ctx, "SOL"); ok {
		t.Error("RefreshIfAllowed() ran during the cooldown")
	}

	clock.Advance(time.Minute)
	src.err = errors.New("boom")
	ok, err := cache.RefreshIfAllowed(ctx, "SOL")
	if !ok || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("RefreshIfAllowed() = %v, %v", ok, err)
	}
	if stale, ok := cache.Stale("SOL"); !ok || stale != snap {
		t.Error("failed refresh replaced the snapshot")
	}

	if _, err := cache.Get(ctx, "BTC"); !errors.Is(err, ErrValidation) {
		t.Errorf("Get(BTC) error = %v, want ErrValidation", err)
	}
}
