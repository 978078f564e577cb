package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Alias1177/CoinDash/internal/api/predictor"
	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/market"
	"github.com/Alias1177/CoinDash/internal/session"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	acks     int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := c.(tgbotapi.CallbackConfig); ok {
		f.acks++
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Text
	}
	return out
}

func (f *fakeSender) all() string {
	return strings.Join(f.texts(), "\n---\n")
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.messages = nil
	f.mu.Unlock()
}

type fakeMarket struct{ now func() time.Time }

func (m fakeMarket) Name() string { return "fake" }

func (m fakeMarket) FetchCandles(ctx context.Context, symbol string, w market.Window) ([]market.RawCandle, error) {
	end := m.now().Truncate(w.Interval)
	rows := make([]market.RawCandle, 0, w.Lookback)
	for i := 0; i < w.Lookback; i++ {
		c := 100.0 + float64(i%5)
		rows = append(rows, market.RawCandle{
			Time:   end.Add(-time.Duration(w.Lookback-1-i) * w.Interval).Unix(),
			Open:   c,
			High:   c + 2,
			Low:    c - 2,
			Close:  c + 1,
			Volume: 50.0,
		})
	}
	return rows, nil
}

func (m fakeMarket) FetchSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	return &market.Snapshot{Symbol: symbol, Source: "fake", Price: 104, LastUpdated: m.now()}, nil
}

type fakePredictor struct {
	endpoint predictor.Endpoint
	sent     []map[string]float64
}

func (p *fakePredictor) Endpoint() predictor.Endpoint { return p.endpoint }

func (p *fakePredictor) Predict(ctx context.Context, f map[string]float64) (*predictor.Prediction, error) {
	p.sent = append(p.sent, f)
	return &predictor.Prediction{Symbol: p.endpoint.Symbol, Value: 110, Field: "yhat"}, nil
}

func newTestBot(t *testing.T) (*Bot, *fakeSender, *fakePredictor) {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	m := fakeMarket{now: now}

	router := market.NewRouter()
	router.Route("BTC", m, m)
	router.Route("XRP", m, m)

	btc := &fakePredictor{endpoint: predictor.Endpoint{Symbol: "BTC", Mode: predictor.ModeFeatures}}
	catalog, err := session.NewCatalog(router, router,
		session.Coin{Symbol: "BTC", Name: "Bitcoin", DefaultWindow: "90d", Predictor: btc},
		session.Coin{Symbol: "XRP", Name: "XRP", DefaultWindow: "day"},
	)
	if err != nil {
		t.Fatal(err)
	}

	sender := &fakeSender{}
	opts := session.Options{HistoryTTL: 5 * time.Minute, SnapshotTTL: time.Minute, RefreshCooldown: 5 * time.Minute, Now: now}
	return New(sender, session.NewManager(catalog, opts), Options{Now: now}), sender, btc
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func callback(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func TestStart(t *testing.T) {
	b, sender, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), command(1, "/start"))

	if len(sender.messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sender.messages))
	}
	kb, ok := sender.messages[1].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("coin menu markup = %T", sender.messages[1].ReplyMarkup)
	}
	if got := *kb.InlineKeyboard[0][1].CallbackData; got != "coin_XRP" {
		t.Errorf("second coin button = %s, want coin_XRP", got)
	}
}

func TestCoinAndWindowSelection(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, callback(1, "coin_XRP"))
	if sender.acks != 1 {
		t.Errorf("acks = %d, want 1", sender.acks)
	}
	if out := sender.all(); !strings.Contains(out, "Selected coin: XRP (XRP), window: day") || !strings.Contains(out, "Candles: 24") {
		t.Errorf("coin selection output:\n%s", out)
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/window week"))
	if out := sender.all(); !strings.Contains(out, "Candles: 42") {
		t.Errorf("window selection output:\n%s", out)
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/window decade"))
	if out := sender.all(); !strings.Contains(out, "unsupported window") {
		t.Errorf("bad window output:\n%s", out)
	}
}

func TestSessionsArePerChat(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/coin XRP"))
	sender.reset()
	b.HandleUpdate(ctx, command(2, "/history"))

	if out := sender.all(); !strings.Contains(out, "Bitcoin (BTC)") {
		t.Errorf("chat 2 did not start on the default coin:\n%s", out)
	}
}

func TestRefreshCooldownHint(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/history"))
	sender.reset()
	b.HandleUpdate(ctx, command(1, "/refresh"))

	if out := sender.all(); !strings.Contains(out, "next refresh in 5m") {
		t.Errorf("refresh output:\n%s", out)
	}
}

func TestRefreshAll(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/history"))
	sender.reset()
	b.HandleUpdate(ctx, command(1, "/refresh all"))
	want := fmt.Sprintf("Refreshed %d of %d windows.", len(market.Windows())-1, len(market.Windows()))
	if out := sender.all(); !strings.Contains(out, want) {
		t.Errorf("refresh all output:\n%s\nwant %q", out, want)
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/refresh ALL"))
	if out := sender.all(); !strings.Contains(out, "Every window is cooling down") {
		t.Errorf("second refresh all output:\n%s", out)
	}
}

func TestHelpText(t *testing.T) {
	tests := []struct {
		cooldown time.Duration
		want     string
		absent   bool
	}{
		{5 * time.Minute, "(5m cooldown)", false},
		{90 * time.Second, "(1m 30s cooldown)", false},
		{0, "cooldown", true},
	}
	for _, tt := range tests {
		got := helpText(tt.cooldown)
		if strings.Contains(got, tt.want) == tt.absent {
			t.Errorf("helpText(%v) = %q, contains %q: %v", tt.cooldown, got, tt.want, !tt.absent)
		}
	}

	b, sender, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), command(1, "/help"))
	if out := sender.all(); !strings.Contains(out, "(5m cooldown)") {
		t.Errorf("help output:\n%s", out)
	}
}

func TestPredict(t *testing.T) {
	b, sender, btc := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/predict manual close=105 volume=1,000"))
	if len(btc.sent) != 1 {
		t.Fatalf("predictor calls = %d, want 1", len(btc.sent))
	}
	if btc.sent[0][features.Close] != 105 || btc.sent[0][features.Volume] != 1000 {
		t.Errorf("sent = %v", btc.sent[0])
	}
	if out := sender.all(); !strings.Contains(out, "Predicted high: $110.00") || !strings.Contains(out, "(manual)") {
		t.Errorf("predict output:\n%s", out)
	}

	sender.reset()
	b.HandleUpdate(ctx, callback(1, "predict_today"))
	if out := sender.all(); !strings.Contains(out, "Next BTC prediction in 5m") {
		t.Errorf("cooldown output:\n%s", out)
	}
	if len(btc.sent) != 1 {
		t.Errorf("predictor calls = %d after cooldown refusal, want 1", len(btc.sent))
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/predictions"))
	if out := sender.all(); !strings.Contains(out, "BTC $110.00 [manual]") {
		t.Errorf("predictions output:\n%s", out)
	}
}

func TestPanels(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/panels"))
	if out := sender.all(); !strings.Contains(out, "yesterday: no prediction yet") || !strings.Contains(out, "manual: no prediction yet") {
		t.Errorf("empty panels output:\n%s", out)
	}

	b.HandleUpdate(ctx, command(1, "/predict manual close=105"))
	sender.reset()
	b.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: labelPanels}})
	out := sender.all()
	if !strings.Contains(out, "manual: $110.00") {
		t.Errorf("panels output lacks the manual result:\n%s", out)
	}
	if !strings.Contains(out, "today: no prediction yet") {
		t.Errorf("panels output lacks the empty today panel:\n%s", out)
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/coin XRP"))
	sender.reset()
	b.HandleUpdate(ctx, command(1, "/panels"))
	if out := sender.all(); !strings.Contains(out, "XRP has no prediction service") {
		t.Errorf("panels output for XRP:\n%s", out)
	}
}

func TestPredict_CoinWithoutService(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, command(1, "/coin xrp"))
	sender.reset()
	b.HandleUpdate(ctx, command(1, "/predict"))

	if out := sender.all(); !strings.Contains(out, "XRP has no prediction service") {
		t.Errorf("predict output:\n%s", out)
	}
}

func TestParsePredictArgs(t *testing.T) {
	tests := []struct {
		args    []string
		preset  features.Preset
		wantErr bool
	}{
		{nil, "", false},
		{[]string{"today"}, features.Today, false},
		{[]string{"close=1"}, features.Manual, false},
		{[]string{"manual", "close=1"}, features.Manual, false},
		{[]string{"tomorrow"}, "", true},
		{[]string{"manual", "close"}, "", true},
	}
	for _, tt := range tests {
		req, err := parsePredictArgs(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePredictArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if err == nil && req.Preset != tt.preset {
			t.Errorf("parsePredictArgs(%v) preset = %q, want %q", tt.args, req.Preset, tt.preset)
		}
	}
}

func TestMenuLabelsAndUnknown(t *testing.T) {
	b, sender, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: labelMetrics}})
	if out := sender.all(); !strings.Contains(out, "Spot price: $104.00") || !strings.Contains(out, "Indicators") {
		t.Errorf("metrics output:\n%s", out)
	}

	sender.reset()
	b.HandleUpdate(ctx, command(1, "/bogus"))
	if out := sender.all(); !strings.Contains(out, "Unknown command") {
		t.Errorf("unknown command output:\n%s", out)
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	b, sender, _ := newTestBot(t)
	updates := make(chan tgbotapi.Update, 2)
	updates <- command(1, "/help")
	updates <- command(2, "/help")
	close(updates)

	b.Run(context.Background(), updates)

	if got := len(sender.texts()); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}
