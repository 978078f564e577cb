// Package bot is the Telegram front-end of the dashboard. Every chat is one
// session; updates of different chats are handled concurrently.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/CoinDash/internal/calculate"
	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/market"
	"github.com/Alias1177/CoinDash/internal/report"
	"github.com/Alias1177/CoinDash/internal/session"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Options configures a Bot.
type Options struct {
	Indicators calculate.IndicatorConfig
	// HandlerTimeout bounds one update. Cold-starting prediction services
	// may need several minutes.
	HandlerTimeout time.Duration
	// RecentCandles is how many candles /history lists.
	RecentCandles int
	Now           func() time.Time
}

// Bot routes Telegram updates to sessions.
type Bot struct {
	api      Sender
	sessions *session.Manager
	opts     Options
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// New creates a bot.
func New(api Sender, sessions *session.Manager, opts Options) *Bot {
	if opts.Indicators == (calculate.IndicatorConfig{}) {
		opts.Indicators = calculate.DefaultIndicatorConfig()
	}
	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = 15 * time.Minute
	}
	if opts.RecentCandles == 0 {
		opts.RecentCandles = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bot{
		api:      api,
		sessions: sessions,
		opts:     opts,
		logger:   log.With().Str("component", "bot").Logger(),
	}
}

// Run handles updates until ctx is done or the channel closes, then waits for
// the handlers in flight.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate handles one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Update handler panicked")
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	command, args := "", []string(nil)
	if message.IsCommand() {
		command = message.Command()
		args = strings.Fields(message.CommandArguments())
	} else {
		command = menuCommands[strings.TrimSpace(message.Text)]
	}

	b.logger.Debug().Int64("chat_id", chatID).Str("command", command).Strs("args", args).Msg("Message received")

	if command == "start" {
		b.sessions.Reset(chatID)
	}
	s := b.sessions.Get(chatID)

	switch command {
	case "start":
		b.sendWithMarkup(chatID, "Welcome to CoinDash! Pick a coin to start, or use /help.", mainMenuKeyboard())
		b.sendWithMarkup(chatID, "Select a coin:", coinKeyboard(s.Catalog().Symbols()))
	case "help":
		b.send(chatID, helpText(s.RefreshCooldown()))
	case "coin":
		if len(args) == 0 {
			b.sendWithMarkup(chatID, "Select a coin:", coinKeyboard(s.Catalog().Symbols()))
			return
		}
		b.selectCoin(ctx, s, chatID, args[0])
	case "window":
		if len(args) == 0 {
			b.sendWithMarkup(chatID, "Select a window:", windowKeyboard())
			return
		}
		b.selectWindow(ctx, s, chatID, args[0])
	case "history":
		b.sendHistory(ctx, s, chatID)
	case "refresh":
		if len(args) > 0 && strings.EqualFold(args[0], "all") {
			b.refreshAll(ctx, s, chatID)
			return
		}
		b.refresh(ctx, s, chatID)
	case "metrics":
		b.sendMetrics(ctx, s, chatID)
	case "predict":
		b.predict(ctx, s, chatID, args)
	case "predictions":
		b.send(chatID, report.Predictions(s.Predictions()))
	case "panels":
		b.send(chatID, report.Panels(s.Panels()))
	default:
		b.sendWithMarkup(chatID, "Unknown command.\n\n"+helpText(s.RefreshCooldown()), mainMenuKeyboard())
	}
}

var menuCommands = map[string]string{
	labelCoin:        "coin",
	labelWindow:      "window",
	labelHistory:     "history",
	labelMetrics:     "metrics",
	labelRefresh:     "refresh",
	labelPredict:     "predict",
	labelPredictions: "predictions",
	labelPanels:      "panels",
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	data := callback.Data

	// Acknowledge the callback query
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to acknowledge callback")
	}

	s := b.sessions.Get(chatID)

	switch {
	case strings.HasPrefix(data, coinPrefix):
		b.selectCoin(ctx, s, chatID, strings.TrimPrefix(data, coinPrefix))
	case strings.HasPrefix(data, windowPrefix):
		b.selectWindow(ctx, s, chatID, strings.TrimPrefix(data, windowPrefix))
	case strings.HasPrefix(data, predictPrefix):
		b.predict(ctx, s, chatID, []string{strings.TrimPrefix(data, predictPrefix)})
	case data == mainMenu:
		b.sendWithMarkup(chatID, "What would you like to do?", mainMenuKeyboard())
	default:
		b.logger.Warn().Int64("chat_id", chatID).Str("data", data).Msg("Unknown callback data")
	}
}

func (b *Bot) selectCoin(ctx context.Context, s *session.Session, chatID int64, symbol string) {
	coin, err := s.SelectCoin(symbol)
	if err != nil {
		b.send(chatID, report.ErrorText(err))
		return
	}
	b.sendWithMarkup(chatID, fmt.Sprintf("Selected coin: %s (%s), window: %s", coin.Name, coin.Symbol, coin.DefaultWindow), windowKeyboard())
	b.sendHistory(ctx, s, chatID)
}

func (b *Bot) selectWindow(ctx context.Context, s *session.Session, chatID int64, name string) {
	if _, err := s.SelectWindow(name); err != nil {
		b.send(chatID, report.ErrorText(err))
		return
	}
	b.sendHistory(ctx, s, chatID)
}

func (b *Bot) sendHistory(ctx context.Context, s *session.Session, chatID int64) {
	coin, _ := s.Selection()
	view := s.History(ctx)

	text := report.History(coin, view, b.opts.Now())
	if view.Series != nil {
		text += "\n" + report.Candles(view.Series, b.opts.RecentCandles)
	}
	if view.Cooldown > 0 {
		text += fmt.Sprintf("\nNext refresh in %s.", report.Duration(view.Cooldown))
	}
	b.send(chatID, text)
}

func (b *Bot) refresh(ctx context.Context, s *session.Session, chatID int64) {
	res, err := s.Refresh(ctx)
	if err != nil {
		b.send(chatID, "Refresh failed: "+report.ErrorText(err))
		return
	}
	b.send(chatID, report.RefreshHint(res))
	if res.Refreshed {
		b.sendHistory(ctx, s, chatID)
	}
}

func (b *Bot) refreshAll(ctx context.Context, s *session.Session, chatID int64) {
	n, err := s.RefreshAll(ctx)
	if err != nil {
		b.send(chatID, fmt.Sprintf("Refresh stopped after %d window(s): %s", n, report.ErrorText(err)))
		return
	}
	b.send(chatID, report.RefreshAllHint(n, len(market.Windows())))
}

func (b *Bot) sendMetrics(ctx context.Context, s *session.Session, chatID int64) {
	coin, _ := s.Selection()
	now := b.opts.Now()

	var parts []string
	parts = append(parts, report.Snapshot(coin, s.Snapshot(ctx), now))

	view := s.History(ctx)
	if view.Series != nil {
		parts = append(parts, report.Indicators(calculate.CalculateIndicators(view.Series, b.opts.Indicators)))
	} else {
		parts = append(parts, "Indicators unavailable: "+report.ErrorText(view.Err))
	}
	b.send(chatID, strings.Join(parts, "\n"))
}

func (b *Bot) predict(ctx context.Context, s *session.Session, chatID int64, args []string) {
	coin, _ := s.Selection()
	if coin.Predictor == nil {
		b.send(chatID, fmt.Sprintf("%s has no prediction service.", coin.Name))
		return
	}

	req, err := parsePredictArgs(args)
	if err != nil {
		b.send(chatID, report.ErrorText(err)+"\n"+report.PresetHelp())
		return
	}
	if left := s.PredictCooldown(coin.Symbol); left > 0 {
		b.send(chatID, fmt.Sprintf("Next %s prediction in %s.", coin.Symbol, report.Duration(left)))
		return
	}

	b.send(chatID, fmt.Sprintf("Requesting the %s prediction. The service may need a minute to wake up...", coin.Name))
	rec, err := s.Predict(ctx, req)
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Str("coin", coin.Symbol).Msg("Prediction failed")
		b.send(chatID, "Prediction failed: "+report.ErrorText(err))
		return
	}

	text := report.Prediction(coin, rec)
	if len(args) == 0 && rec.Features != nil {
		b.sendWithMarkup(chatID, text, presetKeyboard())
		return
	}
	b.send(chatID, text)
}

// parsePredictArgs reads "[preset] [name=value ...]". Overrides without a
// preset imply manual.
func parsePredictArgs(args []string) (session.PredictRequest, error) {
	var req session.PredictRequest
	if len(args) > 0 && !strings.Contains(args[0], "=") {
		preset, err := features.ParsePreset(args[0])
		if err != nil {
			return req, err
		}
		req.Preset = preset
		args = args[1:]
	}
	if len(args) == 0 {
		return req, nil
	}

	overrides, err := features.ParseOverrides(args)
	if err != nil {
		return req, err
	}
	if req.Preset == "" {
		req.Preset = features.Manual
	}
	req.Overrides = overrides
	return req, nil
}

func (b *Bot) send(chatID int64, text string) {
	b.sendWithMarkup(chatID, text, nil)
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func helpText(cooldown time.Duration) string {
	refresh := "/refresh [all] refetch the data, or every window of the coin"
	if cooldown > 0 {
		refresh += " (" + report.Duration(cooldown) + " cooldown)"
	}
	return strings.Join([]string{
		"/coin [SYMBOL] select a coin",
		"/window [" + strings.Join(market.WindowNames(), "|") + "] select a window",
		"/history show the selected series",
		refresh,
		"/metrics market snapshot and indicators",
		"/predict [yesterday|today|manual name=value ...] next-day high",
		"/predictions your prediction history",
		"/panels last prediction of each preset",
		report.PresetHelp(),
	}, "\n")
}
