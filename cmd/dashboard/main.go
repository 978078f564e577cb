// Command dashboard prints the dashboard of one coin and window to stdout:
// the history KPIs, the market snapshot, the indicators and optionally a
// prediction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/CoinDash/internal/app"
	"github.com/Alias1177/CoinDash/internal/calculate"
	"github.com/Alias1177/CoinDash/internal/config"
	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/report"
	"github.com/Alias1177/CoinDash/internal/session"
)

func main() {
	coinFlag := flag.String("coin", "", "Coin symbol (default: the first catalog coin)")
	windowFlag := flag.String("window", "", "Window name (default: the coin's default window)")
	candlesFlag := flag.Int("candles", 10, "Number of recent candles to list")
	predictFlag := flag.Bool("predict", false, "Request a next-day high prediction")
	presetFlag := flag.String("preset", "", "Feature preset for feature-mode services: yesterday, today or manual")
	overridesFlag := flag.String("set", "", "Manual feature overrides, e.g. \"close=95000 volume=1200\"")
	timeoutFlag := flag.Duration("timeout", 10*time.Minute, "Overall timeout")
	flag.Parse()

	app.SetupLogging(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogging(cfg.LogLevel)
	printConfig(cfg)

	catalog, err := app.Catalog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build the coin catalog")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	s := session.New(0, catalog, app.SessionOptions(cfg))
	if *coinFlag != "" {
		if _, err := s.SelectCoin(*coinFlag); err != nil {
			log.Fatal().Err(err).Msg("Invalid coin")
		}
	}
	if *windowFlag != "" {
		if _, err := s.SelectWindow(*windowFlag); err != nil {
			log.Fatal().Err(err).Msg("Invalid window")
		}
	}

	if err := run(ctx, s, cfg.Indicators, *candlesFlag); err != nil {
		log.Fatal().Err(err).Msg("Dashboard failed")
	}
	if *predictFlag {
		if err := predict(ctx, s, *presetFlag, *overridesFlag); err != nil {
			log.Fatal().Err(err).Msg("Prediction failed")
		}
	}
}

func run(ctx context.Context, s *session.Session, indicators calculate.IndicatorConfig, candles int) error {
	coin, _ := s.Selection()
	now := time.Now()

	view := s.History(ctx)
	fmt.Println(report.History(coin, view, now))
	if view.Series == nil {
		return view.Err
	}
	fmt.Println(report.Candles(view.Series, candles))
	fmt.Println(report.Indicators(calculate.CalculateIndicators(view.Series, indicators)))
	fmt.Println(report.Snapshot(coin, s.Snapshot(ctx), now))
	return nil
}

func predict(ctx context.Context, s *session.Session, preset, overrides string) error {
	coin, _ := s.Selection()

	var req session.PredictRequest
	if preset != "" || overrides != "" {
		p, err := features.ParsePreset(preset)
		if err != nil {
			return err
		}
		req.Preset = p
	}
	if fields := strings.Fields(overrides); len(fields) > 0 {
		o, err := features.ParseOverrides(fields)
		if err != nil {
			return err
		}
		if preset == "" {
			req.Preset = features.Manual
		}
		req.Overrides = o
	}

	log.Info().Str("coin", coin.Symbol).Msg("Requesting prediction")
	rec, err := s.Predict(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", report.ErrorText(err), err)
	}
	fmt.Println(report.Prediction(coin, rec))
	return nil
}

// printConfig outputs the current configuration
func printConfig(cfg *config.Config) {
	log.Info().
		Strs("Coins", cfg.Symbols()).
		Dur("RequestTimeout", cfg.RequestTimeout).
		Int("MaxRetries", cfg.MaxRetries).
		Dur("HistoryTTL", cfg.HistoryTTL).
		Dur("SnapshotTTL", cfg.SnapshotTTL).
		Dur("RefreshCooldown", cfg.RefreshCooldown).
		Dur("PredictCooldown", cfg.PredictCooldown).
		Int("RSIPeriod", cfg.Indicators.RSIPeriod).
		Int("BBPeriod", cfg.Indicators.BBPeriod).
		Float64("BBStdDev", cfg.Indicators.BBStdDev).
		Bool("Proxy", cfg.Proxy != "").
		Msg("Configuration loaded")
}
