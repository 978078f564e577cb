// Package app wires configuration into the upstream clients, the source
// router and the coin catalog shared by the commands.
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/CoinDash/internal/api/coingecko"
	"github.com/Alias1177/CoinDash/internal/api/kraken"
	"github.com/Alias1177/CoinDash/internal/api/predictor"
	"github.com/Alias1177/CoinDash/internal/config"
	"github.com/Alias1177/CoinDash/internal/market"
	httpClient "github.com/Alias1177/CoinDash/internal/platform/http"
	"github.com/Alias1177/CoinDash/internal/session"
)

// SetupLogging configures the global logger. Unknown levels fall back to info.
func SetupLogging(logLevel string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}

// Catalog builds the upstream clients and the coin catalog described by cfg.
// Upstream clients are shared by every coin that uses them.
func Catalog(cfg *config.Config) (*session.Catalog, error) {
	pairs := make(map[string]string)
	ids := make(map[string]string)
	for _, c := range cfg.Coins {
		if c.KrakenPair != "" {
			pairs[c.Symbol] = c.KrakenPair
		}
		if c.CoinGeckoID != "" {
			ids[c.Symbol] = c.CoinGeckoID
		}
	}

	upstream := func(name string) *httpClient.Client {
		return httpClient.NewClient(httpClient.ClientOptions{
			Name:           name,
			Timeout:        cfg.RequestTimeout,
			RequestsPerSec: cfg.RequestsPerSec,
			MaxRetries:     cfg.MaxRetries,
			RetryDelay:     cfg.RetryDelay,
			MaxRetryDelay:  cfg.MaxRetryDelay,
			Proxy:          cfg.Proxy,
		})
	}

	krakenClient := kraken.NewClient(kraken.ClientOptions{
		BaseURL: cfg.KrakenBaseURL,
		Pairs:   pairs,
		HTTP:    upstream(config.SourceKraken),
	})
	geckoClient := coingecko.NewClient(coingecko.ClientOptions{
		BaseURL: cfg.CoinGeckoBaseURL,
		IDs:     ids,
		APIKey:  cfg.CoinGeckoAPIKey,
		HTTP:    upstream(config.SourceCoinGecko),
	})

	candleSources := map[string]market.Source{
		config.SourceKraken:    krakenClient,
		config.SourceCoinGecko: geckoClient,
	}
	snapshotSources := map[string]market.SnapshotSource{
		config.SourceKraken:          krakenClient,
		config.SourceCoinGecko:       geckoClient,
		config.SourceCoinGeckoSimple: geckoClient.SimplePrice(),
	}

	router := market.NewRouter()
	coins := make([]session.Coin, 0, len(cfg.Coins))
	for _, c := range cfg.Coins {
		candles, ok := candleSources[c.History]
		if !ok {
			return nil, fmt.Errorf("coin %s: unknown history source %q", c.Symbol, c.History)
		}
		snapName := c.Snapshot
		if snapName == "" {
			snapName = c.History
		}
		snapshot, ok := snapshotSources[snapName]
		if !ok {
			return nil, fmt.Errorf("coin %s: unknown snapshot source %q", c.Symbol, snapName)
		}
		router.Route(c.Symbol, candles, snapshot)

		coin := session.Coin{
			Symbol:        c.Symbol,
			Name:          c.Name,
			DefaultWindow: c.DefaultWindow,
			FeatureWindow: c.Predict.Window,
		}
		if c.Predict.URL != "" {
			p, err := newPredictor(c)
			if err != nil {
				return nil, err
			}
			coin.Predictor = p
		}
		coins = append(coins, coin)

		log.Debug().
			Str("coin", c.Symbol).
			Str("history", c.History).
			Str("snapshot", snapName).
			Bool("predict", coin.Predictor != nil).
			Msg("Coin routed")
	}

	return session.NewCatalog(router, router, coins...)
}

func newPredictor(c config.Coin) (*predictor.Client, error) {
	mode, err := predictor.ParseMode(c.Predict.Mode)
	if err != nil {
		return nil, fmt.Errorf("coin %s: %w", c.Symbol, err)
	}
	return predictor.NewClient(predictor.Endpoint{
		Symbol:     c.Symbol,
		URL:        c.Predict.URL,
		Mode:       mode,
		ValueField: c.Predict.ValueField,
	}, predictor.ClientOptions{
		Timeout:       c.Predict.Timeout,
		MaxRetries:    c.Predict.MaxRetries,
		RetryDelay:    c.Predict.RetryDelay,
		MaxRetryDelay: c.Predict.MaxRetryDelay,
	}), nil
}

// SessionOptions maps the cache and cooldown settings onto session options.
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		HistoryTTL:      cfg.HistoryTTL,
		SnapshotTTL:     cfg.SnapshotTTL,
		RefreshCooldown: cfg.RefreshCooldown,
		PredictCooldown: cfg.PredictCooldown,
		HistoryLimit:    cfg.PredictHistory,
		IdleTTL:         cfg.SessionIdleTTL,
	}
}
