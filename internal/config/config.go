package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Alias1177/CoinDash/internal/api/predictor"
	"github.com/Alias1177/CoinDash/internal/calculate"
	"github.com/Alias1177/CoinDash/internal/market"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed coins.yaml
var defaultCoins []byte

// Upstream and snapshot source names used in the coin catalog.
const (
	SourceKraken          = "kraken"
	SourceCoinGecko       = "coingecko"
	SourceCoinGeckoSimple = "coingecko_simple"
)

// Config holds all application configuration
type Config struct {
	TelegramToken string
	LogLevel      string
	Proxy         string

	KrakenBaseURL    string
	CoinGeckoBaseURL string
	CoinGeckoAPIKey  string

	RequestTimeout time.Duration
	RequestsPerSec int
	MaxRetries     int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration

	HistoryTTL      time.Duration
	SnapshotTTL     time.Duration
	RefreshCooldown time.Duration
	PredictCooldown time.Duration
	SessionIdleTTL  time.Duration
	PredictHistory  int

	Indicators calculate.IndicatorConfig

	CoinsFile string
	Coins     []Coin
}

// Coin is one entry of the coin catalog.
type Coin struct {
	Symbol        string  `yaml:"symbol"`
	Name          string  `yaml:"name"`
	History       string  `yaml:"history"`
	Snapshot      string  `yaml:"snapshot"`
	KrakenPair    string  `yaml:"kraken_pair"`
	CoinGeckoID   string  `yaml:"coingecko_id"`
	DefaultWindow string  `yaml:"default_window"`
	Predict       Predict `yaml:"predict"`
}

// Predict configures the inference service of a coin.
type Predict struct {
	URL        string `yaml:"url"`
	Mode       string `yaml:"mode"`
	ValueField string `yaml:"value_field"`
	// Window is the daily series features are built from.
	Window        string        `yaml:"window"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// Load initializes configuration from environment variables and the coin catalog
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.Proxy = os.Getenv("HTTPS_PROXY")

	cfg.KrakenBaseURL = getEnvWithDefault("KRAKEN_BASE_URL", "https://api.kraken.com")
	cfg.CoinGeckoBaseURL = getEnvWithDefault("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3")
	cfg.CoinGeckoAPIKey = os.Getenv("COINGECKO_API_KEY")

	cfg.RequestTimeout = getEnvSecondsWithDefault("REQUEST_TIMEOUT", 20*time.Second)
	cfg.RequestsPerSec = getEnvIntWithDefault("REQUESTS_PER_SEC", 5)
	cfg.MaxRetries = getEnvIntWithDefault("FETCH_MAX_RETRIES", 2)
	cfg.RetryDelay = getEnvSecondsWithDefault("FETCH_RETRY_DELAY", 2*time.Second)
	cfg.MaxRetryDelay = getEnvSecondsWithDefault("FETCH_MAX_RETRY_DELAY", 10*time.Second)

	cfg.HistoryTTL = getEnvSecondsWithDefault("HISTORY_TTL", 5*time.Minute)
	cfg.SnapshotTTL = getEnvSecondsWithDefault("SNAPSHOT_TTL", time.Minute)
	cfg.RefreshCooldown = getEnvCooldownWithDefault("REFRESH_COOLDOWN", 5*time.Minute)
	cfg.PredictCooldown = getEnvCooldownWithDefault("PREDICT_COOLDOWN", 5*time.Minute)
	cfg.SessionIdleTTL = getEnvSecondsWithDefault("SESSION_IDLE_TTL", time.Hour)
	cfg.PredictHistory = getEnvIntWithDefault("PREDICT_HISTORY", 50)

	ind := calculate.DefaultIndicatorConfig()
	ind.RSIPeriod = getEnvIntWithDefault("RSI_PERIOD", ind.RSIPeriod)
	ind.EMAPeriod = getEnvIntWithDefault("EMA_PERIOD", ind.EMAPeriod)
	ind.SMAPeriod = getEnvIntWithDefault("SMA_PERIOD", ind.SMAPeriod)
	ind.BBPeriod = getEnvIntWithDefault("BB_PERIOD", ind.BBPeriod)
	ind.BBStdDev = getEnvFloatWithDefault("BB_STD_DEV", ind.BBStdDev)
	ind.ATRPeriod = getEnvIntWithDefault("ATR_PERIOD", ind.ATRPeriod)
	cfg.Indicators = ind

	cfg.CoinsFile = os.Getenv("COINS_FILE")
	data := defaultCoins
	if cfg.CoinsFile != "" {
		b, err := os.ReadFile(cfg.CoinsFile)
		if err != nil {
			return nil, fmt.Errorf("read coin catalog: %w", err)
		}
		data = b
	}
	coins, err := ParseCoins(data)
	if err != nil {
		return nil, err
	}
	cfg.Coins = applyPredictOverrides(coins, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCoins decodes a YAML coin catalog.
func ParseCoins(data []byte) ([]Coin, error) {
	var doc struct {
		Coins []Coin `yaml:"coins"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse coin catalog: %w", err)
	}
	for i := range doc.Coins {
		c := &doc.Coins[i]
		c.Symbol = market.NormalizeSymbol(c.Symbol)
		if c.Name == "" {
			c.Name = c.Symbol
		}
		if c.DefaultWindow == "" {
			c.DefaultWindow = market.DefaultWindow
		}
		if c.Predict.Mode == "" {
			c.Predict.Mode = string(predictor.ModeLive)
		}
		if c.Predict.Window == "" {
			c.Predict.Window = "month"
		}
	}
	return doc.Coins, nil
}

// applyPredictOverrides lets SERVICE_<SYM>_PREDICT_URL replace a coin's prediction URL.
func applyPredictOverrides(coins []Coin, getenv func(string) string) []Coin {
	for i := range coins {
		if v := getenv("SERVICE_" + coins[i].Symbol + "_PREDICT_URL"); v != "" {
			coins[i].Predict.URL = v
		}
	}
	return coins
}

// Validate checks the coin catalog and the numeric settings.
func (c *Config) Validate() error {
	if len(c.Coins) == 0 {
		return fmt.Errorf("coin catalog is empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative")
	}
	if c.HistoryTTL <= 0 || c.SnapshotTTL <= 0 {
		return fmt.Errorf("HISTORY_TTL and SNAPSHOT_TTL must be positive")
	}
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			return fmt.Errorf("HTTPS_PROXY: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Coins))
	for _, coin := range c.Coins {
		if coin.Symbol == "" {
			return fmt.Errorf("coin without symbol")
		}
		if seen[coin.Symbol] {
			return fmt.Errorf("coin %s listed twice", coin.Symbol)
		}
		seen[coin.Symbol] = true
		if err := coin.validate(); err != nil {
			return fmt.Errorf("coin %s: %w", coin.Symbol, err)
		}
	}
	return nil
}

func (c Coin) validate() error {
	switch c.History {
	case SourceKraken:
		if c.KrakenPair == "" {
			return fmt.Errorf("history from kraken needs kraken_pair")
		}
	case SourceCoinGecko:
		if c.CoinGeckoID == "" {
			return fmt.Errorf("history from coingecko needs coingecko_id")
		}
	default:
		return fmt.Errorf("unknown history source %q", c.History)
	}

	switch c.Snapshot {
	case "":
	case SourceKraken:
		if c.KrakenPair == "" {
			return fmt.Errorf("snapshot from kraken needs kraken_pair")
		}
	case SourceCoinGecko, SourceCoinGeckoSimple:
		if c.CoinGeckoID == "" {
			return fmt.Errorf("snapshot from coingecko needs coingecko_id")
		}
	default:
		return fmt.Errorf("unknown snapshot source %q", c.Snapshot)
	}

	if _, err := market.ParseWindow(c.DefaultWindow); err != nil {
		return fmt.Errorf("default_window: %w", err)
	}
	if c.Predict.URL == "" {
		return nil
	}
	if u, err := url.Parse(c.Predict.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("predict.url %q is not an absolute URL", c.Predict.URL)
	}
	mode, err := predictor.ParseMode(c.Predict.Mode)
	if err != nil {
		return fmt.Errorf("predict.mode: %w", err)
	}
	if mode == predictor.ModeFeatures {
		if _, err := market.ParseWindow(c.Predict.Window); err != nil {
			return fmt.Errorf("predict.window: %w", err)
		}
	}
	if c.Predict.MaxRetries < 0 {
		return fmt.Errorf("predict.max_retries must not be negative")
	}
	return nil
}

// Coin returns the catalog entry of symbol.
func (c *Config) Coin(symbol string) (Coin, bool) {
	sym := market.NormalizeSymbol(symbol)
	for _, coin := range c.Coins {
		if coin.Symbol == sym {
			return coin, true
		}
	}
	return Coin{}, false
}

// Symbols lists the catalog symbols in catalog order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.Coins))
	for i, coin := range c.Coins {
		out[i] = coin.Symbol
	}
	return out
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvSecondsWithDefault reads whole seconds ("300") or a Go duration ("5m").
func getEnvSecondsWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getEnvCooldownWithDefault reads a cooldown like getEnvSecondsWithDefault,
// mapping an explicit zero to market.NoCooldown.
func getEnvCooldownWithDefault(key string, defaultValue time.Duration) time.Duration {
	d := getEnvSecondsWithDefault(key, defaultValue)
	if d <= 0 {
		return market.NoCooldown
	}
	return d
}
