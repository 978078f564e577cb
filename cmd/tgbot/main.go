package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/CoinDash/internal/app"
	"github.com/Alias1177/CoinDash/internal/bot"
	"github.com/Alias1177/CoinDash/internal/config"
	"github.com/Alias1177/CoinDash/internal/session"
)

func main() {
	app.SetupLogging(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogging(cfg.LogLevel)

	if cfg.TelegramToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}

	catalog, err := app.Catalog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build the coin catalog")
	}

	// Initialize Telegram bot
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	log.Info().
		Str("username", api.Self.UserName).
		Strs("coins", catalog.Symbols()).
		Msg("Authorized on Telegram")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := api.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down, waiting for handlers in flight")
		api.StopReceivingUpdates()
	}()

	sessions := session.NewManager(catalog, app.SessionOptions(cfg))
	bot.New(api, sessions, bot.Options{Indicators: cfg.Indicators}).Run(ctx, updates)

	log.Info().Msg("Bot stopped")
}
