package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sales-academy/backend/internal/config"
	"github.com/sales-academy/backend/internal/db"
	httpapi "github.com/sales-academy/backend/internal/http"
	"github.com/sales-academy/backend/internal/notify"
	"github.com/sales-academy/backend/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "academy-backend").Logger()

	var notifier notify.Notifier
	if cfg.TelegramBotToken == "" {
		notifier = notify.NopNotifier{}
		logger.Info().Msg("telegram not configured, notifications disabled")
	} else {
		notifier = &notify.TelegramNotifier{
			BotToken:       cfg.TelegramBotToken,
			OperatorChatID: cfg.TelegramChatID,
		}
	}

	// Missing credentials are the one fatal error class: notify, then stop.
	if err := cfg.Validate(); err != nil {
		_ = notifier.Notify(context.Background(), "<b>Sales Academy</b>\n\nConfiguration error: "+err.Error())
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	var scorer scoring.Scorer
	if cfg.ScoringAPIKey == "" {
		scorer = scoring.MockScorer{ModelVersion: "mock-v1"}
		logger.Info().Msg("using mock scorer")
	} else {
		scorer = &scoring.Client{
			BaseURL:     cfg.ScoringBaseURL,
			Model:       cfg.ScoringModel,
			APIKey:      cfg.ScoringAPIKey,
			MaxTokens:   cfg.ScoringMaxTokens,
			Temperature: 0.3,
			Logger:      logger,
		}
	}

	router := httpapi.Router(cfg, store, scorer, notifier, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
