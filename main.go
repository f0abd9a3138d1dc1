package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/api"
	"trading-analytics/internal/charts"
	"trading-analytics/internal/database"
	"trading-analytics/internal/events"
	"trading-analytics/internal/exchange"
	"trading-analytics/internal/fillsync"
	"trading-analytics/internal/metrics"
	"trading-analytics/internal/quotes"
	"trading-analytics/internal/scheduler"
	"trading-analytics/internal/sentiment"
	"trading-analytics/internal/trades"
	"trading-analytics/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Msg("starting trading-analytics backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Vault-sourced API keys override the environment when enabled
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	vaultClient.ApplyToConfig(ctx, cfg)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	var cache *database.StatusCache
	if cfg.RedisConfig.Enabled {
		cache = database.NewStatusCache(cfg.RedisConfig.Address, cfg.RedisConfig.Password,
			cfg.RedisConfig.DB, cfg.RedisConfig.PoolSize)
	} else {
		cache = database.NewStatusCache("", "", 0, 0)
	}
	defer cache.Close()

	bus := events.NewBus()
	metrics.NewRegistry().WireEvents(bus)
	if logger.GetLevel() <= zerolog.DebugLevel {
		bus.SubscribeAll(func(e events.Event) {
			logger.Debug().Str("event", string(e.Type)).Interface("data", e.Data).Msg("event")
		})
	}

	limiter := quotes.NewRateLimiter(
		cfg.QuotesConfig.RateLimit,
		cfg.QuotesConfig.RatePer,
		cfg.QuotesConfig.RateBurst,
		cfg.QuotesConfig.MaxConsecutive,
		cfg.QuotesConfig.PauseDuration,
	)
	quotesClient := quotes.NewClient(quotes.Config{
		BaseURL:        cfg.QuotesConfig.BaseURL,
		APIKey:         cfg.QuotesConfig.APIKey,
		Timeout:        cfg.QuotesConfig.Timeout,
		AcquireTimeout: cfg.QuotesConfig.AcquireTimeout,
	}, limiter)

	exchangeClient := exchange.NewClient(exchange.Config{
		BaseURL: cfg.ExchangeConfig.BaseURL,
		Timeout: cfg.ExchangeConfig.Timeout,
	})

	aiClient := llm.NewClient(&llm.ClientConfig{
		Provider:    llm.Provider(cfg.AIConfig.Provider),
		APIKey:      cfg.AIConfig.APIKey,
		Model:       cfg.AIConfig.Model,
		MaxTokens:   cfg.AIConfig.MaxTokens,
		Temperature: cfg.AIConfig.Temperature,
		Timeout:     cfg.AIConfig.Timeout,
	})

	renderer := charts.NewRenderer(cfg.SentimentConfig.RenderTimeout)
	sentimentEngine := sentiment.NewEngine(cfg.SentimentConfig, db, quotesClient,
		renderer, aiClient, cache, bus, logger)
	tradesEngine := trades.NewEngine(cfg.TradesConfig, db, exchangeClient,
		sentimentEngine, bus, logger)
	syncer := fillsync.NewSyncer(cfg.FillSyncConfig, cfg.ExchangeConfig.Accounts,
		db, exchangeClient, bus, logger)

	// Bootstrap runs before the scan loop but never blocks startup
	go func() {
		if err := sentimentEngine.Bootstrap(ctx); err != nil {
			logger.Warn().Err(err).Msg("historical bootstrap failed")
		}
	}()

	sched := scheduler.New()
	scanInterval := time.Duration(cfg.SentimentConfig.ScanIntervalHours * float64(time.Hour))
	if err := sched.AddJob("sentiment-scan", scanInterval, func(ctx context.Context) {
		if err := sentimentEngine.Scan(ctx); err != nil {
			logger.Error().Err(err).Msg("sentiment scan failed")
		}
	}); err != nil {
		return err
	}
	if err := sched.AddJob("trade-triggers", cfg.TradesConfig.CheckInterval, func(ctx context.Context) {
		if err := tradesEngine.CheckTriggers(ctx); err != nil {
			logger.Error().Err(err).Msg("trigger check failed")
		}
	}); err != nil {
		return err
	}
	if err := sched.AddJob("orphan-reconcile", time.Hour, func(ctx context.Context) {
		if n, err := tradesEngine.ReconcileOrphans(ctx); err != nil {
			logger.Error().Err(err).Msg("orphan reconcile failed")
		} else if n > 0 {
			logger.Info().Int("closed", n).Msg("closed orphaned trades")
		}
	}); err != nil {
		return err
	}
	if cfg.FillSyncConfig.Enabled && len(cfg.ExchangeConfig.Accounts) > 0 {
		if err := sched.AddJob("fill-sync", cfg.FillSyncConfig.Interval, func(ctx context.Context) {
			if err := syncer.SyncAll(ctx); err != nil {
				logger.Error().Err(err).Msg("fill sync failed")
			}
		}); err != nil {
			return err
		}
	}

	sched.Start()
	defer sched.Stop()

	// First scan without waiting a full interval
	_ = sched.Kick("sentiment-scan")

	server := api.NewServer(cfg.ServerConfig, db, sentimentEngine, tradesEngine, aiClient, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out *os.File
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out = os.Stdout
		} else {
			out = f
		}
	}

	if cfg.JSONFormat {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
