package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"bot-financas/internal/cache"
	"bot-financas/internal/config"
	"bot-financas/internal/confirm"
	"bot-financas/internal/convo"
	"bot-financas/internal/handlers"
	"bot-financas/internal/httpserver"
	"bot-financas/internal/logging"
	"bot-financas/internal/metrics"
	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"
	"bot-financas/internal/wa"
	"bot-financas/migrations"

	"github.com/joho/godotenv"
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

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting finance bot", "env", cfg.AppEnv, "db_driver", cfg.DatabaseDriver, "confirm_store", cfg.ConfirmStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.Open(ctx, repo.Config{
		Driver:      cfg.DatabaseDriver,
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.SupabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	if err := repository.SyncGeminiKeys(ctx, cfg.GeminiAPIKeys); err != nil {
		return fmt.Errorf("sync gemini keys: %w", err)
	}

	var redisClient *cache.Redis
	if cfg.RedisEnabled() {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	var store confirm.Store
	if cfg.ConfirmStore == "redis" {
		store = confirm.NewRedisStore(redisClient, confirm.DefaultTTL, logger)
	} else {
		store = confirm.NewMemoryStore(cfg.ConfirmMaxEntries)
	}
	confirmCache := confirm.New(store, logger)

	nluClient := nlu.New(repository, logger, metricRegistry, redisClient, nlu.Config{
		BaseURL:  cfg.GeminiBaseURL,
		Model:    cfg.GeminiModel,
		Timeout:  cfg.GeminiTimeout,
		Cooldown: cfg.GeminiCooldown,
		CacheTTL: cfg.NLUCacheTTL,
	})

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()

	ledgerHandlers := handlers.New(repository, logger, metricRegistry)
	convoEngine := convo.New(repository, nluClient, confirmCache, ledgerHandlers, waClient, metricRegistry, logger)
	waClient.SetMessageProcessor(convoEngine)

	go sweepConfirmations(ctx, confirmCache, cfg.ConfirmSweepInterval, metricRegistry)

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, cfg.PublicBasePath, cfg.AdminToken)
	deps := httpserver.Dependencies{
		Repository: repository,
		WhatsApp:   waClient.Connected,
		Confirm:    confirmCache,
		Users:      repository,
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	httpSrv.SetDependencies(deps)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func sweepConfirmations(ctx context.Context, confirmations *confirm.Cache, interval time.Duration, m *metrics.Metrics) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := confirmations.Sweep(ctx); removed > 0 {
				m.ConfirmSwept.Add(float64(removed))
			}
		}
	}
}
