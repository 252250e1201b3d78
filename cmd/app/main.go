package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/config"
	"crm-whatsapp/internal/crm"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/httpserver"
	"crm-whatsapp/internal/logging"
	"crm-whatsapp/internal/metrics"
	"crm-whatsapp/internal/realtime"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/internal/webhook"
	"crm-whatsapp/migrations"

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
	logger.Info("starting crm-whatsapp", "env", cfg.AppEnv, "database_driver", cfg.DatabaseDriver)

	if webhookURL := cfg.WebhookURL(); webhookURL != "" {
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()
	logger.Info("database migrated")

	var (
		redisClient *cache.Redis
		statusCache crm.StatusCache
		ingestCache webhook.StatusCache
	)
	if cfg.RedisAddr != "" {
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
		statusCache = redisClient
		ingestCache = redisClient
	}

	hub := realtime.NewHub(logger, metricRegistry)
	if cfg.RealtimeRelay && redisClient != nil {
		relay := realtime.NewRedisRelay(redisClient, logger)
		if err := relay.Start(ctx, hub); err != nil {
			return fmt.Errorf("start realtime relay: %w", err)
		}
		hub.SetRelay(relay)
		logger.Info("realtime relay enabled", "node_id", relay.NodeID())
	}

	gw := gateway.New(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
	}, logger, metricRegistry)

	service := crm.New(repository, gw, hub, statusCache, crm.Config{
		WebhookURL:   cfg.WebhookURL(),
		WebhookToken: cfg.WebhookToken,
		StatusTTL:    cfg.StatusCacheTTL,
	}, logger, metricRegistry)
	hub.SetHandler(service)

	ingestor := webhook.NewIngestor(repository, hub, ingestCache, webhook.IngestorConfig{
		DefaultTenantID: cfg.WebhookDefaultTenantID,
		StatusTTL:       cfg.StatusCacheTTL,
	}, logger, metricRegistry)
	webhookHandler := webhook.NewHandler(logger, metricRegistry, cfg.WebhookToken, ingestor)
	if cfg.WebhookToken == "" {
		logger.Warn("WEBHOOK_TOKEN not set, webhook accepts unauthenticated requests")
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		Webhook:  webhookHandler,
		Realtime: http.HandlerFunc(hub.ServeWS),
		CRM:      service,
		Health:   repository,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Closing the hub sends disconnect to every open websocket.
	hubCancel()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("realtime hub did not stop in time")
	}

	return runErr
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	var (
		repository repo.Repository
		files      fs.FS
		err        error
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		files = migrations.SQLite()
	default:
		repository, err = repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		files = migrations.Postgres()
	}
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := repository.RunMigrations(ctx, files); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository, nil
}
