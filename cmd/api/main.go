package main

// @title CallOps API
// @version 1.0
// @description MightyCall sync and call-center metrics API.

// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/api"
	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	"github.com/jordanlanch/callops/pkg/api/handlers"
	"github.com/jordanlanch/callops/pkg/app"
	"github.com/jordanlanch/callops/pkg/jobs"
	custommiddleware "github.com/jordanlanch/callops/pkg/middleware"
	"github.com/jordanlanch/callops/pkg/webhook"
)

// manualSyncTimeout bounds a sync triggered over HTTP
const manualSyncTimeout = 10 * time.Minute

func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg)
	log.Info("Configuration loaded", "environment", cfg.APIEnvironment)

	if err := app.ResolveSecrets(context.Background(), cfg, log); err != nil {
		log.Error("Failed to resolve secrets", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	apierrors.SetLogger(log)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	if a.SentryEnabled() {
		defer sentry.Flush(2 * time.Second)
	}

	// Scheduled sync
	cronManager := jobs.NewCronManager(a.Runner, cfg.Sync.Schedule, cfg.Sync.Lookback(), log)
	if err := cronManager.SetupJobs(); err != nil {
		log.Error("Failed to setup cron jobs", "error", err)
		a.Close()
		os.Exit(1)
	}
	cronManager.Start()

	// Handlers
	checks := map[string]handlers.Check{"database": a.Ping}
	if a.Cache != nil {
		checks["redis"] = a.Cache.Ping
	}

	webhookService := webhook.NewService(a.Store, webhook.Config{
		Secret: cfg.Webhook.Secret,
		Token:  cfg.Webhook.Token,
	}, a.Metrics, log)

	// 100 req/min per client IP for provider pushes
	webhookRateLimiter := custommiddleware.NewRateLimiter(100, 20)
	defer webhookRateLimiter.Stop()

	e := api.NewRouter(api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		Sentry:         a.SentryEnabled(),
		Swagger:        cfg.SwaggerEnabled,
		Logger:         log,
		Metrics:        a.Metrics,
		Gatherer:       a.Registry,
		Health:         handlers.NewHealthHandler(checks),
		Sync:           handlers.NewSyncHandler(a.Runner, a.Store, manualSyncTimeout),
		Stats:          handlers.NewMetricsHandler(a.Stats),
		Webhook:        handlers.NewWebhookHandler(webhookService),
		WebhookLimiter: webhookRateLimiter,
	})

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Info("CallOps API starting",
		"address", address,
		"sync_schedule", cfg.Sync.Schedule,
		"sync_concurrency", cfg.Sync.Concurrency,
		"webhook_auth", cfg.Webhook.Secret != "" || cfg.Webhook.Token != "")

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Let an in-flight scheduled sync finish
	select {
	case <-cronManager.Stop().Done():
		log.Info("Cron jobs stopped")
	case <-shutdownCtx.Done():
		log.Warn("Cron jobs still running at shutdown deadline")
	}

	log.Info("Server gracefully stopped")
}
