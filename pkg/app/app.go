// Package app wires the services shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/analytics"
	"github.com/jordanlanch/callops/pkg/archive"
	"github.com/jordanlanch/callops/pkg/cache"
	"github.com/jordanlanch/callops/pkg/callsync"
	"github.com/jordanlanch/callops/pkg/database"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/jobs"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/metrics"
	"github.com/jordanlanch/callops/pkg/mightycall"
	"github.com/jordanlanch/callops/pkg/secrets"
	"github.com/jordanlanch/callops/pkg/store"
)

// App holds the long-lived dependencies of a process
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	DB       *database.Client
	Store    *store.Store
	Cache    *cache.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Provider *mightycall.Service
	Syncer   *callsync.Orchestrator
	Runner   *jobs.Runner
	Stats    *analytics.Service

	sentry bool
}

// Options selects optional parts of the wiring
type Options struct {
	// Migrate applies pending migrations after connecting
	Migrate bool
	// Provider overrides the MightyCall client, e.g. with generated data
	Provider callsync.Provider
}

// NewLogger builds the process logger from cfg
func NewLogger(cfg *config.Config) logger.Logger {
	return logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
}

// ResolveSecrets fills unset credentials from the configured secrets backend
func ResolveSecrets(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	m, err := secrets.NewManager(secrets.Config{
		Backend:       cfg.Secrets.Backend,
		AWSRegion:     cfg.Secrets.AWSRegion,
		Prefix:        cfg.Secrets.Prefix,
		CacheDuration: cfg.Secrets.CacheDuration,
	}, log)
	if err != nil {
		return domain.NewConfigError("invalid secrets backend", err)
	}
	if err := secrets.Apply(ctx, m, cfg); err != nil {
		return domain.NewConfigError("failed to resolve secrets", err)
	}
	return nil
}

// New connects to every backing service and builds the sync and metrics
// layers. cfg is expected to be validated already.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("Failed to initialize Sentry", "error", err)
		} else {
			a.sentry = true
			log.Info("Sentry initialized", "environment", cfg.SentryEnvironment)
		}
	}

	sslCfg := &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	}
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, database.DefaultPoolConfig(), sslCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if opts.Migrate {
		if err := db.Migrate("up"); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Database migrations applied")
	}

	a.Store = store.New(db, log)

	var locker jobs.Locker
	if cfg.RedisURL != "" {
		c, err := cache.NewClient(cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Cache = c
		locker = c
	} else {
		log.Info("Redis disabled, running without organization sync locks")
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	provider := opts.Provider
	if provider == nil {
		a.Provider = mightycall.NewService(mightycall.Config{
			BaseURL:      cfg.MightyCall.BaseURL,
			APIKey:       cfg.MightyCall.APIKey,
			ClientSecret: cfg.MightyCall.ClientSecret,
			HTTPTimeout:  cfg.MightyCall.HTTPTimeout,
			RPS:          cfg.MightyCall.RPS,
			PageSize:     cfg.MightyCall.PageSize,
			MaxPages:     cfg.MightyCall.MaxPages,
			Retry: mightycall.RetryPolicy{
				MaxAttempts: cfg.MightyCall.RetryMaxAttempts,
				BaseDelay:   cfg.MightyCall.RetryBaseDelay,
				MaxDelay:    cfg.MightyCall.RetryMaxDelay,
				Jitter:      cfg.MightyCall.RetryJitter,
			},
		}, &http.Client{Timeout: cfg.MightyCall.HTTPTimeout}, a.Metrics, log)
		provider = a.Provider
	}

	sink, err := a.archiveSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Syncer = callsync.New(provider, a.Store, sink, callsync.Options{
		ChunkSize:               cfg.Sync.ChunkSize(),
		FilterByAssignedNumbers: cfg.Sync.FilterByAssignedNumbers,
	}, log)

	var reporter jobs.Reporter
	if a.sentry {
		reporter = jobs.NewSentryReporter(sentry.CurrentHub())
	}
	a.Runner = jobs.NewRunner(a.Syncer, a.Store, locker, a.Metrics, reporter, jobs.RunnerConfig{
		Concurrency: cfg.Sync.Concurrency,
		LockTTL:     cfg.Sync.LockTTL,
	}, log)

	a.Stats = analytics.NewService(a.Store, cfg.Metrics.RatePrecision, log)

	return a, nil
}

// archiveSink returns nil when raw archiving is off
func (a *App) archiveSink(ctx context.Context) (archive.Sink, error) {
	cfg := a.Config
	if !cfg.Sync.ArchiveRaw {
		return nil, nil
	}

	sinks := archive.Multi{archive.NewStoreSink(a.Store)}
	if cfg.Archive.S3Bucket != "" {
		s3Sink, err := archive.NewS3Sink(ctx, archive.S3Config{
			Bucket:          cfg.Archive.S3Bucket,
			Prefix:          cfg.Archive.S3Prefix,
			Region:          cfg.Archive.AWSRegion,
			AccessKeyID:     cfg.Archive.AWSAccessKeyID,
			SecretAccessKey: cfg.Archive.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure raw archive: %w", err)
		}
		sinks = append(sinks, s3Sink)
		a.Logger.Info("Raw payload archive enabled", "bucket", cfg.Archive.S3Bucket)
	}
	return sinks, nil
}

// SentryEnabled reports whether sentry.Init succeeded
func (a *App) SentryEnabled() bool {
	return a.sentry
}

// Ping checks the database
func (a *App) Ping(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

// Close releases every connection. Safe on a partially built App.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("Failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("Failed to close database", "error", err)
		}
	}
}
