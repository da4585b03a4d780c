package api

import (
	"net/http"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/jordanlanch/callops/docs" // OpenAPI description for /swagger
	"github.com/jordanlanch/callops/pkg/api/handlers"
	custommw "github.com/jordanlanch/callops/pkg/api/middleware"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/metrics"
	custommiddleware "github.com/jordanlanch/callops/pkg/middleware"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	JWTSecret string
	Sentry    bool
	Swagger   bool

	Logger   logger.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Health  *handlers.HealthHandler
	Sync    *handlers.SyncHandler
	Stats   *handlers.MetricsHandler
	Webhook *handlers.WebhookHandler

	// WebhookLimiter throttles provider pushes per client IP
	WebhookLimiter *custommiddleware.RateLimiter
}

// NewRouter builds the echo server with every route registered
func NewRouter(cfg RouterConfig) *echo.Echo {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	if cfg.Sentry {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(custommiddleware.RequestLogger(cfg.Logger.With("component", "http")))
	e.Use(cfg.Metrics.Middleware())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))

	// Public
	if cfg.Health != nil {
		e.GET("/health", cfg.Health.Health)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	if cfg.Swagger {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	if cfg.Webhook != nil {
		var mw []echo.MiddlewareFunc
		if cfg.WebhookLimiter != nil {
			mw = append(mw, cfg.WebhookLimiter.RateLimitMiddleware())
		}
		e.POST("/webhooks/mightycall", cfg.Webhook.Receive, mw...)
	}

	// Dashboard API
	v1 := e.Group("/api/v1", custommw.JWTMiddleware(cfg.JWTSecret))

	v1.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "pong"})
	})

	if cfg.Sync != nil {
		v1.POST("/sync/organizations/:id", cfg.Sync.SyncOrganization)
		v1.GET("/sync/runs", cfg.Sync.ListRuns)
	}

	if cfg.Stats != nil {
		v1.GET("/metrics/answer-rate", cfg.Stats.AnswerRate)
		v1.GET("/metrics/series", cfg.Stats.Series)
		v1.GET("/metrics/series.xlsx", cfg.Stats.SeriesXLSX)
		v1.GET("/metrics/queues", cfg.Stats.Queues)
	}

	return e
}
