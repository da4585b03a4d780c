package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callops"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	TokenRefreshes          *prometheus.CounterVec

	// Sync metrics
	SyncRunsTotal    *prometheus.CounterVec
	SyncRecordsTotal *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	SyncsInProgress  prometheus.Gauge

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Requests sent to the telephony provider",
			},
			[]string{"operation", "status"}, // status 0 means no response
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Telephony provider request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"operation"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_token_refreshes_total",
				Help:      "Provider access token refreshes",
			},
			[]string{"result"}, // success, failed
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Organization sync runs by final status",
			},
			[]string{"status"},
		),
		SyncRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_total",
				Help:      "Records processed by the sync engine",
			},
			[]string{"kind", "outcome"}, // outcome: synced, skipped, failed
		),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of one organization sync",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SyncsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "syncs_in_progress",
			Help:      "Organization syncs currently running",
		}),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Provider webhook events by family and outcome",
			},
			[]string{"family", "outcome"},
		),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			// c.Path() is the route pattern, not the raw URL
			path := c.Path()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			m.HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveRequest records one provider request
func (m *Metrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.ProviderRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// TokenRefreshed records a token refresh attempt
func (m *Metrics) TokenRefreshed(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "success"
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordSyncRun records the outcome of one organization sync
func (m *Metrics) RecordSyncRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(elapsed.Seconds())
}

// RecordSyncRecords adds per-kind record tallies
func (m *Metrics) RecordSyncRecords(kind string, synced, skipped, failed int) {
	if m == nil {
		return
	}
	m.SyncRecordsTotal.WithLabelValues(kind, "synced").Add(float64(synced))
	m.SyncRecordsTotal.WithLabelValues(kind, "skipped").Add(float64(skipped))
	m.SyncRecordsTotal.WithLabelValues(kind, "failed").Add(float64(failed))
}

// SyncStarted bumps the in-progress gauge and returns the matching decrement
func (m *Metrics) SyncStarted() func() {
	if m == nil {
		return func() {}
	}
	m.SyncsInProgress.Inc()
	return m.SyncsInProgress.Dec
}

// RecordWebhookEvent counts one webhook delivery
func (m *Metrics) RecordWebhookEvent(family, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(family, outcome).Inc()
}
