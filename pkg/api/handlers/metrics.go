package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/callops/pkg/analytics"
	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	custommw "github.com/jordanlanch/callops/pkg/api/middleware"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/models"
)

// DefaultSeriesWindow is the series range when none is given
const DefaultSeriesWindow = 30 * 24 * time.Hour

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// MetricsHandler serves call-center aggregates
type MetricsHandler struct {
	service  *analytics.Service
	validate *validator.Validate
	now      func() time.Time
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(service *analytics.Service) *MetricsHandler {
	return &MetricsHandler{
		service:  service,
		validate: validator.New(),
		now:      time.Now,
	}
}

// metricsRequest is a parsed MetricsQuery
type metricsRequest struct {
	scope  analytics.Scope
	rng    models.DateRange
	bucket analytics.Bucket
	loc    *time.Location
}

// parse reads the query. Without bounds the range is all time unless
// requireRange is set.
func (h *MetricsHandler) parse(c echo.Context, requireRange bool) (*metricsRequest, error) {
	var q models.MetricsQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return nil, domain.NewValidationError("invalid query parameters")
	}
	if err := h.validate.Struct(q); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid query parameters: %v", err))
	}

	loc := time.UTC
	if q.TZ != "" {
		l, err := time.LoadLocation(q.TZ)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("unknown time zone %q", q.TZ))
		}
		loc = l
	}

	bucket, err := analytics.ParseBucket(q.Bucket)
	if err != nil {
		return nil, err
	}

	var rng models.DateRange
	if requireRange || q.From != "" || q.To != "" {
		rng, err = models.ParseDateRange(q.From, q.To, loc, h.now(), DefaultSeriesWindow)
		if err != nil {
			return nil, err
		}
	}

	scope, err := custommw.ResolveScope(c, q.Scope, q.OrgID)
	if err != nil {
		return nil, err
	}

	return &metricsRequest{scope: scope, rng: rng, bucket: bucket, loc: loc}, nil
}

func (h *MetricsHandler) fail(c echo.Context, err error) error {
	if errors.Is(err, custommw.ErrForbidden) {
		return apierrors.ForbiddenError(c, "scope not allowed")
	}
	return apierrors.FromDomain(c, err)
}

// AnswerRate godoc
// @Summary Answer rate
// @Description Share of answered calls for the caller's organization, or every organization with scope=global (platform admins only)
// @Tags Metrics
// @Produce json
// @Security BearerAuth
// @Param from query string false "Start, YYYY-MM-DD or RFC3339"
// @Param to query string false "End, YYYY-MM-DD or RFC3339"
// @Param tz query string false "IANA time zone for date-only bounds"
// @Param scope query string false "org or global"
// @Param org_id query string false "Organization (platform admins)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /api/v1/metrics/answer-rate [get]
func (h *MetricsHandler) AnswerRate(c echo.Context) error {
	req, err := h.parse(c, false)
	if err != nil {
		return h.fail(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rate, err := h.service.AnswerRate(ctx, req.scope, req.rng)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"scope":       req.scope.String(),
		"from":        nullableTime(req.rng.From),
		"to":          nullableTime(req.rng.To),
		"answer_rate": rate,
	})
}

// Series godoc
// @Summary Call series
// @Description Calls per bucket with zero-filled gaps. Buckets are aligned in tz.
// @Tags Metrics
// @Produce json
// @Security BearerAuth
// @Param from query string false "Start, defaults to 30 days ago"
// @Param to query string false "End, defaults to now"
// @Param bucket query string false "hour, day, week or month" default(day)
// @Param tz query string false "IANA time zone"
// @Param scope query string false "org or global"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/metrics/series [get]
func (h *MetricsHandler) Series(c echo.Context) error {
	req, points, err := h.series(c)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"scope":  req.scope.String(),
		"bucket": req.bucket,
		"tz":     req.loc.String(),
		"from":   req.rng.From,
		"to":     req.rng.To,
		"points": points,
	})
}

// SeriesXLSX godoc
// @Summary Call series spreadsheet
// @Description Same data as /metrics/series as an xlsx download
// @Tags Metrics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Router /api/v1/metrics/series.xlsx [get]
func (h *MetricsHandler) SeriesXLSX(c echo.Context) error {
	req, points, err := h.series(c)
	if err != nil {
		return h.fail(c, err)
	}

	var buf bytes.Buffer
	if err := analytics.ExportSeriesXLSX(&buf, points); err != nil {
		return apierrors.InternalError(c, err)
	}

	filename := fmt.Sprintf("call-series-%s-%s.xlsx", req.bucket, req.rng.From.Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *MetricsHandler) series(c echo.Context) (*metricsRequest, []analytics.SeriesPoint, error) {
	req, err := h.parse(c, true)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	points, err := h.service.Series(ctx, req.scope, req.rng, req.bucket, req.loc)
	if err != nil {
		return nil, nil, err
	}
	return req, points, nil
}

// Queues godoc
// @Summary Queue summary
// @Description Calls per queue, busiest first. Without from/to it covers all time.
// @Tags Metrics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/metrics/queues [get]
func (h *MetricsHandler) Queues(c echo.Context) error {
	req, err := h.parse(c, false)
	if err != nil {
		return h.fail(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	queues, err := h.service.QueueSummary(ctx, req.scope, req.rng)
	if err != nil {
		return h.fail(c, err)
	}
	if queues == nil {
		queues = []analytics.QueueStat{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"scope":  req.scope.String(),
		"queues": queues,
		"count":  len(queues),
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
