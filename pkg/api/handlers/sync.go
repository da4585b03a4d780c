package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	custommw "github.com/jordanlanch/callops/pkg/api/middleware"
	"github.com/jordanlanch/callops/pkg/callsync"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/jobs"
	"github.com/jordanlanch/callops/pkg/models"
)

// DefaultSyncWindow is used when a manual sync names no range
const DefaultSyncWindow = 24 * time.Hour

type orgSyncer interface {
	RunOrganization(ctx context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error)
}

type syncStore interface {
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	ListSyncRuns(ctx context.Context, orgID string, limit int) ([]models.SyncRun, error)
}

// SyncHandler exposes manual syncs and the run log
type SyncHandler struct {
	runner  orgSyncer
	store   syncStore
	timeout time.Duration
	now     func() time.Time
}

// NewSyncHandler creates a new sync handler. timeout bounds one manual run.
func NewSyncHandler(runner orgSyncer, store syncStore, timeout time.Duration) *SyncHandler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SyncHandler{
		runner:  runner,
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// SyncOrganization godoc
// @Summary Sync one organization
// @Description Pulls calls, recordings, reports and SMS for the organization over the given range. Platform admins or admins of the organization only.
// @Tags Sync
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Organization ID"
// @Param body body models.SyncRequest false "Date range, YYYY-MM-DD or RFC3339. Defaults to the last 24 hours."
// @Success 200 {object} callsync.SyncResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "A sync for this organization is already running"
// @Failure 502 {object} callsync.SyncResult "The provider rejected the credentials"
// @Router /api/v1/sync/organizations/{id} [post]
func (h *SyncHandler) SyncOrganization(c echo.Context) error {
	orgID := c.Param("id")
	if !custommw.CanManageOrg(c, orgID) {
		return apierrors.ForbiddenError(c, "cannot manage organization "+orgID)
	}

	var req models.SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return apierrors.ValidationError(c, err)
		}
	}

	rng, err := models.ParseDateRange(req.From, req.To, time.UTC, h.now(), DefaultSyncWindow)
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if _, err := h.store.GetOrganization(ctx, orgID); err != nil {
		if domain.IsNotFound(err) {
			return apierrors.NotFoundError(c, "organization")
		}
		return apierrors.DatabaseError(c, err)
	}

	result, err := h.runner.RunOrganization(ctx, orgID, rng)
	switch {
	case errors.Is(err, jobs.ErrSyncInProgress):
		return apierrors.ConflictError(c, "A sync for this organization is already running.")
	case domain.IsValidation(err):
		return apierrors.ValidationError(c, err)
	case domain.IsFatal(err):
		return c.JSON(http.StatusBadGateway, result)
	case err != nil && result == nil:
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListRuns godoc
// @Summary List sync runs
// @Description Returns the newest sync runs. Non platform admins only see their own organization.
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Param org_id query string false "Organization ID"
// @Param limit query integer false "Maximum rows (1-500)" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} models.ErrorResponse
// @Router /api/v1/sync/runs [get]
func (h *SyncHandler) ListRuns(c echo.Context) error {
	orgID := c.QueryParam("org_id")
	own, _ := custommw.Identity(c)
	if !custommw.IsPlatformAdmin(c) {
		if orgID != "" && orgID != own {
			return apierrors.ForbiddenError(c, "cannot read runs of organization "+orgID)
		}
		orgID = own
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	runs, err := h.store.ListSyncRuns(ctx, orgID, limit)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
