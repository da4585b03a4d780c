package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Check reports whether one dependency is reachable
type Check func(ctx context.Context) error

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	checks map[string]Check
}

// NewHealthHandler creates a health handler. Nil checks are ignored.
func NewHealthHandler(checks map[string]Check) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Check, len(checks))}
	for name, check := range checks {
		if check != nil {
			h.checks[name] = check
		}
	}
	return h
}

// Health godoc
// @Summary Service health
// @Description Reports the status of the database and, when configured, redis
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string "All dependencies up"
// @Failure 503 {object} map[string]string "A dependency is down"
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	body := map[string]string{"status": "healthy"}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			body[name] = "down"
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "up"
	}
	return c.JSON(status, body)
}
