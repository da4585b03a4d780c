package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/webhook"
)

// maxWebhookBody caps one delivery
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider push events
type WebhookHandler struct {
	service *webhook.Service
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *webhook.Service) *WebhookHandler {
	return &WebhookHandler{
		service: service,
	}
}

// Receive godoc
// @Summary Receive a MightyCall event
// @Description Authenticated by bearer token or X-Signature (hex HMAC-SHA256 of the body). Every event is archived; entities are stored when exactly one organization owns them.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 202 {object} webhook.Outcome
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 413 {object} models.ErrorResponse
// @Router /webhooks/mightycall [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	if len(body) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error":   "payload_too_large",
			"message": "Webhook payload exceeds 1MB.",
		})
	}

	if err := h.service.Authenticate(c.Request().Header, body); err != nil {
		if domain.IsConfig(err) {
			return apierrors.InternalError(c, err)
		}
		return apierrors.UnauthorizedError(c, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	outcome, err := h.service.Handle(ctx, body)
	if err != nil {
		if domain.IsValidation(err) {
			return apierrors.ValidationError(c, err)
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusAccepted, outcome)
}
