package errors

import (
	stderrors "errors"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
)

var current atomic.Pointer[logger.Logger]

// SetLogger sets the logger used to record internal error details
func SetLogger(l logger.Logger) {
	current.Store(&l)
}

func log() logger.Logger {
	if l := current.Load(); l != nil && *l != nil {
		return *l
	}
	return logger.Default()
}

func logFailure(c echo.Context, kind string, err error) {
	log().Error("Request failed",
		"kind", kind,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"error", err)
}

// ValidationError returns a 400. Messages of domain validation errors are
// safe to show; anything else gets a generic message.
func ValidationError(c echo.Context, err error) error {
	log().Warn("Request rejected", "path", c.Request().URL.Path, "error", err)

	message := "Invalid request data. Please check your input and try again."
	var de *domain.DomainError
	if stderrors.As(err, &de) && de.Code == domain.ErrCodeValidation {
		message = de.Message
	}
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}

// DatabaseError returns a generic database error without exposing internal details
func DatabaseError(c echo.Context, err error) error {
	logFailure(c, "database", err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "database_error",
		Message: "A database error occurred. Please try again later.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	logFailure(c, "internal", err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UpstreamError reports a provider failure
func UpstreamError(c echo.Context, err error) error {
	logFailure(c, "upstream", err)

	return c.JSON(http.StatusBadGateway, models.ErrorResponse{
		Error:   "upstream_error",
		Message: "The telephony provider could not be reached or rejected the request.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context, reason string) error {
	log().Debug("Unauthorized request", "path", c.Request().URL.Path, "reason", reason)

	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// ForbiddenError returns a generic forbidden error
func ForbiddenError(c echo.Context, reason string) error {
	log().Debug("Forbidden request", "path", c.Request().URL.Path, "reason", reason)

	return c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "forbidden",
		Message: "You do not have permission to access this resource.",
	})
}

// NotFoundError returns a not found error naming the resource
func NotFoundError(c echo.Context, resource string) error {
	message := "The requested resource was not found."
	if resource != "" {
		message = "The requested " + resource + " was not found."
	}
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

// ConflictError returns a conflict error. message is shown to the caller.
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// RateLimitError returns a 429
func RateLimitError(c echo.Context) error {
	return c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
		Error:   "rate_limit_exceeded",
		Message: "Too many requests. Please try again later.",
	})
}

// FromDomain picks the response for err by its domain code
func FromDomain(c echo.Context, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeValidation:
		return ValidationError(c, err)
	case domain.ErrCodeNotFound:
		var de *domain.DomainError
		stderrors.As(err, &de)
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: de.Message})
	case domain.ErrCodePersistenceConflict:
		return ConflictError(c, "The resource was modified concurrently.")
	case domain.ErrCodeAuth, domain.ErrCodeEndpointNotFound, domain.ErrCodeRateLimited,
		domain.ErrCodeTransient, domain.ErrCodeUpstream:
		return UpstreamError(c, err)
	default:
		return InternalError(c, err)
	}
}
