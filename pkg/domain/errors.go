package domain

import (
	"errors"
	"fmt"
	"time"
)

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error

	// RetryAfter is set on rate-limit errors when the provider told us how long to wait.
	RetryAfter time.Duration
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeAuth                = "AUTH_ERROR"
	ErrCodeEndpointNotFound    = "ENDPOINT_NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeTransient           = "TRANSIENT_NETWORK_ERROR"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodePersistenceConflict = "PERSISTENCE_CONFLICT"
	ErrCodeConfig              = "CONFIG_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
)

// Error constructors

// NewAuthError creates a non-retryable authentication error
func NewAuthError(err error) error {
	return &DomainError{
		Code:    ErrCodeAuth,
		Message: "provider authentication failed",
		Err:     err,
	}
}

// NewEndpointNotFoundError reports that every candidate path for an operation failed.
// lastErr is kept for diagnostics.
func NewEndpointNotFoundError(operation string, lastErr error) error {
	return &DomainError{
		Code:    ErrCodeEndpointNotFound,
		Message: fmt.Sprintf("no working endpoint for %s", operation),
		Err:     lastErr,
	}
}

// NewRateLimitedError creates a retryable rate-limit error
func NewRateLimitedError(retryAfter time.Duration, err error) error {
	return &DomainError{
		Code:       ErrCodeRateLimited,
		Message:    "provider rate limit exceeded",
		Err:        err,
		RetryAfter: retryAfter,
	}
}

// NewTransientError creates a retryable network/server error
func NewTransientError(err error) error {
	return &DomainError{
		Code:    ErrCodeTransient,
		Message: "transient provider error",
		Err:     err,
	}
}

// NewUpstreamError wraps a non-retryable provider response (4xx other than 401/404/429)
func NewUpstreamError(err error) error {
	return &DomainError{
		Code:    ErrCodeUpstream,
		Message: "provider rejected request",
		Err:     err,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: msg,
	}
}

// NewPersistenceConflictError marks a duplicate write; callers treat it as a no-op
func NewPersistenceConflictError(err error) error {
	return &DomainError{
		Code:    ErrCodePersistenceConflict,
		Message: "duplicate write",
		Err:     err,
	}
}

// NewConfigError creates a fatal misconfiguration error
func NewConfigError(msg string, err error) error {
	return &DomainError{
		Code:    ErrCodeConfig,
		Message: msg,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) error {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// Helper functions to check error types

func hasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsAuth checks if the error is an authentication error
func IsAuth(err error) bool {
	return hasCode(err, ErrCodeAuth)
}

// IsEndpointNotFound checks if every candidate endpoint was exhausted
func IsEndpointNotFound(err error) bool {
	return hasCode(err, ErrCodeEndpointNotFound)
}

// IsRateLimited checks if the error is a rate-limit error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsTransient checks if the error is a transient network error
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

// IsRetryable reports whether the retry policy may try again
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsPersistenceConflict checks if the error is a duplicate-write conflict
func IsPersistenceConflict(err error) bool {
	return hasCode(err, ErrCodePersistenceConflict)
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsFatal reports errors that abort a whole organization run
func IsFatal(err error) bool {
	return IsAuth(err) || IsConfig(err)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

// RetryAfter returns the provider-supplied wait hint, if any
func RetryAfter(err error) time.Duration {
	var de *DomainError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
