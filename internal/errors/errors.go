// Package errors provides the error types shared across Flint.
// Service-layer errors use AppError so HTTP responses never leak internal
// details; provider calls fail with ProviderError (see provider.go).
package errors

import "net/http"

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is reports whether target is an AppError with the same code, so wrapped
// copies of a sentinel still match it.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &AppError{Code: "FORBIDDEN", Message: "Access denied", StatusCode: http.StatusForbidden}
)

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// Credential errors.
var (
	ErrCredentialNotFound = &AppError{Code: "CREDENTIAL_NOT_FOUND", Message: "No provider registration for this user", StatusCode: http.StatusNotFound}
	ErrCredentialConflict = &AppError{Code: "CREDENTIAL_CONFLICT", Message: "Provider registration was modified concurrently", StatusCode: http.StatusConflict}
	ErrDecryptFailed      = &AppError{Code: "DECRYPT_FAILED", Message: "Stored secret could not be decrypted", StatusCode: http.StatusInternalServerError}
)

// Mirror errors.
var (
	ErrConnectionNotFound = &AppError{Code: "CONNECTION_NOT_FOUND", Message: "Connection not found", StatusCode: http.StatusNotFound}
	ErrAccountNotFound    = &AppError{Code: "ACCOUNT_NOT_FOUND", Message: "Account not found", StatusCode: http.StatusNotFound}
	ErrOrderNotFound      = &AppError{Code: "ORDER_NOT_FOUND", Message: "Order not found", StatusCode: http.StatusNotFound}
)

// Provider configuration errors.
var (
	ErrProviderNotConfigured = &AppError{Code: "PROVIDER_NOT_CONFIGURED", Message: "Provider is not configured", StatusCode: http.StatusServiceUnavailable}
	ErrUnsupportedOperation  = &AppError{Code: "UNSUPPORTED_OPERATION", Message: "Operation is not supported by this provider", StatusCode: http.StatusBadRequest}
)

// Goal errors.
var (
	ErrGoalNotFound      = &AppError{Code: "GOAL_NOT_FOUND", Message: "Goal not found", StatusCode: http.StatusNotFound}
	ErrGoalNotLinked     = &AppError{Code: "GOAL_NOT_LINKED", Message: "Goal has no linked account", StatusCode: http.StatusBadRequest}
	ErrInvalidGoalTarget = &AppError{Code: "INVALID_GOAL_TARGET", Message: "Goal target must be positive", StatusCode: http.StatusBadRequest}
)
