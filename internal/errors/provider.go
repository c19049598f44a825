package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ProviderCode is the normalized failure class of an aggregator call.
type ProviderCode string

const (
	CodeRateLimited            ProviderCode = "RATE_LIMITED"
	CodeAuthInvalid            ProviderCode = "AUTH_INVALID"
	CodeConnectionDisabled     ProviderCode = "CONNECTION_DISABLED"
	CodeUserNotFound           ProviderCode = "USER_NOT_FOUND"
	CodeEnrollmentDisconnected ProviderCode = "ENROLLMENT_DISCONNECTED"
	CodeValidation             ProviderCode = "VALIDATION_ERROR"
	CodeProviderUnavailable    ProviderCode = "PROVIDER_UNAVAILABLE"
	CodeMFARequired            ProviderCode = "MFA_REQUIRED"
	CodeAlreadyRegistered      ProviderCode = "ALREADY_REGISTERED"
	CodeNotFound               ProviderCode = "NOT_FOUND"
	CodeProviderError          ProviderCode = "PROVIDER_ERROR"
)

// ProviderError is returned by every adapter call that fails after the
// transport has given up. It carries the correlation id sent with the
// request and the provider's own request id when the response had one.
type ProviderError struct {
	Code              ProviderCode  `json:"code"`
	Provider          string        `json:"provider"`
	StatusCode        int           `json:"-"`
	ProviderCode      string        `json:"provider_code,omitempty"`
	Message           string        `json:"message"`
	CorrelationID     string        `json:"correlation_id,omitempty"`
	ProviderRequestID string        `json:"provider_request_id,omitempty"`
	RetryAfter        time.Duration `json:"-"`
	ContinuationToken string        `json:"continuation_token,omitempty"`
	Internal          error         `json:"-"`
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.CorrelationID != "" {
		msg += " (correlation_id=" + e.CorrelationID
		if e.ProviderRequestID != "" {
			msg += ", provider_request_id=" + e.ProviderRequestID
		}
		msg += ")"
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Internal }

// Is matches another ProviderError by code only.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	return ok && t.Code == e.Code
}

// Retryable reports whether the transport may try the call again.
func (e *ProviderError) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeProviderUnavailable
}

// NeedsRecovery reports whether the remote user or enrollment is gone.
func (e *ProviderError) NeedsRecovery() bool {
	return e.Code == CodeUserNotFound || e.Code == CodeEnrollmentDisconnected
}

// NewProviderError builds a ProviderError with the given code and message.
func NewProviderError(provider string, code ProviderCode, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message}
}

// CodeForStatus maps an HTTP status onto the default taxonomy. Adapters
// refine the result with provider-specific body codes.
func CodeForStatus(status int) ProviderCode {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthInvalid
	case status == http.StatusConflict:
		return CodeConnectionDisabled
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusGone:
		return CodeEnrollmentDisconnected
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeValidation
	case status >= 500:
		return CodeProviderUnavailable
	default:
		return CodeProviderError
	}
}

// AsProviderError unwraps err into a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCode reports whether err is a ProviderError with the given code.
func IsCode(err error, code ProviderCode) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Code == code
}

// ToAppError maps a provider failure onto the HTTP-facing AppError shape.
func (e *ProviderError) ToAppError() *AppError {
	status := http.StatusBadGateway
	switch e.Code {
	case CodeRateLimited:
		status = http.StatusTooManyRequests
	case CodeAuthInvalid, CodeConnectionDisabled, CodeEnrollmentDisconnected, CodeUserNotFound:
		status = http.StatusConflict
	case CodeValidation:
		status = http.StatusBadRequest
	case CodeMFARequired:
		status = http.StatusAccepted
	case CodeNotFound:
		status = http.StatusNotFound
	case CodeAlreadyRegistered:
		status = http.StatusConflict
	case CodeProviderUnavailable:
		status = http.StatusServiceUnavailable
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	return &AppError{Code: string(e.Code), Message: msg, StatusCode: status, Internal: e}
}
