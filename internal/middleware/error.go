package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
)

// ErrorHandler converts errors set on the Gin context into JSON error
// responses via WriteError.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// Process the last error (most relevant in a middleware chain)
		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError writes a consistent JSON error response. AppErrors keep their
// code and message. Provider failures are reported with their normalized
// code and correlation id so a user-facing error can be matched to the
// provider's logs. Anything else is logged and returned as a generic
// internal error.
func WriteError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			logger.Get().Errorw("app error",
				"code", appErr.Code,
				"message", appErr.Message,
				"internal", appErr.Internal.Error(),
				"path", c.Request.URL.Path,
				"request_id", RequestID(c),
			)
		}
		c.JSON(appErr.StatusCode, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	if pe, ok := apperrors.AsProviderError(err); ok {
		logger.Get().Warnw("provider error",
			"provider", pe.Provider,
			"code", pe.Code,
			"status", pe.StatusCode,
			"correlation_id", pe.CorrelationID,
			"provider_request_id", pe.ProviderRequestID,
			"path", c.Request.URL.Path,
			"request_id", RequestID(c),
		)
		body := gin.H{
			"code":           pe.Code,
			"message":        pe.Message,
			"provider":       pe.Provider,
			"correlation_id": pe.CorrelationID,
		}
		if pe.ProviderRequestID != "" {
			body["provider_request_id"] = pe.ProviderRequestID
		}
		if pe.ContinuationToken != "" {
			body["continuation_token"] = pe.ContinuationToken
		}
		if pe.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(pe.RetryAfter.Seconds())))
		}
		c.JSON(providerStatus(pe), gin.H{"error": body})
		return
	}

	// Unexpected error: log full details, return generic message
	logger.Get().Errorw("unexpected error",
		"error", err.Error(),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"request_id", RequestID(c),
	)
	c.JSON(apperrors.ErrInternalServer.StatusCode, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrInternalServer.Code,
			"message": apperrors.ErrInternalServer.Message,
		},
	})
}

// providerStatus maps a provider failure onto our own response status.
// Upstream auth failures are not the caller's auth failure.
func providerStatus(pe *apperrors.ProviderError) int {
	switch pe.Code {
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAuthInvalid, apperrors.CodeUserNotFound, apperrors.CodeConnectionDisabled,
		apperrors.CodeEnrollmentDisconnected, apperrors.CodeMFARequired, apperrors.CodeAlreadyRegistered:
		return http.StatusConflict
	case apperrors.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
