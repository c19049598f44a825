package snaptrade

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/transport"
)

// SnapTrade error codes carried in the response body.
const (
	codeUserAlreadyExists   = "1010"
	codeUserNotFound        = "1011"
	codeInvalidSignature    = "1076"
	codeInvalidUserSecret   = "1083"
	codeConnectionDisabled  = "3003"
	codeAuthorizationAbsent = "3004"
)

type errorBody struct {
	Detail     string          `json:"detail"`
	Message    string          `json:"message"`
	Code       json.RawMessage `json:"code"`
	StatusCode int             `json:"status_code"`
}

func (b errorBody) code() string {
	raw := strings.TrimSpace(string(b.Code))
	return strings.Trim(raw, `"`)
}

func (b errorBody) text() string {
	if b.Detail != "" {
		return b.Detail
	}
	return b.Message
}

// Classify maps a SnapTrade error response onto the provider taxonomy.
func Classify(resp *transport.Response) *apperrors.ProviderError {
	var body errorBody
	_ = json.Unmarshal(resp.Body, &body)
	code := body.code()
	msg := body.text()
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	lower := strings.ToLower(msg)

	pe := &apperrors.ProviderError{
		Provider:     string(models.ProviderSnapTrade),
		ProviderCode: code,
		Message:      msg,
	}
	switch {
	case code == codeUserAlreadyExists || strings.Contains(lower, "already exist"):
		pe.Code = apperrors.CodeAlreadyRegistered
	case code == codeUserNotFound:
		pe.Code = apperrors.CodeUserNotFound
	case code == codeInvalidUserSecret || code == codeInvalidSignature:
		pe.Code = apperrors.CodeAuthInvalid
	case code == codeConnectionDisabled:
		pe.Code = apperrors.CodeConnectionDisabled
	case code == codeAuthorizationAbsent:
		pe.Code = apperrors.CodeNotFound
	case resp.StatusCode == http.StatusNotFound && strings.Contains(lower, "user"):
		pe.Code = apperrors.CodeUserNotFound
	default:
		pe.Code = apperrors.CodeForStatus(resp.StatusCode)
	}
	return pe
}
