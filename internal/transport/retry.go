package transport

import (
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "flint/internal/errors"
)

// Backoff returns the pre-jitter delay after the given failed attempt
// (1-based): min(base*2^(attempt-1), max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// jitter adds up to a quarter of d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It reports false when the header is absent or unusable.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// providerRequestIDHeaders are checked in order for the provider's own id.
var providerRequestIDHeaders = []string{"X-Request-Id", "Request-Id", "X-Amzn-Requestid", "Teller-Request-Id"}

func providerRequestID(h http.Header) string {
	for _, name := range providerRequestIDHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (r Request) idempotent() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPatch:
		return r.Idempotent
	}
	return true
}

// resendable reports whether req may be sent again after perr. Rate-limited
// replies and failures to connect leave the provider untouched; anything
// else may follow a request the provider already applied.
func (r Request) resendable(perr *apperrors.ProviderError) bool {
	if r.idempotent() || perr.Code == apperrors.CodeRateLimited {
		return true
	}
	if perr.StatusCode != 0 || perr.Internal == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(perr.Internal, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(perr.Internal, &opErr) && opErr.Op == "dial"
}
