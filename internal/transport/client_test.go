package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "flint/internal/errors"
)

// newTestClient returns a client whose sleeps are recorded instead of taken.
func newTestClient(srv *httptest.Server, classify Classifier) (*Client, *[]time.Duration) {
	c := New(Options{
		Provider:    "test",
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Classify:    classify,
		HTTPClient:  srv.Client(),
	})
	var mu sync.Mutex
	slept := []time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, &slept
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1000 * time.Millisecond},
		{attempt: 2, want: 2000 * time.Millisecond},
		{attempt: 3, want: 4000 * time.Millisecond},
		{attempt: 4, want: 8000 * time.Millisecond},
		{attempt: 5, want: 10000 * time.Millisecond},
		{attempt: 60, want: 10000 * time.Millisecond},
	}
	for _, tt := range tests {
		got := Backoff(tt.attempt, time.Second, 10*time.Second)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestJitterStaysWithinQuarter(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := jitter(4 * time.Second)
		assert.GreaterOrEqual(t, got, 4*time.Second)
		assert.LessOrEqual(t, got, 5*time.Second)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("seconds", func(t *testing.T) {
		h := http.Header{"Retry-After": []string{"7"}}
		d, ok := ParseRetryAfter(h, now)
		require.True(t, ok)
		assert.Equal(t, 7*time.Second, d)
	})

	t.Run("http_date", func(t *testing.T) {
		h := http.Header{"Retry-After": []string{now.Add(30 * time.Second).Format(http.TimeFormat)}}
		d, ok := ParseRetryAfter(h, now)
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, d)
	})

	t.Run("garbage", func(t *testing.T) {
		_, ok := ParseRetryAfter(http.Header{"Retry-After": []string{"soon"}}, now)
		assert.False(t, ok)
	})
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, slept := newTestClient(srv, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := c.DoJSON(context.Background(), Request{Operation: "ping", Method: http.MethodGet, URL: srv.URL}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Request-Id", "req-123")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, slept := newTestClient(srv, nil)
	_, err := c.Do(context.Background(), Request{Operation: "accounts", Method: http.MethodGet, URL: srv.URL})

	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeAuthInvalid, pe.Code)
	assert.Equal(t, "req-123", pe.ProviderRequestID)
	assert.NotEmpty(t, pe.CorrelationID)
	assert.Contains(t, err.Error(), pe.CorrelationID)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *slept)
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, slept := newTestClient(srv, nil)
	_, err := c.Do(context.Background(), Request{Operation: "holdings", Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, *slept)
}

func TestDoCapsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, slept := newTestClient(srv, nil)
	c.opts.MaxRetryAfter = 30 * time.Second
	_, err := c.Do(context.Background(), Request{Operation: "holdings", Method: http.MethodGet, URL: srv.URL})

	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeRateLimited, pe.Code)
	assert.Equal(t, time.Hour, pe.RetryAfter)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, *slept)
}

func TestDoSendsCorrelationAndSignsEachAttempt(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(CorrelationHeader)+"|"+r.Header.Get("Signature"))
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, nil)
	var signs atomic.Int32
	ctx := WithCorrelationID(context.Background(), "flint-fixed")
	_, err := c.Do(ctx, Request{
		Operation:  "place",
		Method:     http.MethodPost,
		URL:        srv.URL,
		Body:       []byte(`{}`),
		Idempotent: true,
		Sign: func(req *http.Request, body []byte) error {
			signs.Add(1)
			req.Header.Set("Signature", "sig")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), signs.Load())
	assert.Equal(t, []string{"flint-fixed|sig", "flint-fixed|sig"}, seen)
}

func TestDoUsesClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"1010"}`))
	}))
	defer srv.Close()

	classify := func(resp *Response) *apperrors.ProviderError {
		return &apperrors.ProviderError{Code: apperrors.CodeAlreadyRegistered, ProviderCode: "1010"}
	}
	c, _ := newTestClient(srv, classify)
	_, err := c.Do(context.Background(), Request{Operation: "register", Method: http.MethodPost, URL: srv.URL})

	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeAlreadyRegistered, pe.Code)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "test", pe.Provider)
}

func TestDoSurvivesCallerCancellation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(inner context.Context, d time.Duration) error {
		cancel()
		return inner.Err()
	}

	_, err := c.Do(ctx, Request{Operation: "ping", Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoDoesNotResendNonIdempotentPost(t *testing.T) {
	statusServer := func(first int) (*httptest.Server, *atomic.Int32) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(first)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		return srv, &calls
	}

	t.Run("server_error_is_final", func(t *testing.T) {
		srv, calls := statusServer(http.StatusServiceUnavailable)
		defer srv.Close()
		c, slept := newTestClient(srv, nil)

		_, err := c.Do(context.Background(), Request{Operation: "placeOrder", Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})
		testProviderCode(t, err, apperrors.CodeProviderUnavailable)
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, *slept)
	})

	t.Run("rate_limit_is_resent", func(t *testing.T) {
		srv, calls := statusServer(http.StatusTooManyRequests)
		defer srv.Close()
		c, _ := newTestClient(srv, nil)

		_, err := c.Do(context.Background(), Request{Operation: "placeOrder", Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("marked_idempotent_is_resent", func(t *testing.T) {
		srv, calls := statusServer(http.StatusServiceUnavailable)
		defer srv.Close()
		c, _ := newTestClient(srv, nil)

		_, err := c.Do(context.Background(), Request{Operation: "cancelOrder", Method: http.MethodPost, URL: srv.URL, Idempotent: true})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("refused_connection_is_resent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c, slept := newTestClient(srv, nil)
		url := srv.URL
		srv.Close()

		_, err := c.Do(context.Background(), Request{Operation: "placeOrder", Method: http.MethodPost, URL: url, Body: []byte(`{}`)})
		testProviderCode(t, err, apperrors.CodeProviderUnavailable)
		assert.Len(t, *slept, 2)
	})
}

func testProviderCode(t *testing.T, err error, code apperrors.ProviderCode) {
	t.Helper()
	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok, "expected provider error, got %v", err)
	assert.Equal(t, code, pe.Code)
}
