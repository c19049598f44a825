// Package transport sends provider HTTP calls with correlation ids, client
// side pacing, bounded retries with exponential backoff, and typed errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"flint/internal/config"
	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/uuid"
)

// CorrelationHeader carries the per-call correlation id to the provider.
const CorrelationHeader = "X-Correlation-ID"

const maxBodyBytes = 8 << 20

// Request describes one logical provider call. It may be sent several times.
type Request struct {
	Operation string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte

	// Sign runs before every attempt so time-based signatures stay fresh.
	Sign func(req *http.Request, body []byte) error

	// Idempotent marks a POST or PATCH as safe to resend after the provider
	// may have acted on it. Other methods are idempotent already.
	Idempotent bool
}

// Response is a successful (2xx) provider reply.
type Response struct {
	StatusCode        int
	Header            http.Header
	Body              []byte
	CorrelationID     string
	ProviderRequestID string
	Attempts          int
}

// Classifier turns a non-2xx response into a ProviderError. Returning nil
// falls back to the status-code taxonomy.
type Classifier func(resp *Response) *apperrors.ProviderError

// Options tune a Client.
type Options struct {
	Provider       string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetryAfter  time.Duration
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	Classify       Classifier
	HTTPClient     *http.Client
}

// OptionsFromConfig builds Options for provider from the transport settings.
func OptionsFromConfig(provider string, cfg config.TransportConfig) Options {
	return Options{
		Provider:       provider,
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		MaxRetryAfter:  cfg.MaxRetryAfter,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}
}

// Client is safe for concurrent use.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(d time.Duration) time.Duration

	tracer   trace.Tracer
	attempts metric.Int64Counter
	retries  metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// New creates a Client. Zero options fall back to 3 attempts, 1s base and
// 10s max delay, no pacing.
func New(opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * opts.BaseDelay
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	instrumented := *httpClient
	base := instrumented.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	instrumented.Transport = otelhttp.NewTransport(base)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	c := &Client{
		opts:    opts,
		http:    &instrumented,
		limiter: limiter,
		now:     time.Now,
		sleep:   sleepContext,
		jitter:  jitter,
		tracer:  otel.Tracer("flint/transport"),
	}

	meter := otel.Meter("flint/transport")
	c.attempts, _ = meter.Int64Counter("provider.attempts", metric.WithDescription("Provider HTTP attempts"))
	c.retries, _ = meter.Int64Counter("provider.retries", metric.WithDescription("Provider HTTP retries"))
	c.failures, _ = meter.Int64Counter("provider.failures", metric.WithDescription("Provider calls that failed after retries"))
	c.latency, _ = meter.Float64Histogram("provider.attempt.duration", metric.WithUnit("ms"))
	return c
}

// Provider returns the provider name errors are tagged with.
func (c *Client) Provider() string { return c.opts.Provider }

// Do sends req, retrying rate limits, 5xx and network failures. A request
// that is not idempotent is only resent when the provider cannot have acted
// on it. Once started the retry sequence is not cut short by cancellation
// of ctx.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx = context.WithoutCancel(ctx)
	correlationID := CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = uuid.NewCorrelationID()
	}

	log := logger.Get().With(
		"provider", c.opts.Provider,
		"operation", req.Operation,
		"correlation_id", correlationID,
	)

	var lastErr *apperrors.ProviderError
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(ctx, req, &apperrors.ProviderError{
				Code: apperrors.CodeProviderUnavailable, Provider: c.opts.Provider,
				Message: "rate limiter", CorrelationID: correlationID, Internal: err,
			})
		}

		resp, perr := c.attempt(ctx, req, correlationID, attempt)
		if perr == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = perr

		if !perr.Retryable() || !req.resendable(perr) || attempt == c.opts.MaxAttempts {
			break
		}

		delay := c.delay(attempt, perr)
		log.Warnw("provider call failed, retrying",
			"attempt", attempt,
			"code", perr.Code,
			"status", perr.StatusCode,
			"provider_request_id", perr.ProviderRequestID,
			"delay_ms", delay.Milliseconds(),
		)
		c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", c.opts.Provider)))
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	log.Errorw("provider call failed",
		"code", lastErr.Code,
		"status", lastErr.StatusCode,
		"provider_code", lastErr.ProviderCode,
		"provider_request_id", lastErr.ProviderRequestID,
	)
	return nil, c.fail(ctx, req, lastErr)
}

// DoJSON sends req and decodes a successful body into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, &apperrors.ProviderError{
			Code:              apperrors.CodeProviderError,
			Provider:          c.opts.Provider,
			StatusCode:        resp.StatusCode,
			Message:           "malformed response body",
			CorrelationID:     resp.CorrelationID,
			ProviderRequestID: resp.ProviderRequestID,
			Internal:          err,
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request, correlationID string, attempt int) (*Response, *apperrors.ProviderError) {
	ctx, span := c.tracer.Start(ctx, c.opts.Provider+"."+req.Operation, trace.WithAttributes(
		attribute.String("provider", c.opts.Provider),
		attribute.String("http.method", req.Method),
		attribute.Int("attempt", attempt),
		attribute.String("correlation_id", correlationID),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, &apperrors.ProviderError{
			Code: apperrors.CodeValidation, Provider: c.opts.Provider,
			Message: "invalid request", CorrelationID: correlationID, Internal: err,
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(CorrelationHeader, correlationID)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Sign != nil {
		if err := req.Sign(httpReq, req.Body); err != nil {
			return nil, &apperrors.ProviderError{
				Code: apperrors.CodeAuthInvalid, Provider: c.opts.Provider,
				Message: "request signing failed", CorrelationID: correlationID, Internal: err,
			}
		}
	}

	attrs := metric.WithAttributes(attribute.String("provider", c.opts.Provider), attribute.String("operation", req.Operation))
	c.attempts.Add(ctx, 1, attrs)
	start := c.now()
	httpResp, err := c.http.Do(httpReq)
	c.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, &apperrors.ProviderError{
			Code: apperrors.CodeProviderUnavailable, Provider: c.opts.Provider,
			Message: "network error", CorrelationID: correlationID, Internal: err,
		}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	resp := &Response{
		StatusCode:        httpResp.StatusCode,
		Header:            httpResp.Header,
		Body:              data,
		CorrelationID:     correlationID,
		ProviderRequestID: providerRequestID(httpResp.Header),
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.ProviderRequestID != "" {
		span.SetAttributes(attribute.String("provider_request_id", resp.ProviderRequestID))
	}
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return nil, &apperrors.ProviderError{
			Code: apperrors.CodeProviderUnavailable, Provider: c.opts.Provider, StatusCode: resp.StatusCode,
			Message: "reading response body", CorrelationID: correlationID,
			ProviderRequestID: resp.ProviderRequestID, Internal: err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	perr := c.classify(resp)
	span.SetStatus(codes.Error, string(perr.Code))
	return nil, perr
}

func (c *Client) classify(resp *Response) *apperrors.ProviderError {
	var perr *apperrors.ProviderError
	if c.opts.Classify != nil {
		perr = c.opts.Classify(resp)
	}
	if perr == nil {
		perr = &apperrors.ProviderError{
			Code:    apperrors.CodeForStatus(resp.StatusCode),
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}
	perr.Provider = c.opts.Provider
	perr.StatusCode = resp.StatusCode
	perr.CorrelationID = resp.CorrelationID
	perr.ProviderRequestID = resp.ProviderRequestID
	if d, ok := ParseRetryAfter(resp.Header, c.now()); ok {
		perr.RetryAfter = d
	}
	return perr
}

// delay picks the wait before the next attempt. A rate-limited response
// with Retry-After wins over computed backoff.
func (c *Client) delay(attempt int, perr *apperrors.ProviderError) time.Duration {
	if perr.Code == apperrors.CodeRateLimited && perr.RetryAfter > 0 {
		if perr.RetryAfter > c.opts.MaxRetryAfter {
			return c.opts.MaxRetryAfter
		}
		return perr.RetryAfter
	}
	return c.jitter(Backoff(attempt, c.opts.BaseDelay, c.opts.MaxDelay))
}

func (c *Client) fail(ctx context.Context, req Request, perr *apperrors.ProviderError) error {
	c.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", c.opts.Provider),
		attribute.String("operation", req.Operation),
		attribute.String("code", string(perr.Code)),
	))
	return perr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type correlationKey struct{}

// WithCorrelationID makes Do reuse id instead of generating one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the id set by WithCorrelationID, if any.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
