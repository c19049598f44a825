// Package teller is the bank aggregator adapter. Requests authenticate
// with the enrollment access token over HTTP basic auth and, outside the
// sandbox, a client certificate.
package teller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flint/internal/config"
	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/transport"
)

// Client implements provider.Adapter for Teller. Teller has no remote user
// to register, so it is not a provider.Registrar.
type Client struct {
	applicationID string
	environment   string
	baseURL       string
	connectURL    string
	signingSecret string
	http          *transport.Client
	now           func() time.Time
}

var _ provider.Adapter = (*Client)(nil)

// New builds a Teller client, loading the mTLS certificate when the
// environment requires one.
func New(cfg config.TellerConfig, tcfg config.TransportConfig) (*Client, error) {
	httpClient, err := transport.TellerHTTPClient(cfg, tcfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	opts := transport.OptionsFromConfig(string(models.ProviderTeller), tcfg)
	opts.Classify = Classify
	opts.HTTPClient = httpClient
	return NewWithTransport(cfg, transport.New(opts)), nil
}

// NewWithTransport creates a client on an existing transport.
func NewWithTransport(cfg config.TellerConfig, tr *transport.Client) *Client {
	return &Client{
		applicationID: cfg.ApplicationID,
		environment:   cfg.Environment,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		connectURL:    cfg.ConnectURL,
		signingSecret: cfg.SigningSecret,
		http:          tr,
		now:           time.Now,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() models.Provider { return models.ProviderTeller }

func (c *Client) call(ctx context.Context, op, method, path string, creds provider.Credentials, out any) error {
	if creds.Secret == "" {
		return apperrors.NewProviderError(string(models.ProviderTeller), apperrors.CodeAuthInvalid, "missing enrollment access token")
	}
	token := creds.Secret
	_, err := c.http.DoJSON(ctx, transport.Request{
		Operation: op,
		Method:    method,
		URL:       c.baseURL + path,
		Sign: func(req *http.Request, _ []byte) error {
			req.SetBasicAuth(token, "")
			return nil
		},
	}, out)
	return annotate(err, creds.RemoteUserID)
}

// annotate attaches the enrollment id to MFA failures so the caller can
// resume the enrollment in Connect.
func annotate(err error, enrollmentID string) error {
	if pe, ok := apperrors.AsProviderError(err); ok && pe.Code == apperrors.CodeMFARequired && pe.ContinuationToken == "" {
		pe.ContinuationToken = enrollmentID
	}
	return err
}

// LoginURL builds a Teller Connect URL. Setting ReconnectAuthorizationID
// opens Connect in update mode for that enrollment.
func (c *Client) LoginURL(_ context.Context, _ provider.Credentials, req provider.LoginRequest) (string, error) {
	if c.applicationID == "" {
		return "", apperrors.ErrProviderNotConfigured
	}
	u, err := url.Parse(c.connectURL)
	if err != nil {
		return "", fmt.Errorf("parse teller connect url: %w", err)
	}
	q := u.Query()
	q.Set("application_id", c.applicationID)
	q.Set("environment", c.environment)
	if req.RedirectURI != "" {
		q.Set("redirect_uri", req.RedirectURI)
	}
	if req.ReconnectAuthorizationID != "" {
		q.Set("enrollment_id", req.ReconnectAuthorizationID)
	}
	if req.Broker != "" {
		q.Set("institution", req.Broker)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// errorBody is Teller's {"error": {"code", "message"}} envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify maps a Teller error response onto the provider taxonomy.
func Classify(resp *transport.Response) *apperrors.ProviderError {
	var body errorBody
	_ = json.Unmarshal(resp.Body, &body)
	code := body.Error.Code
	msg := body.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	pe := &apperrors.ProviderError{
		Provider:     string(models.ProviderTeller),
		ProviderCode: code,
		Message:      msg,
	}
	switch {
	case strings.Contains(code, "mfa_required"):
		pe.Code = apperrors.CodeMFARequired
	case strings.HasPrefix(code, "enrollment.disconnected"):
		pe.Code = apperrors.CodeEnrollmentDisconnected
	case code == "not_found" || resp.StatusCode == http.StatusNotFound:
		pe.Code = apperrors.CodeNotFound
	default:
		pe.Code = apperrors.CodeForStatus(resp.StatusCode)
	}
	return pe
}
