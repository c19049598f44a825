// Package snaptrade is the brokerage aggregator adapter. Every call is
// signed with the consumer key and sent through the resilient transport.
package snaptrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flint/internal/cache"
	"flint/internal/config"
	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/transport"
)

// Client implements provider.Adapter, provider.Registrar, provider.Trader
// and provider.CryptoTrader for SnapTrade.
type Client struct {
	clientID      string
	consumerKey   string
	webhookSecret string
	baseURL       string
	http          *transport.Client
	cache         cache.Cache
	cacheTTL      time.Duration
	now           func() time.Time
}

var (
	_ provider.Adapter      = (*Client)(nil)
	_ provider.Registrar    = (*Client)(nil)
	_ provider.Trader       = (*Client)(nil)
	_ provider.CryptoTrader = (*Client)(nil)
)

// New creates a SnapTrade client. c may be nil, in which case lookups are
// cached in process.
func New(cfg config.SnapTradeConfig, tcfg config.TransportConfig, c cache.Cache, cacheTTL time.Duration) *Client {
	opts := transport.OptionsFromConfig(string(models.ProviderSnapTrade), tcfg)
	opts.Classify = Classify
	return NewWithTransport(cfg, transport.New(opts), c, cacheTTL)
}

// NewWithTransport creates a client on an existing transport.
func NewWithTransport(cfg config.SnapTradeConfig, tr *transport.Client, c cache.Cache, cacheTTL time.Duration) *Client {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Client{
		clientID:      cfg.ClientID,
		consumerKey:   cfg.ConsumerKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          tr,
		cache:         c,
		cacheTTL:      cacheTTL,
		now:           time.Now,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() models.Provider { return models.ProviderSnapTrade }

// call sends one signed request. userScoped adds userId and userSecret.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, creds *provider.Credentials, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if creds != nil {
		if creds.RemoteUserID == "" || creds.Secret == "" {
			return apperrors.NewProviderError(string(models.ProviderSnapTrade), apperrors.CodeAuthInvalid, "missing user credentials")
		}
		query.Set("userId", creds.RemoteUserID)
		query.Set("userSecret", creds.Secret)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	_, err := c.http.DoJSON(ctx, transport.Request{
		Operation:  op,
		Method:     method,
		URL:        u,
		Body:       payload,
		Sign:       c.sign,
		Idempotent: !unrepeatable[op],
	}, out)
	return err
}

// unrepeatable operations change provider state each time they are applied,
// so a failed attempt is not resent once the provider may have seen it.
var unrepeatable = map[string]bool{
	"placeOrder":       true,
	"placeCryptoOrder": true,
	"registerUser":     true,
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, creds *provider.Credentials, out any) error {
	return c.call(ctx, op, http.MethodGet, path, query, creds, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, query url.Values, creds *provider.Credentials, body, out any) error {
	return c.call(ctx, op, http.MethodPost, path, query, creds, body, out)
}

func credsRef(creds provider.Credentials) *provider.Credentials {
	return &creds
}
