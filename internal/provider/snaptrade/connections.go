package snaptrade

import (
	"context"
	"net/http"
	"net/url"

	"flint/internal/provider"
)

// ListConnections returns every brokerage authorization of the user.
func (c *Client) ListConnections(ctx context.Context, creds provider.Credentials) ([]provider.Connection, error) {
	var out []authorization
	if err := c.get(ctx, "listConnections", "/authorizations", nil, credsRef(creds), &out); err != nil {
		return nil, err
	}
	conns := make([]provider.Connection, 0, len(out))
	for _, a := range out {
		conns = append(conns, a.toConnection())
	}
	return conns, nil
}

// GetConnection returns one authorization.
func (c *Client) GetConnection(ctx context.Context, creds provider.Credentials, id string) (*provider.Connection, error) {
	var out authorization
	if err := c.get(ctx, "getConnection", "/authorizations/"+url.PathEscape(id), nil, credsRef(creds), &out); err != nil {
		return nil, err
	}
	conn := out.toConnection()
	if conn.ID == "" {
		conn.ID = id
	}
	return &conn, nil
}

// RefreshConnection asks the brokerage to pull fresh holdings. Completion
// is reported asynchronously by webhook.
func (c *Client) RefreshConnection(ctx context.Context, creds provider.Credentials, id string) error {
	return c.post(ctx, "refreshConnection", "/authorizations/"+url.PathEscape(id)+"/refresh", nil, credsRef(creds), nil, nil)
}

// DisableConnection disables an authorization without removing it.
func (c *Client) DisableConnection(ctx context.Context, creds provider.Credentials, id string) error {
	return c.post(ctx, "disableConnection", "/authorizations/"+url.PathEscape(id)+"/disable", nil, credsRef(creds), nil, nil)
}

// RemoveConnection deletes an authorization and its accounts remotely.
func (c *Client) RemoveConnection(ctx context.Context, creds provider.Credentials, id string) error {
	return c.call(ctx, "removeConnection", http.MethodDelete, "/authorizations/"+url.PathEscape(id), nil, credsRef(creds), nil, nil)
}
