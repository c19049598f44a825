package snaptrade

import (
	"context"
	"net/http"
	"net/url"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
)

type registerResponse struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

// RegisterUser creates the remote user. A collision with an existing remote
// user surfaces as ALREADY_REGISTERED.
func (c *Client) RegisterUser(ctx context.Context, remoteUserID string) (*provider.RemoteUser, error) {
	var out registerResponse
	err := c.post(ctx, "registerUser", "/snapTrade/registerUser", nil, nil,
		map[string]string{"userId": remoteUserID}, &out)
	if err != nil {
		return nil, err
	}
	if out.UserSecret == "" {
		return nil, apperrors.NewProviderError(string(models.ProviderSnapTrade), apperrors.CodeProviderError, "registration returned no secret")
	}
	if out.UserID == "" {
		out.UserID = remoteUserID
	}
	return &provider.RemoteUser{RemoteUserID: out.UserID, Secret: out.UserSecret}, nil
}

// DeleteUser removes the remote user and all of its authorizations.
func (c *Client) DeleteUser(ctx context.Context, creds provider.Credentials) error {
	q := url.Values{"userId": {creds.RemoteUserID}}
	return c.call(ctx, "deleteUser", http.MethodDelete, "/snapTrade/deleteUser", q, nil, nil, nil)
}

type loginBody struct {
	Broker            string `json:"broker,omitempty"`
	ImmediateRedirect bool   `json:"immediateRedirect"`
	CustomRedirect    string `json:"customRedirect,omitempty"`
	Reconnect         string `json:"reconnect,omitempty"`
	ConnectionType    string `json:"connectionType"`
}

type loginResponse struct {
	RedirectURI string `json:"redirectURI"`
	SessionID   string `json:"sessionId"`
}

// LoginURL returns the connection portal URL. With ReconnectAuthorizationID
// set, the portal repairs that authorization.
func (c *Client) LoginURL(ctx context.Context, creds provider.Credentials, req provider.LoginRequest) (string, error) {
	var out loginResponse
	err := c.post(ctx, "login", "/snapTrade/login", nil, credsRef(creds), loginBody{
		Broker:            req.Broker,
		ImmediateRedirect: true,
		CustomRedirect:    req.RedirectURI,
		Reconnect:         req.ReconnectAuthorizationID,
		ConnectionType:    "trade",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.RedirectURI == "" {
		return "", apperrors.NewProviderError(string(models.ProviderSnapTrade), apperrors.CodeProviderError, "login returned no redirect URI")
	}
	return out.RedirectURI, nil
}
