package teller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flint/internal/config"
	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/transport"
)

var testCreds = provider.Credentials{RemoteUserID: "enr_1", Secret: "token_abc"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := transport.New(transport.Options{
		Provider:    string(models.ProviderTeller),
		MaxAttempts: 1,
		Classify:    Classify,
		HTTPClient:  srv.Client(),
	})
	return NewWithTransport(config.TellerConfig{
		ApplicationID: "app_123",
		Environment:   config.TellerSandbox,
		BaseURL:       srv.URL,
		ConnectURL:    "https://teller.io/connect",
		SigningSecret: "whsec",
	}, tr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var accountsPayload = []map[string]any{
	{"id": "acc_1", "enrollment_id": "enr_1", "name": "Checking", "type": "depository", "subtype": "checking",
		"status": "open", "currency": "usd", "last_four": "4321", "institution": map[string]string{"id": "chase", "name": "Chase"}},
	{"id": "acc_2", "enrollment_id": "enr_1", "name": "Savings", "type": "depository", "subtype": "savings",
		"status": "open", "currency": "USD", "institution": map[string]string{"id": "chase", "name": "Chase"}},
	{"id": "acc_3", "enrollment_id": "enr_2", "name": "Card", "type": "credit", "subtype": "credit_card",
		"status": "open", "institution": map[string]string{"id": "amex", "name": "Amex"}},
}

func TestListAccountsUsesBasicAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "token_abc" || pass != "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "unauthorized", "message": "bad token"}})
			return
		}
		writeJSON(w, http.StatusOK, accountsPayload)
	})

	accounts, err := c.ListAccounts(context.Background(), testCreds, "enr_1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "****4321", accounts[0].NumberMasked)
	assert.Equal(t, "USD", accounts[0].Currency)
	require.NotNil(t, accounts[0].Connection)
	assert.Equal(t, "Chase", accounts[0].Connection.BrokerName)

	_, err = c.ListAccounts(context.Background(), provider.Credentials{RemoteUserID: "enr_1", Secret: "wrong"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthInvalid))
}

func TestListConnectionsGroupsByEnrollment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, accountsPayload)
	})
	conns, err := c.ListConnections(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "enr_1", conns[0].ID)
	assert.Equal(t, "enr_2", conns[1].ID)

	_, err = c.GetConnection(context.Background(), testCreds, "enr_9")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acc_1/balances", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"account_id": "acc_1", "ledger": "120.50", "available": "100.00"})
	})
	b, err := c.GetBalance(context.Background(), testCreds, "acc_1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100").Equal(b.Cash))
	assert.True(t, decimal.RequireFromString("120.5").Equal(b.TotalEquity))
}

func TestHoldingsAndOrdersAreEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})
	positions, err := c.GetPositions(context.Background(), testCreds, "acc_1")
	require.NoError(t, err)
	assert.NotNil(t, positions)
	assert.Empty(t, positions)

	orders, err := c.ListOrders(context.Background(), testCreds, "acc_1")
	require.NoError(t, err)
	assert.Empty(t, orders)

	assert.ErrorIs(t, c.DisableConnection(context.Background(), testCreds, "enr_1"), apperrors.ErrUnsupportedOperation)
}

func TestListActivities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "txn_1", "account_id": "acc_1", "amount": "-42.10", "date": "2024-05-03",
				"description": "", "status": "posted", "type": "card_payment",
				"details": map[string]any{"counterparty": map[string]string{"name": "Coffee Co"}}},
		})
	})
	got, err := c.ListActivities(context.Background(), testCreds, "acc_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Coffee Co", got[0].Description)
	assert.Equal(t, "posted", got[0].Status)
	assert.Equal(t, time.May, got[0].Date.Month())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.ProviderCode
	}{
		{name: "enrollment_disconnected", status: 404, body: `{"error":{"code":"enrollment.disconnected","message":"gone"}}`, want: apperrors.CodeEnrollmentDisconnected},
		{name: "disconnected_credentials", status: 404, body: `{"error":{"code":"enrollment.disconnected.credentials_invalid"}}`, want: apperrors.CodeEnrollmentDisconnected},
		{name: "mfa_required", status: 404, body: `{"error":{"code":"enrollment.disconnected.user_action.mfa_required"}}`, want: apperrors.CodeMFARequired},
		{name: "not_found", status: 404, body: `{"error":{"code":"not_found"}}`, want: apperrors.CodeNotFound},
		{name: "unauthorized", status: 401, body: `{}`, want: apperrors.CodeAuthInvalid},
		{name: "rate_limited", status: 429, body: ``, want: apperrors.CodeRateLimited},
		{name: "bad_gateway", status: 502, body: `<html>`, want: apperrors.CodeProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify(&transport.Response{StatusCode: tt.status, Body: []byte(tt.body)})
			assert.Equal(t, tt.want, pe.Code)
		})
	}
}

func TestMFARequiredCarriesEnrollment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{
			"code": "enrollment.disconnected.user_action.mfa_required", "message": "MFA required",
		}})
	})
	_, err := c.ListAccounts(context.Background(), testCreds, "")
	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeMFARequired, pe.Code)
	assert.Equal(t, "enr_1", pe.ContinuationToken)
}

func TestLoginURL(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	raw, err := c.LoginURL(context.Background(), testCreds, provider.LoginRequest{
		RedirectURI:              "https://app.example/teller",
		ReconnectAuthorizationID: "enr_1",
	})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "app_123", u.Query().Get("application_id"))
	assert.Equal(t, "sandbox", u.Query().Get("environment"))
	assert.Equal(t, "enr_1", u.Query().Get("enrollment_id"))
}

func TestVerifyWebhook(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"wh_1","type":"enrollment.disconnected","payload":{"enrollment_id":"enr_1"}}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	valid := Sign("whsec", ts, body)

	tests := []struct {
		name    string
		secret  string
		header  string
		body    []byte
		now     time.Time
		wantErr error
	}{
		{name: "valid", secret: "whsec", header: "t=" + ts + ",v1=" + valid, body: body, now: now},
		{name: "second_signature_matches", secret: "whsec", header: "t=" + ts + ",v1=deadbeef,v1=" + valid, body: body, now: now},
		{name: "within_window", secret: "whsec", header: "t=" + ts + ",v1=" + valid, body: body, now: now.Add(179 * time.Second)},
		{name: "replayed", secret: "whsec", header: "t=" + ts + ",v1=" + valid, body: body, now: now.Add(181 * time.Second), wantErr: ErrWebhookExpired},
		{name: "tampered", secret: "whsec", header: "t=" + ts + ",v1=" + valid, body: []byte(`{"id":"wh_2"}`), now: now, wantErr: ErrWebhookSignature},
		{name: "wrong_secret", secret: "other", header: "t=" + ts + ",v1=" + valid, body: body, now: now, wantErr: ErrWebhookSignature},
		{name: "missing_timestamp", secret: "whsec", header: "v1=" + valid, body: body, now: now, wantErr: ErrWebhookMalformed},
		{name: "missing_header", secret: "whsec", header: "", body: body, now: now, wantErr: ErrWebhookMalformed},
		{name: "no_secret", secret: "", header: "t=" + ts + ",v1=" + valid, body: body, now: now, wantErr: ErrWebhookUnverifiable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(tt.secret, tt.header, tt.body, tt.now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("via_client_header", func(t *testing.T) {
		c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
		c.now = func() time.Time { return now }
		h := http.Header{}
		h.Set(SignatureHeader, "t="+ts+",v1="+valid)
		assert.NoError(t, c.VerifyWebhook(h, body))
	})
}
