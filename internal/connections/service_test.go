package connections

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/reconcile"
	"flint/internal/recovery"
	"flint/internal/services"
	"flint/internal/testutil"
)

type harness struct {
	db        *gorm.DB
	mirror    services.MirrorServicer
	creds     services.CredentialServicer
	snaptrade *testutil.FakeAdapter
	teller    *testutil.FakeAdapter
	registrar *testutil.FakeRegistrar
	svc       Servicer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	creds := services.NewCredentialService(db, testutil.NewEncryptor(t))
	mirror := services.NewMirrorService(db)
	audit := services.NewAuditService(db)
	registrar := &testutil.FakeRegistrar{}
	registrars := map[models.Provider]provider.Registrar{models.ProviderSnapTrade: registrar}
	coord := recovery.New(creds, audit, registrars, "flint", 3)

	snaptrade := testutil.NewFakeAdapter(models.ProviderSnapTrade)
	teller := testutil.NewFakeAdapter(models.ProviderTeller)
	rec := reconcile.New(mirror, coord, map[models.Provider]provider.Adapter{
		models.ProviderSnapTrade: snaptrade,
		models.ProviderTeller:    teller,
	})
	return harness{
		db:        db,
		mirror:    mirror,
		creds:     creds,
		snaptrade: snaptrade,
		teller:    teller,
		registrar: registrar,
		svc:       NewService(mirror, creds, audit, coord, rec, registrars),
	}
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	cred, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "flint-u1", cred.RemoteUserID)
	assert.Nil(t, cred.RotatedAt)

	again, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cred.Secret, again.Secret)
	assert.Equal(t, 1, h.registrar.Registrations())
}

func TestPortalURL(t *testing.T) {
	ctx := context.Background()

	t.Run("registers_snaptrade_user_on_first_use", func(t *testing.T) {
		h := newHarness(t)
		url, err := h.svc.PortalURL(ctx, "u1", models.ProviderSnapTrade, provider.LoginRequest{RedirectURI: "https://app.example/done"})
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example/flint-u1", url)
		assert.Equal(t, 1, h.registrar.Registrations())
		assert.Equal(t, "https://app.example/done", h.snaptrade.LastLogin.RedirectURI)
	})

	t.Run("reconnect_targets_own_connection", func(t *testing.T) {
		h := newHarness(t)
		conn := testutil.CreateTestConnection(t, h.db, models.ProviderSnapTrade, "u1")
		url, err := h.svc.PortalURL(ctx, "u1", models.ProviderSnapTrade, provider.LoginRequest{ReconnectAuthorizationID: conn.ID})
		require.NoError(t, err)
		assert.Contains(t, url, "?reconnect="+conn.ID)
	})

	t.Run("reconnect_of_foreign_connection_is_rejected", func(t *testing.T) {
		h := newHarness(t)
		conn := testutil.CreateTestConnection(t, h.db, models.ProviderSnapTrade, "u2")
		_, err := h.svc.PortalURL(ctx, "u1", models.ProviderSnapTrade, provider.LoginRequest{ReconnectAuthorizationID: conn.ID})
		testutil.AssertAppError(t, err, "CONNECTION_NOT_FOUND")
		assert.Zero(t, h.snaptrade.CallCount("LoginURL"))
	})

	t.Run("new_teller_enrollment_needs_no_credential", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.PortalURL(ctx, "u1", models.ProviderTeller, provider.LoginRequest{})
		require.NoError(t, err)
		assert.Zero(t, h.registrar.Registrations())
	})
}

func TestLinkEnrollment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.teller.Accounts = []provider.Account{{ID: "chk_1", ConnectionID: "enr_1", Name: "Checking", Currency: "USD"}}
	h.teller.Balances["chk_1"] = &provider.Balance{Cash: decimal.NewFromInt(250), Currency: "USD"}

	conn, err := h.svc.LinkEnrollment(ctx, "u1", EnrollmentInput{
		AccessToken:  "token_abc",
		EnrollmentID: "enr_1",
		TellerUserID: "usr_1",
		Institution:  "Chase",
	})
	require.NoError(t, err)
	assert.Equal(t, "Chase", conn.BrokerName)
	assert.NotNil(t, conn.LastSyncAt)

	token, err := h.creds.ConnectionToken(ctx, "enr_1")
	require.NoError(t, err)
	assert.Equal(t, "token_abc", token)

	cred, err := h.creds.GetCredential(ctx, models.ProviderTeller, "u1")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", cred.RemoteUserID)

	balance, err := h.mirror.GetBalance(ctx, "chk_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(balance.Cash))

	t.Run("relink_reenables", func(t *testing.T) {
		_, err := h.mirror.SetConnectionDisabled(ctx, models.ProviderTeller, "enr_1", true)
		require.NoError(t, err)
		conn, err := h.svc.LinkEnrollment(ctx, "u1", EnrollmentInput{AccessToken: "token_new", EnrollmentID: "enr_1"})
		require.NoError(t, err)
		assert.False(t, conn.Disabled)
		token, err := h.creds.ConnectionToken(ctx, "enr_1")
		require.NoError(t, err)
		assert.Equal(t, "token_new", token)
	})

	t.Run("foreign_enrollment_is_forbidden", func(t *testing.T) {
		_, err := h.svc.LinkEnrollment(ctx, "u2", EnrollmentInput{AccessToken: "x", EnrollmentID: "enr_1"})
		testutil.AssertAppError(t, err, "FORBIDDEN")
	})

	t.Run("missing_token", func(t *testing.T) {
		_, err := h.svc.LinkEnrollment(ctx, "u1", EnrollmentInput{EnrollmentID: "enr_2"})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})
}

func TestListConnectionsFoldsRemoteState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	h.snaptrade.Connections = []provider.Connection{
		{ID: "auth-1", BrokerName: "Robinhood"},
		{ID: "auth-2", BrokerName: "Alpaca", Disabled: true},
	}

	conns, err := h.svc.ListConnections(ctx, "u1", models.ProviderSnapTrade)
	require.NoError(t, err)
	require.Len(t, conns, 2)

	byID := map[string]models.Connection{}
	for _, c := range conns {
		byID[c.ID] = c
	}
	assert.Equal(t, "Robinhood", byID["auth-1"].BrokerName)
	assert.True(t, byID["auth-2"].Disabled)
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	conn := testutil.CreateTestConnection(t, h.db, models.ProviderSnapTrade, "u1")
	acct := testutil.CreateTestAccount(t, h.db, conn)

	require.NoError(t, h.svc.RefreshConnection(ctx, "u1", conn.ID))
	assert.Equal(t, 1, h.snaptrade.CallCount("RefreshConnection"))

	require.NoError(t, h.svc.DisableConnection(ctx, "u1", conn.ID))
	got, err := h.mirror.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	err = h.svc.RemoveConnection(ctx, "u2", conn.ID)
	testutil.AssertAppError(t, err, "CONNECTION_NOT_FOUND")

	h.snaptrade.SetError("RemoveConnection", apperrors.NewProviderError("snaptrade", apperrors.CodeNotFound, "gone"))
	require.NoError(t, h.svc.RemoveConnection(ctx, "u1", conn.ID))

	exists, err := h.mirror.AccountExists(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	var audits int64
	require.NoError(t, h.db.Model(&models.AuditLog{}).Where("action = ?", models.AuditConnectionRemoved).Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestSyncRunsHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)

	h.snaptrade.Accounts = []provider.Account{{ID: "acc-1", ConnectionID: "auth-1", Currency: "USD", Connection: &provider.Connection{ID: "auth-1", BrokerName: "Alpaca"}}}
	h.snaptrade.Orders["acc-1"] = []provider.Order{{ID: "o1", Symbol: "AAPL", Status: models.OrderStatusFilled}, {ID: "o2", Symbol: "MSFT", Status: models.OrderStatusOpen}}
	h.snaptrade.Activities["acc-1"] = []provider.Activity{{ID: "a1", Type: "dividend"}}

	report, err := h.svc.Sync(ctx, "u1", models.ProviderSnapTrade, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.AccountsSynced)
	assert.Equal(t, 2, report.OrdersSynced)
	assert.Equal(t, 1, report.ActivitiesSynced)
	assert.Empty(t, report.Failures)

	t.Run("foreign_authorization", func(t *testing.T) {
		other := testutil.CreateTestConnection(t, h.db, models.ProviderSnapTrade, "u2")
		_, err := h.svc.Sync(ctx, "u1", models.ProviderSnapTrade, other.ID)
		testutil.AssertAppError(t, err, "CONNECTION_NOT_FOUND")
	})

	t.Run("history_failure_is_reported", func(t *testing.T) {
		h.snaptrade.SetError("ListOrders:acc-1", apperrors.NewProviderError("snaptrade", apperrors.CodeProviderUnavailable, "down"))
		report, err := h.svc.Sync(ctx, "u1", models.ProviderSnapTrade, "")
		require.NoError(t, err)
		require.Len(t, report.Failures, 1)
		assert.Contains(t, report.Failures[0].Error, "orders")
		assert.Equal(t, 1, report.ActivitiesSynced)
	})
}

func TestDisconnectUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	conn := testutil.CreateTestConnection(t, h.db, models.ProviderSnapTrade, "u1")
	acct := testutil.CreateTestAccount(t, h.db, conn)

	require.NoError(t, h.svc.DisconnectUser(ctx, "u1", models.ProviderSnapTrade))
	assert.Equal(t, []string{"flint-u1"}, h.registrar.Deleted)

	_, err = h.creds.GetCredential(ctx, models.ProviderSnapTrade, "u1")
	testutil.AssertAppError(t, err, "CREDENTIAL_NOT_FOUND")
	exists, err := h.mirror.AccountExists(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("teller_removes_each_enrollment", func(t *testing.T) {
		enr := testutil.CreateTestConnection(t, h.db, models.ProviderTeller, "u3")
		require.NoError(t, h.creds.SetConnectionToken(ctx, enr.ID, "tok"))
		require.NoError(t, h.svc.DisconnectUser(ctx, "u3", models.ProviderTeller))
		assert.Equal(t, 1, h.teller.CallCount("RemoveConnection"))
		conns, err := h.mirror.ListConnections(ctx, "u3", models.ProviderTeller)
		require.NoError(t, err)
		assert.Empty(t, conns)
	})

	t.Run("never_registered", func(t *testing.T) {
		require.NoError(t, h.svc.DisconnectUser(ctx, "nobody", models.ProviderSnapTrade))
	})
}
