package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"flint/internal/models"
	"flint/internal/pagination"
	"flint/internal/reconcile"
	"flint/internal/services"
	"flint/internal/testutil"
)

type verifierFunc func(http.Header, []byte) error

func (f verifierFunc) VerifyWebhook(h http.Header, body []byte) error { return f(h, body) }

func accept(http.Header, []byte) error { return nil }

type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSyncer) SyncAccountsForConnection(_ context.Context, _ models.Provider, userID, authorizationID string) (*reconcile.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID+"/"+authorizationID)
	return &reconcile.SyncResult{}, nil
}

type env struct {
	db     *gorm.DB
	mirror services.MirrorServicer
	logs   services.WebhookLogServicer
	syncer *recordingSyncer
	proc   *Processor
}

func newEnv(t *testing.T, v Verifier) env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	mirror := services.NewMirrorService(db)
	logs := services.NewWebhookLogService(db)
	creds := services.NewCredentialService(db, testutil.NewEncryptor(t))
	syncer := &recordingSyncer{}
	verifiers := map[models.Provider]Verifier{}
	if v != nil {
		verifiers[models.ProviderSnapTrade] = v
		verifiers[models.ProviderTeller] = v
	}
	return env{db: db, mirror: mirror, logs: logs, syncer: syncer, proc: NewProcessor(logs, mirror, creds, verifiers, syncer)}
}

func event(eventType, authID string) []byte {
	return []byte(`{"eventType":"` + eventType + `","userId":"remote-u1","brokerageAuthorizationId":"` + authID + `"}`)
}

func (e env) connection(t *testing.T, id string) *models.Connection {
	t.Helper()
	conn, err := e.mirror.GetConnection(context.Background(), id)
	require.NoError(t, err)
	return conn
}

func TestVerificationFailureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(func(http.Header, []byte) error { return errors.New("signature mismatch") }))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_BROKEN", conn.ID))
	assert.False(t, out.Verified)
	assert.False(t, out.Applied)
	assert.False(t, e.connection(t, conn.ID).Disabled)

	var entry models.WebhookLog
	require.NoError(t, e.db.Where("id = ?", out.LogID).First(&entry).Error)
	assert.False(t, entry.Verified)
	assert.False(t, entry.Processed)
	assert.Equal(t, "CONNECTION_BROKEN", entry.Type)
	require.NotNil(t, entry.Error)
	assert.Contains(t, *entry.Error, "signature mismatch")
}

func TestUnconfiguredProviderIsRejected(t *testing.T) {
	e := newEnv(t, nil)
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")

	out := e.proc.Handle(context.Background(), models.ProviderSnapTrade, http.Header{}, event("CONNECTION_DELETED", conn.ID))
	assert.False(t, out.Verified)
	assert.Equal(t, conn.ID, e.connection(t, conn.ID).ID)
}

func TestBrokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")

	for i := 0; i < 2; i++ {
		out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_BROKEN", conn.ID))
		require.NoError(t, out.Err)
		assert.Equal(t, ConnectionBroken, out.Event.Type)
	}
	got := e.connection(t, conn.ID)
	assert.True(t, got.Disabled)
	assert.NotNil(t, got.DisabledAt)
}

func TestFixedReenables(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")
	_, err := e.mirror.SetConnectionDisabled(ctx, conn.Provider, conn.ID, true)
	require.NoError(t, err)

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_FIXED", conn.ID))
	require.NoError(t, out.Err)
	assert.True(t, out.Applied)
	got := e.connection(t, conn.ID)
	assert.False(t, got.Disabled)
	assert.Nil(t, got.DisabledAt)
}

func TestUpdatedTouchesWithoutEnabling(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")
	_, err := e.mirror.SetConnectionDisabled(ctx, conn.Provider, conn.ID, true)
	require.NoError(t, err)

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_UPDATED", conn.ID))
	require.NoError(t, out.Err)
	got := e.connection(t, conn.ID)
	assert.NotNil(t, got.LastSyncAt)
	assert.True(t, got.Disabled)
}

func TestDeletedThenLateUpdate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")
	account := testutil.CreateTestAccount(t, e.db, conn)

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_DELETED", conn.ID))
	require.NoError(t, out.Err)
	assert.True(t, out.Applied)

	for _, late := range []string{"CONNECTION_UPDATED", "CONNECTION_BROKEN", "CONNECTION_FIXED", "CONNECTION_DELETED"} {
		out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event(late, conn.ID))
		assert.NoError(t, out.Err, late)
		assert.False(t, out.Applied, late)
	}

	_, err := e.mirror.GetConnection(ctx, conn.ID)
	testutil.AssertAppError(t, err, "CONNECTION_NOT_FOUND")
	exists, err := e.mirror.AccountExists(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddedCreatesConnectionAndSyncs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	testutil.CreateTestCredential(t, e.db, testutil.NewEncryptor(t), models.ProviderSnapTrade, "u1")

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_ADDED", "auth-new"))
	require.NoError(t, out.Err)
	assert.True(t, out.Applied)
	e.proc.Wait()

	got := e.connection(t, "auth-new")
	assert.Equal(t, "u1", got.LocalUserID)
	assert.Equal(t, []string{"u1/auth-new"}, e.syncer.calls)

	t.Run("repeat_does_not_resync", func(t *testing.T) {
		out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, event("CONNECTION_ADDED", "auth-new"))
		require.NoError(t, out.Err)
		e.proc.Wait()
		assert.Len(t, e.syncer.calls, 1)
	})

	t.Run("unknown_remote_user", func(t *testing.T) {
		body := []byte(`{"eventType":"CONNECTION_ADDED","userId":"stranger","brokerageAuthorizationId":"auth-x"}`)
		out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, body)
		require.NoError(t, out.Err)
		assert.False(t, out.Applied)
		_, err := e.mirror.GetConnection(ctx, "auth-x")
		testutil.AssertAppError(t, err, "CONNECTION_NOT_FOUND")
	})
}

func TestUnknownTypeIsLoggedAndAcknowledged(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, []byte(`{"eventType":"USER_REGISTERED","userId":"remote-u1"}`))
	require.NoError(t, out.Err)
	assert.Equal(t, NoOp, out.Event.Type)

	var entry models.WebhookLog
	require.NoError(t, e.db.Where("id = ?", out.LogID).First(&entry).Error)
	assert.True(t, entry.Verified)
	assert.True(t, entry.Processed)
	assert.Equal(t, string(NoOp), entry.NormalizedType)
}

func TestMalformedBodyIsLogged(t *testing.T) {
	e := newEnv(t, verifierFunc(accept))
	out := e.proc.Handle(context.Background(), models.ProviderTeller, http.Header{}, []byte(`{oops`))
	assert.True(t, out.Verified)
	assert.Error(t, out.Err)

	var count int64
	require.NoError(t, e.db.Model(&models.WebhookLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTellerEnrollmentDisconnected(t *testing.T) {
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderTeller, "u1")
	body := []byte(`{"id":"wh_1","type":"enrollment.disconnected","payload":{"enrollment_id":"` + conn.ID + `","reason":"disconnected"}}`)

	out := e.proc.Handle(context.Background(), models.ProviderTeller, http.Header{}, body)
	require.NoError(t, out.Err)
	assert.True(t, e.connection(t, conn.ID).Disabled)
}

func TestStoredPayloadMasksSecrets(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")
	body := []byte(`{"eventType":"CONNECTION_UPDATED","userId":"remote-u1","brokerageAuthorizationId":"` + conn.ID +
		`","webhookSecret":"shh-secret","details":{"userSecret":"us-123","amount":12345678901234567890}}`)

	out := e.proc.Handle(ctx, models.ProviderSnapTrade, http.Header{}, body)
	require.NoError(t, out.Err)

	page, err := e.logs.List(ctx, models.ProviderSnapTrade, pagination.PageRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	payload := page.Data[0].Payload
	assert.NotContains(t, payload, "shh-secret")
	assert.NotContains(t, payload, "us-123")
	assert.Contains(t, payload, `"webhookSecret":"[REDACTED]"`)
	assert.Contains(t, payload, "12345678901234567890")
	assert.Contains(t, payload, conn.ID)
}

func TestRedactPayloadKeepsNonJSON(t *testing.T) {
	assert.Equal(t, `{oops`, redactPayload([]byte(`{oops`)))
	assert.Equal(t, `{"type":"ping"}`, redactPayload([]byte(`{"type":"ping"}`)))
	assert.Equal(t, `[{"token":"[REDACTED]"}]`, redactPayload([]byte(`[{"token":"abc"}]`)))
}

func TestEventForAnotherProviderIsIgnored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, verifierFunc(accept))
	conn := testutil.CreateTestConnection(t, e.db, models.ProviderSnapTrade, "u1")
	account := testutil.CreateTestAccount(t, e.db, conn)

	broken := []byte(`{"id":"wh_2","type":"enrollment.disconnected","payload":{"enrollment_id":"` + conn.ID + `","reason":"disconnected"}}`)
	out := e.proc.Handle(ctx, models.ProviderTeller, http.Header{}, broken)
	require.NoError(t, out.Err)
	assert.False(t, out.Applied)
	assert.False(t, e.connection(t, conn.ID).Disabled)

	exists, err := e.mirror.AccountExists(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}
