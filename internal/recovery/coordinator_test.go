package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/services"
	"flint/internal/testutil"
)

type fakeRegistrar struct {
	calls   atomic.Int32
	taken   map[string]bool
	fail    error
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *fakeRegistrar) RegisterUser(ctx context.Context, remoteUserID string) (*provider.RemoteUser, error) {
	n := f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.fail != nil {
		return nil, f.fail
	}
	if f.taken[remoteUserID] {
		return nil, apperrors.NewProviderError("snaptrade", apperrors.CodeAlreadyRegistered, "exists")
	}
	return &provider.RemoteUser{RemoteUserID: remoteUserID, Secret: "fresh-secret-" + string(rune('0'+n))}, nil
}

func (f *fakeRegistrar) DeleteUser(context.Context, provider.Credentials) error { return nil }

type fixture struct {
	creds services.CredentialServicer
	coord *Coordinator
	reg   *fakeRegistrar
}

func setup(t *testing.T, reg *fakeRegistrar) fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	creds := services.NewCredentialService(db, testutil.NewEncryptor(t))
	coord := New(creds, services.NewAuditService(db), map[models.Provider]provider.Registrar{
		models.ProviderSnapTrade: reg,
	}, "flint", 3)
	return fixture{creds: creds, coord: coord, reg: reg}
}

var userNotFound = apperrors.NewProviderError("snaptrade", apperrors.CodeUserNotFound, "Unable to find user")

func snaptrade(userID string) Target {
	return Target{Provider: models.ProviderSnapTrade, UserID: userID}
}

func TestRecoveryEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := setup(t, &fakeRegistrar{})

	cred, err := f.coord.Register(ctx, models.ProviderSnapTrade, "u1")
	require.NoError(t, err)
	assert.Nil(t, cred.RotatedAt)
	assert.Equal(t, "flint-u1", cred.RemoteUserID)
	stale := cred.Secret

	// The provider deleted the remote user: the stale secret is rejected.
	var calls int
	got, err := Do(ctx, f.coord, snaptrade("u1"), func(_ context.Context, c provider.Credentials) ([]string, error) {
		calls++
		if c.Secret == stale {
			return nil, userNotFound
		}
		return []string{"auth-1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"auth-1"}, got)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 2, f.reg.calls.Load())

	rotated, err := f.creds.GetCredential(ctx, models.ProviderSnapTrade, "u1")
	require.NoError(t, err)
	require.NotNil(t, rotated.RotatedAt)
	assert.NotEqual(t, stale, rotated.Secret)
}

func TestRecoveryIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistrar{started: make(chan struct{}), release: make(chan struct{})}
	f := setup(t, reg)
	_, err := f.creds.EnsureCredential(ctx, models.ProviderSnapTrade, "u1", "flint-u1", "stale")
	require.NoError(t, err)

	fn := func(_ context.Context, c provider.Credentials) (string, error) {
		if c.Secret == "stale" {
			return "", userNotFound
		}
		return c.Secret, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Do(ctx, f.coord, snaptrade("u1"), fn)
		}(i)
	}

	<-reg.started
	time.Sleep(20 * time.Millisecond)
	close(reg.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.EqualValues(t, 1, reg.calls.Load())
}

func TestRecoveryRetriesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, &fakeRegistrar{})
	_, err := f.creds.EnsureCredential(ctx, models.ProviderSnapTrade, "u1", "flint-u1", "stale")
	require.NoError(t, err)

	var calls int
	_, err = Do(ctx, f.coord, snaptrade("u1"), func(context.Context, provider.Credentials) (int, error) {
		calls++
		return 0, userNotFound
	})
	testutil.AssertProviderError(t, err, apperrors.CodeUserNotFound)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, f.reg.calls.Load())
}

func TestRecoveryFailureReturnsOriginalError(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistrar{fail: apperrors.NewProviderError("snaptrade", apperrors.CodeProviderUnavailable, "down")}
	f := setup(t, reg)
	_, err := f.creds.EnsureCredential(ctx, models.ProviderSnapTrade, "u1", "flint-u1", "stale")
	require.NoError(t, err)

	var calls int
	_, err = Do(ctx, f.coord, snaptrade("u1"), func(context.Context, provider.Credentials) (int, error) {
		calls++
		return 0, userNotFound
	})
	testutil.AssertProviderError(t, err, apperrors.CodeUserNotFound)
	assert.Equal(t, 1, calls)

	cred, err := f.creds.GetCredential(ctx, models.ProviderSnapTrade, "u1")
	require.NoError(t, err)
	assert.Equal(t, "stale", cred.Secret)
	assert.Nil(t, cred.RotatedAt)

	// A later call may try recovery again.
	reg.fail = nil
	_, err = Do(ctx, f.coord, snaptrade("u1"), func(_ context.Context, c provider.Credentials) (int, error) {
		if c.Secret == "stale" {
			return 0, userNotFound
		}
		return 1, nil
	})
	require.NoError(t, err)
}

func TestRegisterSkipsTakenIDs(t *testing.T) {
	ctx := context.Background()
	f := setup(t, &fakeRegistrar{taken: map[string]bool{"flint-u1": true, "flint-u1-v2": true}})

	cred, err := f.coord.Register(ctx, models.ProviderSnapTrade, "u1")
	require.NoError(t, err)
	assert.Equal(t, "flint-u1-v3", cred.RemoteUserID)

	again, err := f.coord.Register(ctx, models.ProviderSnapTrade, "u1")
	require.NoError(t, err)
	assert.Equal(t, cred.RemoteUserID, again.RemoteUserID)
	assert.EqualValues(t, 3, f.reg.calls.Load())
}

func TestRegisterGivesUpAfterMaxVersions(t *testing.T) {
	f := setup(t, &fakeRegistrar{taken: map[string]bool{"flint-u1": true, "flint-u1-v2": true, "flint-u1-v3": true}})
	_, err := f.coord.Register(context.Background(), models.ProviderSnapTrade, "u1")
	testutil.AssertProviderError(t, err, apperrors.CodeAlreadyRegistered)
}

func TestNonRecoverableErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	f := setup(t, &fakeRegistrar{})
	_, err := f.creds.EnsureCredential(ctx, models.ProviderSnapTrade, "u1", "flint-u1", "s")
	require.NoError(t, err)

	authErr := apperrors.NewProviderError("snaptrade", apperrors.CodeAuthInvalid, "bad")
	err = Exec(ctx, f.coord, snaptrade("u1"), func(context.Context, provider.Credentials) error { return authErr })
	assert.ErrorIs(t, err, authErr)
	assert.EqualValues(t, 0, f.reg.calls.Load())
}

func TestTellerUsesConnectionToken(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	creds := services.NewCredentialService(db, testutil.NewEncryptor(t))
	coord := New(creds, services.NewAuditService(db), nil, "flint", 1)

	conn := testutil.CreateTestConnection(t, db, models.ProviderTeller, "u1")
	require.NoError(t, creds.SetConnectionToken(ctx, conn.ID, "token_abc"))

	target := Target{Provider: models.ProviderTeller, UserID: "u1", ConnectionID: conn.ID}
	c, err := coord.Credentials(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, c.RemoteUserID)
	assert.Equal(t, "token_abc", c.Secret)

	// Disconnected enrollments are not recoverable by registration.
	disconnected := apperrors.NewProviderError("teller", apperrors.CodeEnrollmentDisconnected, "gone")
	err = Exec(ctx, coord, target, func(context.Context, provider.Credentials) error { return disconnected })
	testutil.AssertProviderError(t, err, apperrors.CodeEnrollmentDisconnected)

	_, err = coord.Credentials(ctx, Target{Provider: models.ProviderTeller, UserID: "nobody"})
	testutil.AssertAppError(t, err, "CREDENTIAL_NOT_FOUND")
}

func TestRemoteUserID(t *testing.T) {
	c := New(nil, nil, nil, "flint", 5)
	assert.Equal(t, "flint-u1", c.RemoteUserID("u1", 1))
	assert.Equal(t, "flint-u1-v4", c.RemoteUserID("u1", 4))
	assert.Equal(t, "u1", New(nil, nil, nil, "", 5).RemoteUserID("u1", 1))
}
