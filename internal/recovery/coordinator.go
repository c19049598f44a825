// Package recovery re-registers users whose remote registration was
// deleted by the provider and retries the failed call once.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/services"
)

// Target names whose credentials a call runs with. ConnectionID selects a
// per-enrollment token for providers that issue one (Teller).
type Target struct {
	Provider     models.Provider
	UserID       string
	ConnectionID string
}

// Coordinator serializes credential recovery per (provider, user). Callers
// that hit a missing remote user while a recovery is running wait for that
// recovery instead of starting another.
type Coordinator struct {
	creds       services.CredentialServicer
	audit       services.AuditServicer
	registrars  map[models.Provider]provider.Registrar
	prefix      string
	maxVersions int
	group       singleflight.Group
}

// New creates a Coordinator. Providers without a Registrar are never
// recovered; their errors pass through.
func New(creds services.CredentialServicer, audit services.AuditServicer, registrars map[models.Provider]provider.Registrar, prefix string, maxVersions int) *Coordinator {
	if maxVersions < 1 {
		maxVersions = 1
	}
	if registrars == nil {
		registrars = map[models.Provider]provider.Registrar{}
	}
	return &Coordinator{
		creds:       creds,
		audit:       audit,
		registrars:  registrars,
		prefix:      prefix,
		maxVersions: maxVersions,
	}
}

// Credentials loads the call credentials for t.
func (c *Coordinator) Credentials(ctx context.Context, t Target) (provider.Credentials, error) {
	if t.Provider == models.ProviderTeller && t.ConnectionID != "" {
		token, err := c.creds.ConnectionToken(ctx, t.ConnectionID)
		if err != nil {
			return provider.Credentials{}, err
		}
		if token != "" {
			return provider.Credentials{RemoteUserID: t.ConnectionID, Secret: token}, nil
		}
	}
	cred, err := c.creds.GetCredential(ctx, t.Provider, t.UserID)
	if err != nil {
		return provider.Credentials{}, err
	}
	return provider.Credentials{RemoteUserID: cred.RemoteUserID, Secret: cred.Secret}, nil
}

// Do runs fn with t's credentials. When fn fails because the remote user
// is gone, the user is re-registered and fn is retried exactly once with
// the new credentials. If recovery fails the original error is returned.
func Do[T any](ctx context.Context, c *Coordinator, t Target, fn func(context.Context, provider.Credentials) (T, error)) (T, error) {
	creds, err := c.Credentials(ctx, t)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := fn(ctx, creds)
	if err == nil || !c.recoverable(t.Provider, err) {
		return out, err
	}

	log := logger.Get().With("user_id", t.UserID, "provider", t.Provider)
	log.Warnw("remote user missing, starting recovery", "error", err)
	fresh, rerr := c.Recover(ctx, t.Provider, t.UserID, creds.Secret)
	if rerr != nil {
		log.Errorw("credential recovery failed", "error", rerr)
		return out, err
	}
	return fn(ctx, fresh)
}

// Exec is Do for calls without a result.
func Exec(ctx context.Context, c *Coordinator, t Target, fn func(context.Context, provider.Credentials) error) error {
	_, err := Do(ctx, c, t, func(ctx context.Context, creds provider.Credentials) (struct{}, error) {
		return struct{}{}, fn(ctx, creds)
	})
	return err
}

func (c *Coordinator) recoverable(p models.Provider, err error) bool {
	if _, ok := c.registrars[p]; !ok {
		return false
	}
	pe, ok := apperrors.AsProviderError(err)
	return ok && pe.NeedsRecovery()
}

// Recover re-registers the user unless another caller already replaced
// staleSecret, and returns the credentials to retry with. Concurrent calls
// for the same user share one recovery. The recovery itself is not
// cancelled with ctx; a caller that gives up only stops waiting.
func (c *Coordinator) Recover(ctx context.Context, p models.Provider, userID, staleSecret string) (provider.Credentials, error) {
	ch := c.group.DoChan("recover:"+string(p)+":"+userID, func() (any, error) {
		return c.recover(context.WithoutCancel(ctx), p, userID, staleSecret)
	})
	select {
	case <-ctx.Done():
		return provider.Credentials{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return provider.Credentials{}, res.Err
		}
		return res.Val.(provider.Credentials), nil
	}
}

// Register creates the remote user and stores the credential. An existing
// credential is returned as is.
func (c *Coordinator) Register(ctx context.Context, p models.Provider, userID string) (*models.UserCredential, error) {
	res, err, _ := c.group.Do("register:"+string(p)+":"+userID, func() (any, error) {
		cred, err := c.creds.GetCredential(ctx, p, userID)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, apperrors.ErrCredentialNotFound) {
			return nil, err
		}
		remote, err := c.registerRemote(ctx, p, userID)
		if err != nil {
			return nil, err
		}
		cred, err = c.creds.EnsureCredential(ctx, p, userID, remote.RemoteUserID, remote.Secret)
		if err != nil {
			return nil, err
		}
		c.audit.Log(ctx, userID, p, models.AuditCredentialCreated, "credential", remote.RemoteUserID, nil)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.UserCredential), nil
}

func (c *Coordinator) recover(ctx context.Context, p models.Provider, userID, staleSecret string) (provider.Credentials, error) {
	log := logger.Get().With("user_id", userID, "provider", p)

	current, err := c.creds.GetCredential(ctx, p, userID)
	switch {
	case err == nil && current.Secret != staleSecret:
		log.Infow("credential already rotated by another caller")
		return provider.Credentials{RemoteUserID: current.RemoteUserID, Secret: current.Secret}, nil
	case err != nil && !errors.Is(err, apperrors.ErrCredentialNotFound):
		return provider.Credentials{}, err
	}

	remote, err := c.registerRemote(ctx, p, userID)
	if err != nil {
		return provider.Credentials{}, err
	}

	changes := map[string]any{"remote_user_id": remote.RemoteUserID}
	if current == nil {
		if _, err := c.creds.EnsureCredential(ctx, p, userID, remote.RemoteUserID, remote.Secret); err != nil {
			return provider.Credentials{}, err
		}
	} else {
		changes["previous_remote_user_id"] = current.RemoteUserID
		if _, err := c.creds.RotateCredential(ctx, p, userID, remote.RemoteUserID, remote.Secret); err != nil {
			return provider.Credentials{}, err
		}
	}
	c.audit.Log(ctx, userID, p, models.AuditCredentialRotated, "credential", remote.RemoteUserID, changes)
	log.Infow("credential recovered", "remote_user_id", remote.RemoteUserID, "secret", logger.Redact(remote.Secret))

	return provider.Credentials{RemoteUserID: remote.RemoteUserID, Secret: remote.Secret}, nil
}

// registerRemote registers the user under RemoteUserID(userID, 1), moving
// to the next version suffix each time the id is already taken.
func (c *Coordinator) registerRemote(ctx context.Context, p models.Provider, userID string) (*provider.RemoteUser, error) {
	reg, ok := c.registrars[p]
	if !ok {
		return nil, apperrors.ErrUnsupportedOperation
	}
	var lastErr error
	for v := 1; v <= c.maxVersions; v++ {
		id := c.RemoteUserID(userID, v)
		remote, err := reg.RegisterUser(ctx, id)
		if err == nil {
			return remote, nil
		}
		if !apperrors.IsCode(err, apperrors.CodeAlreadyRegistered) {
			return nil, err
		}
		logger.Get().Warnw("remote user id taken, trying next version", "provider", p, "remote_user_id", id)
		lastErr = err
	}
	return nil, fmt.Errorf("no free remote user id after %d versions: %w", c.maxVersions, lastErr)
}

// RemoteUserID derives the remote user id for a local user. Version 1 is
// "<prefix>-<user>"; later versions append "-v<n>".
func (c *Coordinator) RemoteUserID(userID string, version int) string {
	id := userID
	if c.prefix != "" {
		id = c.prefix + "-" + userID
	}
	if version > 1 {
		id = fmt.Sprintf("%s-v%d", id, version)
	}
	return id
}
