// Package connections implements the user-facing connection operations:
// registration, the hosted portal, refresh/disable/remove, manual sync and
// disconnect.
package connections

import (
	"context"
	"errors"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/reconcile"
	"flint/internal/recovery"
	"flint/internal/services"
)

// EnrollmentInput is what Teller Connect hands back after a successful link.
type EnrollmentInput struct {
	AccessToken  string
	EnrollmentID string
	TellerUserID string
	Institution  string
}

// SyncReport is the outcome of a manual sync.
type SyncReport struct {
	*reconcile.SyncResult
	OrdersSynced     int `json:"orders_synced"`
	ActivitiesSynced int `json:"activities_synced"`
}

// Servicer defines the connection operations exposed over REST.
type Servicer interface {
	RegisterUser(ctx context.Context, userID string) (*models.UserCredential, error)
	LinkEnrollment(ctx context.Context, userID string, in EnrollmentInput) (*models.Connection, error)
	DisconnectUser(ctx context.Context, userID string, p models.Provider) error

	ListConnections(ctx context.Context, userID string, p models.Provider) ([]models.Connection, error)
	PortalURL(ctx context.Context, userID string, p models.Provider, req provider.LoginRequest) (string, error)
	RefreshConnection(ctx context.Context, userID, connectionID string) error
	DisableConnection(ctx context.Context, userID, connectionID string) error
	RemoveConnection(ctx context.Context, userID, connectionID string) error
	Sync(ctx context.Context, userID string, p models.Provider, authorizationID string) (*SyncReport, error)
}

type service struct {
	mirror     services.MirrorServicer
	creds      services.CredentialServicer
	audit      services.AuditServicer
	coord      *recovery.Coordinator
	rec        *reconcile.Reconciler
	registrars map[models.Provider]provider.Registrar
}

// NewService creates a connections Servicer.
func NewService(
	mirror services.MirrorServicer,
	creds services.CredentialServicer,
	audit services.AuditServicer,
	coord *recovery.Coordinator,
	rec *reconcile.Reconciler,
	registrars map[models.Provider]provider.Registrar,
) Servicer {
	return &service{
		mirror:     mirror,
		creds:      creds,
		audit:      audit,
		coord:      coord,
		rec:        rec,
		registrars: registrars,
	}
}

// RegisterUser creates the SnapTrade remote user. It is idempotent: an
// existing registration is returned unchanged.
func (s *service) RegisterUser(ctx context.Context, userID string) (*models.UserCredential, error) {
	if _, err := s.rec.Adapter(models.ProviderSnapTrade); err != nil {
		return nil, err
	}
	return s.coord.Register(ctx, models.ProviderSnapTrade, userID)
}

// LinkEnrollment stores a Teller enrollment and its access token, then
// runs a best-effort first sync of its accounts.
func (s *service) LinkEnrollment(ctx context.Context, userID string, in EnrollmentInput) (*models.Connection, error) {
	if _, err := s.rec.Adapter(models.ProviderTeller); err != nil {
		return nil, err
	}
	if in.AccessToken == "" || in.EnrollmentID == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "access_token and enrollment_id are required")
	}
	remoteID := in.TellerUserID
	if remoteID == "" {
		remoteID = in.EnrollmentID
	}

	conn := &models.Connection{
		ID:          in.EnrollmentID,
		LocalUserID: userID,
		Provider:    models.ProviderTeller,
		BrokerName:  in.Institution,
		Type:        "read",
	}
	created, err := s.mirror.EnsureConnection(ctx, conn)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.mirror.GetConnection(ctx, in.EnrollmentID)
		if err != nil {
			return nil, err
		}
		if existing.LocalUserID != userID {
			return nil, apperrors.WithMessage(apperrors.ErrForbidden, "enrollment belongs to another user")
		}
		// A repeated link repairs a disconnected enrollment.
		if existing.Disabled {
			if _, err := s.mirror.SetConnectionDisabled(ctx, existing.Provider, existing.ID, false); err != nil {
				return nil, err
			}
		}
	}
	if err := s.creds.SetConnectionToken(ctx, in.EnrollmentID, in.AccessToken); err != nil {
		return nil, err
	}
	if _, err := s.creds.EnsureCredential(ctx, models.ProviderTeller, userID, remoteID, in.AccessToken); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, userID, models.ProviderTeller, models.AuditCredentialCreated, "connection", in.EnrollmentID, map[string]any{
		"institution": in.Institution,
		"token":       logger.Redact(in.AccessToken),
	})

	if _, err := s.rec.SyncAccountsForConnection(ctx, models.ProviderTeller, userID, in.EnrollmentID); err != nil {
		logger.Get().Warnw("initial enrollment sync failed", "user_id", userID, "authorization_id", in.EnrollmentID, "error", err)
	}
	return s.mirror.GetConnection(ctx, in.EnrollmentID)
}

// DisconnectUser removes the user's remote registration, stored credential
// and mirrored data for p. Remote cleanup failures are logged, not returned:
// the user asked to be disconnected and local state goes regardless.
func (s *service) DisconnectUser(ctx context.Context, userID string, p models.Provider) error {
	adapter, err := s.rec.Adapter(p)
	if err != nil {
		return err
	}
	log := logger.Get().With("user_id", userID, "provider", p)

	if reg, ok := s.registrars[p]; ok {
		creds, err := s.coord.Credentials(ctx, recovery.Target{Provider: p, UserID: userID})
		switch {
		case errors.Is(err, apperrors.ErrCredentialNotFound):
		case err != nil:
			return err
		default:
			if err := reg.DeleteUser(ctx, creds); err != nil && !apperrors.IsCode(err, apperrors.CodeUserNotFound) {
				log.Warnw("remote user deletion failed", "error", err)
			}
		}
	} else {
		conns, err := s.mirror.ListConnections(ctx, userID, p)
		if err != nil {
			return err
		}
		for _, c := range conns {
			target := recovery.Target{Provider: p, UserID: userID, ConnectionID: c.ID}
			err := recovery.Exec(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) error {
				return adapter.RemoveConnection(ctx, creds, c.ID)
			})
			if err != nil {
				log.Warnw("remote connection removal failed", "connection_id", c.ID, "error", err)
			}
		}
	}

	if err := s.creds.DeleteCredential(ctx, p, userID); err != nil {
		return err
	}
	if err := s.mirror.DeleteUserMirror(ctx, userID, p); err != nil {
		return err
	}
	s.audit.Log(ctx, userID, p, models.AuditCredentialDeleted, "credential", userID, nil)
	log.Infow("user disconnected")
	return nil
}

// ListConnections returns the user's mirrored connections. For SnapTrade
// the provider's list is folded into the mirror first so new and disabled
// authorizations show up without waiting for a sync or webhook.
func (s *service) ListConnections(ctx context.Context, userID string, p models.Provider) ([]models.Connection, error) {
	if p == "" || p == models.ProviderSnapTrade {
		if err := s.pullSnapTradeConnections(ctx, userID); err != nil {
			if p != "" {
				return nil, err
			}
			logger.Get().Warnw("listing remote connections failed", "user_id", userID, "error", err)
		}
	}
	return s.mirror.ListConnections(ctx, userID, p)
}

func (s *service) pullSnapTradeConnections(ctx context.Context, userID string) error {
	adapter, err := s.rec.Adapter(models.ProviderSnapTrade)
	if err != nil {
		return nil
	}
	target := recovery.Target{Provider: models.ProviderSnapTrade, UserID: userID}
	remote, err := recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) ([]provider.Connection, error) {
		return adapter.ListConnections(ctx, creds)
	})
	if errors.Is(err, apperrors.ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, rc := range remote {
		existing, err := s.mirror.GetConnection(ctx, rc.ID)
		if err != nil && !errors.Is(err, apperrors.ErrConnectionNotFound) {
			return err
		}
		if existing != nil && existing.LocalUserID != userID {
			logger.Get().Warnw("remote connection owned by another user", "user_id", userID, "connection_id", rc.ID)
			continue
		}
		conn := &models.Connection{
			ID:          rc.ID,
			LocalUserID: userID,
			Provider:    models.ProviderSnapTrade,
			BrokerName:  rc.BrokerName,
			Type:        rc.Type,
			Disabled:    rc.Disabled,
			DisabledAt:  rc.DisabledAt,
		}
		if err := s.mirror.UpsertConnection(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// PortalURL returns the provider's hosted connection URL. SnapTrade users
// are registered on first use. A reconnect id must name one of the user's
// own connections.
func (s *service) PortalURL(ctx context.Context, userID string, p models.Provider, req provider.LoginRequest) (string, error) {
	adapter, err := s.rec.Adapter(p)
	if err != nil {
		return "", err
	}
	target := recovery.Target{Provider: p, UserID: userID}
	if req.ReconnectAuthorizationID != "" {
		conn, err := s.mirror.GetUserConnection(ctx, userID, req.ReconnectAuthorizationID)
		if err != nil {
			return "", err
		}
		if conn.Provider != p {
			return "", apperrors.WithMessage(apperrors.ErrInvalidInput, "connection belongs to another provider")
		}
		target.ConnectionID = conn.ID
	}

	if p == models.ProviderTeller && target.ConnectionID == "" {
		// A new Teller enrollment needs no stored credential.
		return adapter.LoginURL(ctx, provider.Credentials{}, req)
	}
	if _, ok := s.registrars[p]; ok {
		if _, err := s.coord.Register(ctx, p, userID); err != nil {
			return "", err
		}
	}
	return recovery.Do(ctx, s.coord, target, func(ctx context.Context, creds provider.Credentials) (string, error) {
		return adapter.LoginURL(ctx, creds, req)
	})
}

// RefreshConnection asks the provider to re-pull the connection's data.
func (s *service) RefreshConnection(ctx context.Context, userID, connectionID string) error {
	conn, adapter, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	return recovery.Exec(ctx, s.coord, targetFor(conn), func(ctx context.Context, creds provider.Credentials) error {
		return adapter.RefreshConnection(ctx, creds, conn.ID)
	})
}

// DisableConnection disables the connection remotely and in the mirror.
func (s *service) DisableConnection(ctx context.Context, userID, connectionID string) error {
	conn, adapter, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	err = recovery.Exec(ctx, s.coord, targetFor(conn), func(ctx context.Context, creds provider.Credentials) error {
		return adapter.DisableConnection(ctx, creds, conn.ID)
	})
	if err != nil {
		return err
	}
	_, err = s.mirror.SetConnectionDisabled(ctx, conn.Provider, conn.ID, true)
	return err
}

// RemoveConnection deletes the connection remotely, then removes it and its
// accounts from the mirror. A connection already gone remotely is still
// removed locally.
func (s *service) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	conn, adapter, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	err = recovery.Exec(ctx, s.coord, targetFor(conn), func(ctx context.Context, creds provider.Credentials) error {
		return adapter.RemoveConnection(ctx, creds, conn.ID)
	})
	if err != nil && !apperrors.IsCode(err, apperrors.CodeNotFound) {
		return err
	}
	if _, err := s.mirror.DeleteConnection(ctx, conn.Provider, conn.ID); err != nil {
		return err
	}
	s.audit.Log(ctx, userID, conn.Provider, models.AuditConnectionRemoved, "connection", conn.ID, map[string]any{
		"broker_name": conn.BrokerName,
	})
	return nil
}

// Sync runs a full manual sync: accounts and holdings, then orders and
// activities for every account that synced. Per-account failures are
// collected in the report.
func (s *service) Sync(ctx context.Context, userID string, p models.Provider, authorizationID string) (*SyncReport, error) {
	if authorizationID != "" {
		conn, err := s.mirror.GetConnection(ctx, authorizationID)
		switch {
		case errors.Is(err, apperrors.ErrConnectionNotFound):
			// Freshly linked authorizations are created by the sync itself.
		case err != nil:
			return nil, err
		case conn.LocalUserID != userID:
			return nil, apperrors.ErrConnectionNotFound
		}
	}

	var (
		result *reconcile.SyncResult
		err    error
	)
	if authorizationID == "" {
		result, err = s.rec.SyncUser(ctx, p, userID)
	} else {
		result, err = s.rec.SyncAccountsForConnection(ctx, p, userID, authorizationID)
	}
	if err != nil {
		return nil, err
	}

	report := &SyncReport{SyncResult: result}
	target := recovery.Target{Provider: p, UserID: userID, ConnectionID: authorizationID}
	for _, accountID := range result.AccountIDs {
		t := target
		if p == models.ProviderTeller && t.ConnectionID == "" {
			if acc, err := s.mirror.GetAccount(ctx, accountID); err == nil {
				t.ConnectionID = acc.ConnectionID
			}
		}
		n, err := s.rec.SyncOrders(ctx, t, accountID)
		if err != nil && !errors.Is(err, reconcile.ErrAccountGone) {
			report.Failures = append(report.Failures, reconcile.AccountFailure{AccountID: accountID, Error: "orders: " + err.Error()})
		}
		report.OrdersSynced += n

		n, err = s.rec.SyncActivities(ctx, t, accountID)
		if err != nil && !errors.Is(err, reconcile.ErrAccountGone) {
			report.Failures = append(report.Failures, reconcile.AccountFailure{AccountID: accountID, Error: "activities: " + err.Error()})
		}
		report.ActivitiesSynced += n
	}
	return report, nil
}

func (s *service) owned(ctx context.Context, userID, connectionID string) (*models.Connection, provider.Adapter, error) {
	conn, err := s.mirror.GetUserConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := s.rec.Adapter(conn.Provider)
	if err != nil {
		return nil, nil, err
	}
	return conn, adapter, nil
}

func targetFor(conn *models.Connection) recovery.Target {
	return recovery.Target{Provider: conn.Provider, UserID: conn.LocalUserID, ConnectionID: conn.ID}
}
