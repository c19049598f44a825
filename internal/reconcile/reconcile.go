// Package reconcile writes the provider's view of a user's connections,
// accounts and holdings into the local mirror.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/recovery"
	"flint/internal/services"
)

// ErrAccountGone is returned when an account was removed from the mirror
// before its holdings could be written. Callers treat it as a skip.
var ErrAccountGone = errors.New("account no longer in mirror")

// AccountFailure records one account that could not be synced.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// SyncResult summarizes one sync pass. A pass with failures still keeps
// every account it managed to write.
type SyncResult struct {
	UserID         string           `json:"user_id"`
	Provider       models.Provider  `json:"provider"`
	AccountsFound  int              `json:"accounts_found"`
	AccountsSynced int              `json:"accounts_synced"`
	AccountIDs     []string         `json:"account_ids"`
	Skipped        int              `json:"skipped"`
	Pruned         int64            `json:"pruned"`
	Failures       []AccountFailure `json:"failures"`
}

func (r *SyncResult) fail(accountID string, err error) {
	r.Failures = append(r.Failures, AccountFailure{AccountID: accountID, Error: err.Error()})
}

func (r *SyncResult) merge(o *SyncResult) {
	r.AccountsFound += o.AccountsFound
	r.AccountsSynced += o.AccountsSynced
	r.AccountIDs = append(r.AccountIDs, o.AccountIDs...)
	r.Skipped += o.Skipped
	r.Pruned += o.Pruned
	r.Failures = append(r.Failures, o.Failures...)
}

// Reconciler syncs provider state into the mirror. Provider calls go
// through the recovery coordinator; every mirror write is a short
// statement made after the network call returns.
type Reconciler struct {
	mirror   services.MirrorServicer
	coord    *recovery.Coordinator
	adapters map[models.Provider]provider.Adapter
	now      func() time.Time
}

// New creates a Reconciler over the configured adapters.
func New(mirror services.MirrorServicer, coord *recovery.Coordinator, adapters map[models.Provider]provider.Adapter) *Reconciler {
	return &Reconciler{
		mirror:   mirror,
		coord:    coord,
		adapters: adapters,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Adapter returns the adapter for p or ErrProviderNotConfigured.
func (r *Reconciler) Adapter(p models.Provider) (provider.Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, apperrors.ErrProviderNotConfigured
	}
	return a, nil
}

// SyncAccountsForConnection lists the user's remote accounts, restricted to
// authorizationID when set, and upserts each account with its connection,
// balance and positions. A failing account is recorded in the result and
// the rest of the batch continues.
func (r *Reconciler) SyncAccountsForConnection(ctx context.Context, p models.Provider, userID, authorizationID string) (*SyncResult, error) {
	result := &SyncResult{UserID: userID, Provider: p, Failures: []AccountFailure{}}
	adapter, err := r.Adapter(p)
	if err != nil {
		return result, err
	}
	log := logger.Get().With("user_id", userID, "provider", p, "authorization_id", authorizationID)
	target := recovery.Target{Provider: p, UserID: userID, ConnectionID: authorizationID}

	remote, err := recovery.Do(ctx, r.coord, target, func(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
		return adapter.ListAccounts(ctx, creds, authorizationID)
	})
	if err != nil {
		r.markBroken(ctx, p, authorizationID, err)
		return result, err
	}
	result.AccountsFound = len(remote)

	owners := map[string]bool{}
	kept := map[string][]string{}
	touched := map[string]bool{}
	for _, acc := range remote {
		connID := acc.ConnectionID
		if connID == "" {
			connID = authorizationID
		}
		if connID == "" {
			result.fail(acc.ID, fmt.Errorf("account has no connection id"))
			continue
		}

		owned, seen := owners[connID]
		if !seen {
			owned, err = r.ensureConnection(ctx, p, userID, connID, acc)
			if err != nil {
				result.fail(acc.ID, err)
				continue
			}
			owners[connID] = owned
		}
		if !owned {
			result.fail(acc.ID, fmt.Errorf("connection %s belongs to another user", connID))
			continue
		}

		// Every account the provider still lists survives the prune, even
		// when its upsert fails below.
		kept[connID] = append(kept[connID], acc.ID)
		if err := r.mirror.UpsertAccount(ctx, toAccount(acc, connID, userID, p)); err != nil {
			result.fail(acc.ID, err)
			continue
		}
		touched[connID] = true

		connTarget := target
		connTarget.ConnectionID = connID
		if err := r.syncHoldings(ctx, adapter, connTarget, acc.ID); err != nil {
			if errors.Is(err, ErrAccountGone) {
				result.Skipped++
				continue
			}
			log.Warnw("holdings sync failed", "account_id", acc.ID, "error", err)
			result.fail(acc.ID, err)
			continue
		}
		result.AccountsSynced++
		result.AccountIDs = append(result.AccountIDs, acc.ID)
	}

	now := r.now()
	for connID, ids := range kept {
		if len(ids) > 0 {
			n, err := r.mirror.PruneAccounts(ctx, connID, ids)
			if err != nil {
				log.Warnw("prune accounts failed", "connection_id", connID, "error", err)
			}
			result.Pruned += n
		}
		if !touched[connID] {
			continue
		}
		if _, err := r.mirror.TouchConnection(ctx, p, connID, now); err != nil {
			log.Warnw("touch connection failed", "connection_id", connID, "error", err)
		}
	}

	log.Infow("accounts synced",
		"found", result.AccountsFound,
		"synced", result.AccountsSynced,
		"skipped", result.Skipped,
		"pruned", result.Pruned,
		"failures", len(result.Failures),
	)
	return result, nil
}

// SyncUser runs SyncAccountsForConnection for every credential scope of the
// user: once for SnapTrade, once per enrollment for Teller.
func (r *Reconciler) SyncUser(ctx context.Context, p models.Provider, userID string) (*SyncResult, error) {
	scopes, err := r.scopes(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	total := &SyncResult{UserID: userID, Provider: p, Failures: []AccountFailure{}}
	var firstErr error
	for _, connID := range scopes {
		res, err := r.SyncAccountsForConnection(ctx, p, userID, connID)
		total.merge(res)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// RefreshHoldings re-reads balances and positions for the user's remote
// accounts that are still in the mirror. Unlike SyncUser it never creates
// accounts or connections.
func (r *Reconciler) RefreshHoldings(ctx context.Context, p models.Provider, userID string) (*SyncResult, error) {
	adapter, err := r.Adapter(p)
	if err != nil {
		return nil, err
	}
	scopes, err := r.scopes(ctx, p, userID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{UserID: userID, Provider: p, Failures: []AccountFailure{}}
	for _, connID := range scopes {
		target := recovery.Target{Provider: p, UserID: userID, ConnectionID: connID}
		remote, err := recovery.Do(ctx, r.coord, target, func(ctx context.Context, creds provider.Credentials) ([]provider.Account, error) {
			return adapter.ListAccounts(ctx, creds, connID)
		})
		if err != nil {
			r.markBroken(ctx, p, connID, err)
			return result, err
		}
		result.AccountsFound += len(remote)
		for _, acc := range remote {
			t := target
			if acc.ConnectionID != "" {
				t.ConnectionID = acc.ConnectionID
			}
			err := r.SyncAccountHoldings(ctx, t, acc.ID)
			switch {
			case errors.Is(err, ErrAccountGone):
				result.Skipped++
			case err != nil:
				if isCredentialError(err) {
					return result, err
				}
				result.fail(acc.ID, err)
			default:
				result.AccountsSynced++
				result.AccountIDs = append(result.AccountIDs, acc.ID)
			}
		}
	}
	return result, nil
}

// SyncAccountHoldings replaces the account's balance and positions. An
// account that is no longer in the mirror is skipped with ErrAccountGone
// after its orphaned holdings rows are removed.
func (r *Reconciler) SyncAccountHoldings(ctx context.Context, t recovery.Target, accountID string) error {
	adapter, err := r.Adapter(t.Provider)
	if err != nil {
		return err
	}
	exists, err := r.mirror.AccountExists(ctx, accountID)
	if err != nil {
		return err
	}
	if !exists {
		return r.dropOrphan(ctx, accountID)
	}
	return r.syncHoldings(ctx, adapter, t, accountID)
}

func (r *Reconciler) syncHoldings(ctx context.Context, adapter provider.Adapter, t recovery.Target, accountID string) error {
	balance, err := recovery.Do(ctx, r.coord, t, func(ctx context.Context, creds provider.Credentials) (*provider.Balance, error) {
		return adapter.GetBalance(ctx, creds, accountID)
	})
	if err != nil {
		return err
	}
	positions, err := recovery.Do(ctx, r.coord, t, func(ctx context.Context, creds provider.Credentials) ([]provider.Position, error) {
		return adapter.GetPositions(ctx, creds, accountID)
	})
	if err != nil {
		return err
	}

	now := r.now()
	rows := make([]models.Position, 0, len(positions))
	for _, pos := range positions {
		rows = append(rows, toPosition(pos, accountID, now))
	}
	err = r.mirror.ReplaceHoldings(ctx, accountID, toBalance(balance, accountID, now), rows, now)
	if errors.Is(err, apperrors.ErrAccountNotFound) {
		logger.Get().Infow("account removed during sync, holdings dropped", "account_id", accountID)
		return ErrAccountGone
	}
	return err
}

// SyncOrders upserts the account's orders by id.
func (r *Reconciler) SyncOrders(ctx context.Context, t recovery.Target, accountID string) (int, error) {
	adapter, err := r.Adapter(t.Provider)
	if err != nil {
		return 0, err
	}
	orders, err := recovery.Do(ctx, r.coord, t, func(ctx context.Context, creds provider.Credentials) ([]provider.Order, error) {
		return adapter.ListOrders(ctx, creds, accountID)
	})
	if err != nil {
		return 0, err
	}
	exists, err := r.mirror.AccountExists(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrAccountGone
	}
	rows := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, ToOrder(o, accountID))
	}
	if err := r.mirror.UpsertOrders(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// SyncActivities upserts the account's activities by id.
func (r *Reconciler) SyncActivities(ctx context.Context, t recovery.Target, accountID string) (int, error) {
	adapter, err := r.Adapter(t.Provider)
	if err != nil {
		return 0, err
	}
	activities, err := recovery.Do(ctx, r.coord, t, func(ctx context.Context, creds provider.Credentials) ([]provider.Activity, error) {
		return adapter.ListActivities(ctx, creds, accountID)
	})
	if err != nil {
		return 0, err
	}
	exists, err := r.mirror.AccountExists(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrAccountGone
	}
	rows := make([]models.Activity, 0, len(activities))
	for _, a := range activities {
		rows = append(rows, toActivity(a, accountID))
	}
	if err := r.mirror.UpsertActivities(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// scopes lists the connection ids to sync with. SnapTrade credentials are
// user-wide, so the only scope is "". Teller tokens belong to one
// enrollment each.
func (r *Reconciler) scopes(ctx context.Context, p models.Provider, userID string) ([]string, error) {
	if p != models.ProviderTeller {
		return []string{""}, nil
	}
	conns, err := r.mirror.ListConnections(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		if c.Disabled {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// ensureConnection creates the connection from the account's embedded
// metadata when it is not yet mirrored. It reports whether the connection
// belongs to userID.
func (r *Reconciler) ensureConnection(ctx context.Context, p models.Provider, userID, connID string, acc provider.Account) (bool, error) {
	conn := &models.Connection{
		ID:          connID,
		LocalUserID: userID,
		Provider:    p,
		BrokerName:  acc.Institution,
	}
	if acc.Connection != nil {
		if acc.Connection.BrokerName != "" {
			conn.BrokerName = acc.Connection.BrokerName
		}
		conn.Type = acc.Connection.Type
		conn.Disabled = acc.Connection.Disabled
		conn.DisabledAt = acc.Connection.DisabledAt
	}
	created, err := r.mirror.EnsureConnection(ctx, conn)
	if err != nil {
		return false, err
	}
	if created {
		logger.Get().Infow("connection created from account metadata", "user_id", userID, "provider", p, "connection_id", connID)
		return true, nil
	}
	existing, err := r.mirror.GetConnection(ctx, connID)
	if err != nil {
		return false, err
	}
	return existing.LocalUserID == userID, nil
}

func (r *Reconciler) dropOrphan(ctx context.Context, accountID string) error {
	n, err := r.mirror.DeleteOrphanHoldings(ctx, accountID)
	if err != nil {
		return err
	}
	logger.Get().Infow("account not in mirror, skipping holdings sync", "account_id", accountID, "orphans_removed", n)
	return ErrAccountGone
}

// markBroken disables a mirrored connection the provider reports as
// disconnected or disabled.
func (r *Reconciler) markBroken(ctx context.Context, p models.Provider, connID string, err error) {
	if connID == "" {
		return
	}
	if !apperrors.IsCode(err, apperrors.CodeEnrollmentDisconnected) && !apperrors.IsCode(err, apperrors.CodeConnectionDisabled) {
		return
	}
	if _, derr := r.mirror.SetConnectionDisabled(ctx, p, connID, true); derr != nil {
		logger.Get().Warnw("failed to disable broken connection", "connection_id", connID, "error", derr)
		return
	}
	logger.Get().Infow("connection disabled after provider error", "connection_id", connID, "error", err)
}

func isCredentialError(err error) bool {
	pe, ok := apperrors.AsProviderError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case apperrors.CodeAuthInvalid, apperrors.CodeUserNotFound:
		return true
	}
	return false
}
