// Package scheduler runs the periodic holdings sweep over every registered
// user and invalidates credentials that keep failing authentication.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/reconcile"
	"flint/internal/services"
)

var (
	strikeTotal, _       = jobMeter.Int64Counter("flint.sync.auth_strikes", metric.WithDescription("Consecutive authentication failures recorded by the sweep"))
	invalidationTotal, _ = jobMeter.Int64Counter("flint.sync.invalidations", metric.WithDescription("Credentials invalidated after repeated authentication failures"))
)

// Refresher re-reads holdings for a user's mirrored accounts.
type Refresher interface {
	RefreshHoldings(ctx context.Context, p models.Provider, userID string) (*reconcile.SyncResult, error)
}

// Sweeper refreshes holdings for registered users. A user whose provider
// keeps rejecting their credentials is invalidated only after an unbroken
// run of failures reaches the strike threshold.
type Sweeper struct {
	creds   services.CredentialServicer
	mirror  services.MirrorServicer
	audit   services.AuditServicer
	rec     Refresher
	strikes *StrikeCounter

	inflight sync.Map
}

// SweepReport summarizes one pass over all users.
type SweepReport struct {
	Users       int               `json:"users"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Invalidated int               `json:"invalidated"`
	Failures    map[string]string `json:"failures,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// NewSweeper creates a Sweeper that invalidates after threshold
// consecutive authentication failures.
func NewSweeper(
	creds services.CredentialServicer,
	mirror services.MirrorServicer,
	audit services.AuditServicer,
	rec Refresher,
	threshold int,
) *Sweeper {
	return &Sweeper{
		creds:   creds,
		mirror:  mirror,
		audit:   audit,
		rec:     rec,
		strikes: NewStrikeCounter(threshold),
	}
}

// Strikes exposes the counter for inspection.
func (s *Sweeper) Strikes() *StrikeCounter {
	return s.strikes
}

// errInvalidated marks a sync whose failure invalidated the credential.
var errInvalidated = errors.New("credential invalidated")

// SyncUser refreshes one user's holdings and applies the strike policy.
// A second sync for a user already being swept returns immediately.
func (s *Sweeper) SyncUser(ctx context.Context, p models.Provider, userID string) error {
	key := strikeKey(p, userID)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		logger.Get().Debugw("sync already running for user", "provider", p, "user_id", userID)
		return nil
	}
	defer s.inflight.Delete(key)

	log := logger.Get().With("provider", p, "user_id", userID)

	cred, err := s.creds.GetCredential(ctx, p, userID)
	if errors.Is(err, apperrors.ErrCredentialNotFound) {
		s.strikes.Reset(key)
		return nil
	}
	if err != nil {
		return err
	}

	res, err := s.rec.RefreshHoldings(ctx, p, userID)
	if err != nil {
		if !isAuthFailure(err) {
			return err
		}
		n, tripped := s.strikes.Strike(key)
		strikeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(p))))
		log.Warnw("authentication failed during sync", "strikes", n, "error", err)
		if !tripped {
			return err
		}
		if ierr := s.invalidate(ctx, p, userID, cred.RemoteUserID, n); ierr != nil {
			return fmt.Errorf("invalidate credential: %w", ierr)
		}
		return fmt.Errorf("%w after %d authentication failures: %v", errInvalidated, n, err)
	}

	if n := s.strikes.Count(key); n > 0 {
		log.Infow("authentication recovered, strikes cleared", "strikes", n)
	}
	s.strikes.Reset(key)

	log.Infow("holdings refreshed",
		"accounts_found", res.AccountsFound,
		"accounts_synced", res.AccountsSynced,
		"skipped", res.Skipped,
		"failures", len(res.Failures),
	)
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d of %d accounts failed to sync", len(res.Failures), res.AccountsFound)
	}
	return nil
}

// invalidate clears the credential and flags the user's mirror for a
// re-link. A credential that was rotated while the sync ran belongs to a
// fresh registration and is left alone.
func (s *Sweeper) invalidate(ctx context.Context, p models.Provider, userID, staleRemoteID string, strikes int) error {
	key := strikeKey(p, userID)
	log := logger.Get().With("provider", p, "user_id", userID)

	current, err := s.creds.GetCredential(ctx, p, userID)
	switch {
	case errors.Is(err, apperrors.ErrCredentialNotFound):
		s.strikes.Reset(key)
		return nil
	case err != nil:
		return err
	case current.RemoteUserID != staleRemoteID:
		log.Infow("credential rotated during sync, skipping invalidation", "remote_user_id", current.RemoteUserID)
		s.strikes.Reset(key)
		return nil
	}

	if err := s.creds.DeleteCredential(ctx, p, userID); err != nil && !errors.Is(err, apperrors.ErrCredentialNotFound) {
		return err
	}
	disabled, err := s.mirror.DisableUserConnections(ctx, userID, p)
	if err != nil {
		return err
	}
	flagged, err := s.mirror.MarkAccountsNeedReconnect(ctx, userID, p)
	if err != nil {
		return err
	}
	s.audit.Log(ctx, userID, p, models.AuditCredentialInvalidated, "credential", staleRemoteID, map[string]any{
		"strikes":              strikes,
		"connections_disabled": disabled,
		"accounts_flagged":     flagged,
	})
	s.strikes.Reset(key)
	invalidationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(p))))

	log.Warnw("credential invalidated after repeated authentication failures",
		"strikes", strikes,
		"connections_disabled", disabled,
		"accounts_flagged", flagged,
	)
	return nil
}

// Jobs builds one sync job per stored credential.
func (s *Sweeper) Jobs(ctx context.Context) ([]Job, error) {
	creds, err := s.creds.ListCredentials(ctx, "")
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(creds))
	for _, c := range creds {
		jobs = append(jobs, &syncJob{sweeper: s, provider: c.Provider, userID: c.LocalUserID})
	}
	return jobs, nil
}

// RunOnce sweeps every user with at most workers concurrent syncs and
// waits for all of them. Per-user failures are reported, not returned.
func (s *Sweeper) RunOnce(ctx context.Context, workers int, jobTimeout time.Duration) (*SweepReport, error) {
	start := time.Now()
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	report := &SweepReport{Users: len(jobs), Failures: map[string]string{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)
	for _, job := range jobs {
		g.Go(func() error {
			jctx := ctx
			if jobTimeout > 0 {
				var cancel context.CancelFunc
				jctx, cancel = context.WithTimeout(ctx, jobTimeout)
				defer cancel()
			}
			err := job.Execute(jctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Succeeded++
			default:
				report.Failed++
				report.Failures[job.Description()+":"+job.UserID()] = err.Error()
				if errors.Is(err, errInvalidated) {
					report.Invalidated++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	logger.Get().Infow("sweep finished",
		"users", report.Users,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"invalidated", report.Invalidated,
		"duration", report.Duration,
	)
	return report, nil
}

func strikeKey(p models.Provider, userID string) string {
	return string(p) + ":" + userID
}

// isAuthFailure matches the provider rejecting the stored credential
// itself, not a missing remote user (which recovery handles).
func isAuthFailure(err error) bool {
	pe, ok := apperrors.AsProviderError(err)
	return ok && pe.Code == apperrors.CodeAuthInvalid && pe.StatusCode == http.StatusUnauthorized
}
