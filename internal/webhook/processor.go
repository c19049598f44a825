package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/reconcile"
	"flint/internal/services"
)

// Verifier authenticates a delivery before anything is applied.
type Verifier interface {
	VerifyWebhook(header http.Header, body []byte) error
}

// Syncer pulls a newly added connection's accounts into the mirror.
type Syncer interface {
	SyncAccountsForConnection(ctx context.Context, p models.Provider, userID, authorizationID string) (*reconcile.SyncResult, error)
}

// Outcome describes what happened to one delivery. The HTTP response is
// the same regardless.
type Outcome struct {
	LogID    string
	Verified bool
	Event    Event
	Applied  bool
	Err      error
}

// Processor applies webhooks to the mirror. Every handler is idempotent
// and tolerates out-of-order delivery: events about rows that no longer
// exist are no-ops.
type Processor struct {
	logs      services.WebhookLogServicer
	mirror    services.MirrorServicer
	creds     services.CredentialServicer
	verifiers map[models.Provider]Verifier
	syncer    Syncer

	syncTimeout time.Duration
	wg          sync.WaitGroup
	now         func() time.Time
	received    metric.Int64Counter
}

// NewProcessor creates a Processor. A provider without a verifier rejects
// every delivery.
func NewProcessor(
	logs services.WebhookLogServicer,
	mirror services.MirrorServicer,
	creds services.CredentialServicer,
	verifiers map[models.Provider]Verifier,
	syncer Syncer,
) *Processor {
	received, _ := otel.Meter("flint/webhook").Int64Counter("flint.webhook.received",
		metric.WithDescription("Inbound webhook deliveries"))
	return &Processor{
		logs:        logs,
		mirror:      mirror,
		creds:       creds,
		verifiers:   verifiers,
		syncer:      syncer,
		syncTimeout: 5 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
		received:    received,
	}
}

// Handle verifies, logs and applies one delivery. It never returns an
// error: failures are recorded on the webhook log and in the Outcome.
func (p *Processor) Handle(ctx context.Context, provider models.Provider, header http.Header, body []byte) Outcome {
	log := logger.Get().With("provider", provider)
	out := Outcome{Event: Event{Provider: provider}}

	out.Err = p.verify(provider, header, body)
	out.Verified = out.Err == nil

	ev, perr := Parse(provider, body)
	out.Event = ev

	entry := &models.WebhookLog{
		Provider: provider,
		Type:     ev.RawType,
		EventID:  ev.ID,
		Payload:  redactPayload(body),
		Verified: out.Verified,
	}
	if ev.RemoteUserID != "" {
		entry.UserID = &ev.RemoteUserID
	}
	if ev.AuthorizationID != "" {
		entry.AuthorizationID = &ev.AuthorizationID
	}
	if !out.Verified {
		msg := out.Err.Error()
		entry.Error = &msg
	}
	if err := p.logs.Record(ctx, entry); err != nil {
		log.Errorw("failed to record webhook", "type", ev.RawType, "error", err)
	}
	out.LogID = entry.ID

	if !out.Verified {
		p.count(ctx, provider, "", false)
		log.Warnw("webhook rejected", "type", ev.RawType, "error", out.Err)
		return out
	}
	if perr != nil {
		out.Err = perr
		p.finish(ctx, out.LogID, "", perr)
		log.Warnw("malformed webhook body", "error", perr)
		return out
	}

	var known bool
	ev.Type, known = Normalize(ev.RawType)
	out.Event = ev
	p.count(ctx, provider, ev.Type, true)
	if !known {
		log.Infow("unknown webhook type acknowledged", "type", ev.RawType)
	}

	out.Applied, out.Err = p.apply(ctx, ev)
	p.finish(ctx, out.LogID, string(ev.Type), out.Err)

	fields := []any{
		"type", ev.RawType,
		"normalized_type", ev.Type,
		"authorization_id", ev.AuthorizationID,
		"applied", out.Applied,
	}
	if out.Err != nil {
		log.Errorw("webhook processing failed", append(fields, "error", out.Err)...)
	} else {
		log.Infow("webhook processed", fields...)
	}
	return out
}

// Wait blocks until background syncs started by webhooks finish.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) verify(provider models.Provider, header http.Header, body []byte) error {
	v, ok := p.verifiers[provider]
	if !ok || v == nil {
		return apperrors.ErrProviderNotConfigured
	}
	return v.VerifyWebhook(header, body)
}

// apply performs the mirror side effect of ev and reports whether a row
// was changed.
func (p *Processor) apply(ctx context.Context, ev Event) (bool, error) {
	if ev.Type == NoOp || ev.Type == ConnectionAttempted {
		return false, nil
	}
	if ev.AuthorizationID == "" {
		return false, errors.New("event has no authorization id")
	}

	switch ev.Type {
	case ConnectionBroken:
		return p.mirror.SetConnectionDisabled(ctx, ev.Provider, ev.AuthorizationID, true)
	case ConnectionUpdated:
		return p.mirror.TouchConnection(ctx, ev.Provider, ev.AuthorizationID, p.now())
	case ConnectionDeleted:
		return p.mirror.DeleteConnection(ctx, ev.Provider, ev.AuthorizationID)
	case ConnectionFixed, ConnectionAdded:
		found, err := p.mirror.SetConnectionDisabled(ctx, ev.Provider, ev.AuthorizationID, false)
		if err != nil || found || ev.Type == ConnectionFixed {
			return found, err
		}
		return p.create(ctx, ev)
	}
	return false, nil
}

// create mirrors a connection the webhook announced before any sync saw
// it, then pulls its accounts in the background.
func (p *Processor) create(ctx context.Context, ev Event) (bool, error) {
	if ev.RemoteUserID == "" {
		return false, nil
	}
	cred, err := p.creds.FindByRemoteUser(ctx, ev.Provider, ev.RemoteUserID)
	if errors.Is(err, apperrors.ErrCredentialNotFound) {
		logger.Get().Infow("webhook for unknown remote user", "provider", ev.Provider, "remote_user_id", ev.RemoteUserID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	created, err := p.mirror.EnsureConnection(ctx, &models.Connection{
		ID:          ev.AuthorizationID,
		LocalUserID: cred.LocalUserID,
		Provider:    ev.Provider,
		BrokerName:  ev.BrokerName,
	})
	if err != nil || !created {
		return created, err
	}
	if p.syncer != nil {
		p.syncLater(ctx, ev.Provider, cred.LocalUserID, ev.AuthorizationID)
	}
	return true, nil
}

func (p *Processor) syncLater(ctx context.Context, provider models.Provider, userID, authorizationID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.syncTimeout)
		defer cancel()
		if _, err := p.syncer.SyncAccountsForConnection(ctx, provider, userID, authorizationID); err != nil {
			logger.Get().Warnw("webhook-triggered sync failed",
				"provider", provider,
				"user_id", userID,
				"authorization_id", authorizationID,
				"error", err,
			)
		}
	}()
}

func (p *Processor) finish(ctx context.Context, logID, normalized string, procErr error) {
	if logID == "" {
		return
	}
	if err := p.logs.MarkProcessed(ctx, logID, normalized, procErr); err != nil {
		logger.Get().Errorw("failed to update webhook log", "log_id", logID, "error", err)
	}
}

func (p *Processor) count(ctx context.Context, provider models.Provider, t EventType, verified bool) {
	if p.received == nil {
		return
	}
	p.received.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("type", string(t)),
		attribute.Bool("verified", verified),
	))
}
