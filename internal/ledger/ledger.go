// Package ledger applies the IOU lifecycle and the settlement handshake
// against a storage.Store. Every mutation is a compare-and-swap; a per-record
// lock narrows the window between the read and the swap.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmynk/iouledger/internal/events"
	"github.com/mmynk/iouledger/internal/lifecycle"
	"github.com/mmynk/iouledger/internal/lock"
	"github.com/mmynk/iouledger/internal/metrics"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/provider"
	"github.com/mmynk/iouledger/internal/storage"
)

const (
	// DefaultAttemptTTL is how long an attempt may stay initiated before it
	// is expired.
	DefaultAttemptTTL = 15 * time.Minute

	// maxCASRetries bounds re-reads after a lost compare-and-swap.
	maxCASRetries = 3

	expiredReason = "expired"
)

// Ledger coordinates IOUs and their settlement attempts.
type Ledger struct {
	store      storage.Store
	locks      lock.Locker
	provider   provider.PaymentProvider
	events     events.Publisher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
	attemptTTL time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLocker(l lock.Locker) Option { return func(lg *Ledger) { lg.locks = l } }

func WithProvider(p provider.PaymentProvider) Option { return func(lg *Ledger) { lg.provider = p } }

func WithPublisher(p events.Publisher) Option { return func(lg *Ledger) { lg.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(lg *Ledger) { lg.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(lg *Ledger) { lg.tracer = t } }

func WithLogger(l *slog.Logger) Option { return func(lg *Ledger) { lg.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(lg *Ledger) { lg.now = now } }

// WithAttemptTTL sets how long an initiated attempt may wait for approval.
// Zero disables expiry.
func WithAttemptTTL(d time.Duration) Option { return func(lg *Ledger) { lg.attemptTTL = d } }

// New creates a Ledger on store. Without options it uses in-process locks,
// no payment provider and no event delivery.
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locks:      lock.NewKeyedMutex(),
		provider:   provider.Unavailable{},
		events:     events.Nop{},
		tracer:     otel.Tracer("github.com/mmynk/iouledger/internal/ledger"),
		logger:     slog.Default(),
		now:        time.Now,
		attemptTTL: DefaultAttemptTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateIOU validates and stores a new pending IOU.
func (l *Ledger) CreateIOU(ctx context.Context, params models.NewIOUParams) (iou *models.IOU, err error) {
	ctx, span := l.start(ctx, "ledger.CreateIOU", attribute.String("owner_id", params.OwnerID))
	defer func() { endSpan(span, err) }()

	iou, err = models.NewIOU(params, l.clock())
	if err != nil {
		return nil, err
	}
	if err := l.store.CreateIOU(ctx, iou); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("iou_id", iou.ID))

	l.metrics.Transition(string(models.StatusPending))
	l.publish(ctx, iouEvent(events.IOUCreated, iou, params.OwnerID, iou.CreatedAt))
	return iou, nil
}

// GetIOU returns an IOU the actor is a party to.
func (l *Ledger) GetIOU(ctx context.Context, actor, id string) (*models.IOU, error) {
	iou, err := l.store.GetIOU(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := l.parties(ctx, iou, actor)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanView(iou, p) {
		return nil, fmt.Errorf("%w: not a party to iou %s", models.ErrPermissionDenied, id)
	}
	return iou, nil
}

// AcceptIOU moves a pending IOU to accepted on behalf of its counterparty.
func (l *Ledger) AcceptIOU(ctx context.Context, actor, id string) (committed *models.IOU, err error) {
	ctx, span := l.start(ctx, "ledger.AcceptIOU", attribute.String("iou_id", id))
	defer func() { endSpan(span, err) }()

	err = l.withLock(ctx, id, func() error {
		iou, err := l.store.GetIOU(ctx, id)
		if err != nil {
			return err
		}
		p, err := l.parties(ctx, iou, actor)
		if err != nil {
			return err
		}
		now := l.clock()
		_, tr, err := lifecycle.Accept(iou, p, now)
		if err != nil {
			return err
		}
		committed, err = l.applyIOU(ctx, id, tr, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, iouEvent(events.IOUAccepted, committed, actor, *committed.AcceptedAt))
	return committed, nil
}

// RejectIOU cancels a pending IOU. A settlement in flight blocks the reject.
func (l *Ledger) RejectIOU(ctx context.Context, actor, id string) (committed *models.IOU, err error) {
	ctx, span := l.start(ctx, "ledger.RejectIOU", attribute.String("iou_id", id))
	defer func() { endSpan(span, err) }()

	err = l.withLock(ctx, id, func() error {
		iou, err := l.store.GetIOU(ctx, id)
		if err != nil {
			return err
		}
		p, err := l.parties(ctx, iou, actor)
		if err != nil {
			return err
		}
		now := l.clock()
		_, tr, err := lifecycle.Reject(iou, p, now)
		if err != nil {
			return err
		}
		active, err := l.activeAttemptLocked(ctx, id)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: settlement %s is %s", models.ErrConflict, active.ID, active.Phase)
		}
		// The lock may not be exclusive across instances, so the store
		// re-checks for an in-flight attempt in the same step as the CAS.
		committed, err = l.store.UpdateIOUStatusIfIdle(ctx, id, tr.From, tr.To, tr.Stamp, now)
		if err != nil {
			return err
		}
		l.metrics.Transition(string(tr.To))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, iouEvent(events.IOURejected, committed, actor, *committed.CancelledAt))
	return committed, nil
}

// ResolveCounterparty maps a counterparty string to a known user ID, or ""
// when no user matches.
func (l *Ledger) ResolveCounterparty(ctx context.Context, counterparty string) (string, error) {
	raw := strings.TrimSpace(counterparty)
	handle := strings.TrimPrefix(raw, "@")
	if handle == "" {
		return "", nil
	}

	u, err := l.store.GetUserByUsername(ctx, handle)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	u, err = l.store.GetUser(ctx, raw)
	if err == nil {
		return u.ID, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	return "", err
}

// RegisterUser records a verified identity so it can be resolved as a
// counterparty.
func (l *Ledger) RegisterUser(ctx context.Context, id, username string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	u := &models.User{ID: id, Username: strings.TrimPrefix(strings.TrimSpace(username), "@")}
	if err := l.store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// parties resolves who the actor is relative to iou. A counterparty that
// resolves to the owner is treated as unresolved.
func (l *Ledger) parties(ctx context.Context, iou *models.IOU, actor string) (lifecycle.Parties, error) {
	p := lifecycle.Parties{Actor: actor}
	id, err := l.ResolveCounterparty(ctx, iou.Counterparty)
	if err != nil {
		return p, err
	}
	if id != iou.OwnerID {
		p.CounterpartyID = id
	}
	return p, nil
}

// applyIOU commits tr with compare-and-swap on tr.From.
func (l *Ledger) applyIOU(ctx context.Context, id string, tr *lifecycle.Transition, now time.Time) (*models.IOU, error) {
	committed, err := l.store.UpdateIOUStatus(ctx, id, tr.From, tr.To, tr.Stamp, now)
	if err != nil {
		return nil, err
	}
	l.metrics.Transition(string(tr.To))
	return committed, nil
}

func (l *Ledger) withLock(ctx context.Context, iouID string, fn func() error) error {
	unlock, err := l.locks.Lock(ctx, "iou:"+iouID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

func (l *Ledger) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err))
	}
	span.End()
}

func (l *Ledger) publish(ctx context.Context, e events.Event) {
	if err := l.events.Publish(ctx, e); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish event", "type", e.Type, "iou_id", e.IOUID, "error", err)
	}
}

func iouEvent(typ string, iou *models.IOU, actor string, at time.Time) events.Event {
	return events.Event{
		Type:       typ,
		IOUID:      iou.ID,
		Status:     string(iou.Status),
		Amount:     iou.Amount,
		Actor:      actor,
		OccurredAt: at,
	}
}

func attemptEvent(a *models.SettlementAttempt, reason string, at time.Time) events.Event {
	return events.Event{
		Type:              events.SettlementPrefix + string(a.Phase),
		IOUID:             a.IOUID,
		AttemptID:         a.ID,
		Phase:             string(a.Phase),
		ProviderPaymentID: a.ProviderPaymentID,
		Amount:            a.Amount,
		Actor:             a.InitiatedBy,
		Reason:            reason,
		OccurredAt:        at,
	}
}

// Outcome names the error class of err for logs, metrics and receipts.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, models.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, models.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
