package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mmynk/iouledger/internal/lifecycle"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/provider"
)

// reapBatch caps how many stale attempts one ExpireStale pass handles.
const reapBatch = 100

// BeginSettlement starts a payment for the IOU on behalf of its debtor. The
// attempt is committed before the provider is called, so the single-flight
// slot is held while the provider works.
func (l *Ledger) BeginSettlement(ctx context.Context, actor, iouID string) (attempt *models.SettlementAttempt, err error) {
	ctx, span := l.start(ctx, "ledger.BeginSettlement", attribute.String("iou_id", iouID))
	defer func() { endSpan(span, err) }()

	var iou *models.IOU
	err = l.withLock(ctx, iouID, func() error {
		current, err := l.store.GetIOU(ctx, iouID)
		if err != nil {
			return err
		}
		p, err := l.parties(ctx, current, actor)
		if err != nil {
			return err
		}
		active, err := l.activeAttemptLocked(ctx, iouID)
		if err != nil {
			return err
		}
		next, err := lifecycle.BeginSettlement(current, p, active, l.clock())
		if err != nil {
			return err
		}
		if !l.provider.Available() {
			return fmt.Errorf("%w: cannot start a settlement", models.ErrProviderUnavailable)
		}
		if err := l.store.CreateAttempt(ctx, next); err != nil {
			return err
		}

		// Re-validate against the committed record: a reject that landed
		// between the read and the insert wins.
		committed, err := l.store.GetIOU(ctx, iouID)
		if err != nil {
			return err
		}
		if committed.Status.Terminal() {
			reason := fmt.Sprintf("iou became %s", committed.Status)
			if _, abortErr := l.store.UpdateAttemptPhase(ctx, next.ID, models.PhaseInitiated, models.PhaseCancelled, reason); abortErr != nil {
				l.logger.ErrorContext(ctx, "failed to release settlement slot", "attempt_id", next.ID, "error", abortErr)
			}
			return fmt.Errorf("%w: %s", models.ErrConflict, reason)
		}
		iou, attempt = committed, next
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("attempt_id", attempt.ID))
	l.publish(ctx, attemptEvent(attempt, "", attempt.CreatedAt))

	paymentID, err := l.provider.Initiate(ctx, provider.PaymentRequest{
		IOUID:     iou.ID,
		AttemptID: attempt.ID,
		Payer:     actor,
		Amount:    attempt.Amount,
		Memo:      attempt.Memo,
	})
	if err != nil {
		l.failAttempt(ctx, attempt, fmt.Sprintf("initiate failed: %v", err))
		return nil, err
	}

	bound, err := l.store.BindProviderPaymentID(ctx, attempt.ID, paymentID)
	if err != nil {
		l.failAttempt(ctx, attempt, fmt.Sprintf("bind %s failed: %v", paymentID, err))
		return nil, err
	}
	l.logger.InfoContext(ctx, "settlement initiated",
		"iou_id", iou.ID, "attempt_id", bound.ID, "provider_payment_id", paymentID)
	return bound, nil
}

// failAttempt moves an attempt that never reached the provider to errored.
func (l *Ledger) failAttempt(ctx context.Context, attempt *models.SettlementAttempt, reason string) {
	err := l.withLock(ctx, attempt.IOUID, func() error {
		current, err := l.store.GetAttempt(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if current.Phase.Terminal() {
			return nil
		}
		errored, err := l.store.UpdateAttemptPhase(ctx, current.ID, current.Phase, models.PhaseErrored, reason)
		if err != nil {
			return err
		}
		l.publish(ctx, attemptEvent(errored, reason, errored.UpdatedAt))
		return nil
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to record settlement failure",
			"iou_id", attempt.IOUID, "attempt_id", attempt.ID, "reason", reason, "error", err)
	}
}

// CancelSettlement cancels the IOU's in-flight attempt on behalf of its
// debtor. Cancelling an attempt that already ended without payment is a
// no-op; a completed attempt cannot be cancelled.
func (l *Ledger) CancelSettlement(ctx context.Context, actor, iouID string) (attempt *models.SettlementAttempt, err error) {
	ctx, span := l.start(ctx, "ledger.CancelSettlement", attribute.String("iou_id", iouID))
	defer func() { endSpan(span, err) }()

	err = l.withLock(ctx, iouID, func() error {
		iou, err := l.store.GetIOU(ctx, iouID)
		if err != nil {
			return err
		}
		p, err := l.parties(ctx, iou, actor)
		if err != nil {
			return err
		}
		if !lifecycle.IsDebtor(iou, p) {
			return fmt.Errorf("%w: only the debtor can cancel this settlement", models.ErrPermissionDenied)
		}
		latest, err := l.store.GetLatestAttempt(ctx, iouID)
		if err != nil {
			return err
		}
		attempt, err = l.cancelLocked(ctx, iou, latest, "cancelled by "+actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// cancelLocked moves a to cancelled, re-reading after each lost race.
func (l *Ledger) cancelLocked(ctx context.Context, iou *models.IOU, a *models.SettlementAttempt, reason string) (*models.SettlementAttempt, error) {
	for i := 0; i < maxCASRetries; i++ {
		switch a.Phase {
		case models.PhaseCancelled, models.PhaseErrored:
			return a, nil
		case models.PhaseCompleted:
			return nil, fmt.Errorf("%w: settlement %s already completed", models.ErrConflict, a.ID)
		}

		cancelled, err := l.store.UpdateAttemptPhase(ctx, a.ID, a.Phase, models.PhaseCancelled, reason)
		if errors.Is(err, models.ErrConflict) {
			if a, err = l.store.GetAttempt(ctx, a.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := lifecycle.AbortSettlement(iou, cancelled); err != nil {
			return nil, err
		}
		l.publish(ctx, attemptEvent(cancelled, reason, cancelled.UpdatedAt))
		return cancelled, nil
	}
	return nil, fmt.Errorf("%w: settlement %s kept changing", models.ErrConflict, a.ID)
}

// GetSettlement returns the most recent attempt for an IOU the actor is a
// party to.
func (l *Ledger) GetSettlement(ctx context.Context, actor, iouID string) (*models.SettlementAttempt, error) {
	if _, err := l.GetIOU(ctx, actor, iouID); err != nil {
		return nil, err
	}
	return l.store.GetLatestAttempt(ctx, iouID)
}

// activeAttemptLocked returns the IOU's non-terminal attempt, or nil. A
// stale initiated attempt is expired on the way.
func (l *Ledger) activeAttemptLocked(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	for i := 0; i < maxCASRetries; i++ {
		active, err := l.store.GetActiveAttempt(ctx, iouID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !l.stale(active) {
			return active, nil
		}
		if err := l.expireLocked(ctx, active); err != nil && !errors.Is(err, models.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: settlement for iou %s kept changing", models.ErrConflict, iouID)
}

func (l *Ledger) stale(a *models.SettlementAttempt) bool {
	return l.attemptTTL > 0 &&
		a.Phase == models.PhaseInitiated &&
		l.clock().Sub(a.CreatedAt) >= l.attemptTTL
}

func (l *Ledger) expireLocked(ctx context.Context, a *models.SettlementAttempt) error {
	expired, err := l.store.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseErrored, expiredReason)
	if err != nil {
		return err
	}
	l.metrics.Expired(1)
	l.logger.InfoContext(ctx, "settlement attempt expired",
		"iou_id", a.IOUID, "attempt_id", a.ID, "age", l.clock().Sub(a.CreatedAt))
	l.publish(ctx, attemptEvent(expired, expiredReason, expired.UpdatedAt))
	return nil
}

// ExpireStale errors every initiated attempt older than the attempt TTL
// and returns how many it expired. Approved attempts are left alone; the
// provider is already moving money for them.
func (l *Ledger) ExpireStale(ctx context.Context) (n int, err error) {
	if l.attemptTTL <= 0 {
		return 0, nil
	}
	ctx, span := l.start(ctx, "ledger.ExpireStale")
	defer func() {
		span.SetAttributes(attribute.Int("expired", n))
		endSpan(span, err)
	}()

	stale, err := l.store.ListAttemptsCreatedBefore(ctx, models.PhaseInitiated, l.clock().Add(-l.attemptTTL), reapBatch)
	if err != nil {
		return 0, err
	}
	for _, a := range stale {
		err := l.withLock(ctx, a.IOUID, func() error {
			return l.expireLocked(ctx, a)
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, models.ErrConflict):
			// Approved or cancelled in the meantime.
		default:
			return n, err
		}
	}
	return n, nil
}
