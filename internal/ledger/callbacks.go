package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/blake2b"

	"github.com/mmynk/iouledger/internal/events"
	"github.com/mmynk/iouledger/internal/lifecycle"
	"github.com/mmynk/iouledger/internal/models"
)

// Callback is a notification from the payment provider. IOUID, Amount and
// Memo are optional; when present they are checked against the attempt.
type Callback struct {
	ProviderPaymentID string
	IOUID             string
	Amount            *decimal.Decimal
	Memo              string

	// Message carries the provider's error text for error callbacks.
	Message string
}

// Ack is the acknowledgement returned to the provider.
type Ack struct {
	Attempt *models.SettlementAttempt

	// IOU is set when the callback changed or finalized the IOU.
	IOU *models.IOU

	// Replayed is true when an identical payload was already handled and
	// the stored acknowledgement is returned.
	Replayed bool

	// Message is the error text surfaced to the user, if any.
	Message string
}

// Fingerprint identifies a callback payload. Identical payloads hash to the
// same value; amounts are compared by value, so 10 and 10.00 match.
func Fingerprint(kind models.CallbackKind, cb Callback) string {
	amount := ""
	if cb.Amount != nil {
		amount = cb.Amount.String()
	}
	h, _ := blake2b.New256(nil)
	for _, part := range []string{string(kind), cb.ProviderPaymentID, cb.IOUID, amount, cb.Memo, cb.Message} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HandleApproval records that the provider is waiting for server approval.
// The payment ID is bound to the IOU's in-flight attempt if it is not yet
// known. Repeats for an approved or completed attempt are no-ops.
func (l *Ledger) HandleApproval(ctx context.Context, cb Callback) (*Ack, error) {
	return l.handle(ctx, models.CallbackApproval, cb, func(ctx context.Context) (*Ack, error) {
		found, err := l.findAttempt(ctx, cb, true)
		if err != nil {
			return nil, err
		}
		var ack *Ack
		err = l.withLock(ctx, found.IOUID, func() error {
			a, err := l.store.GetAttempt(ctx, found.ID)
			if err != nil {
				return err
			}
			for i := 0; i < maxCASRetries; i++ {
				switch a.Phase {
				case models.PhaseApproved, models.PhaseCompleted:
					ack = &Ack{Attempt: a}
					return nil
				case models.PhaseCancelled, models.PhaseErrored:
					return fmt.Errorf("%w: settlement %s is %s", models.ErrConflict, a.ID, a.Phase)
				}
				approved, err := l.store.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseApproved, "")
				if errors.Is(err, models.ErrConflict) {
					if a, err = l.store.GetAttempt(ctx, a.ID); err != nil {
						return err
					}
					continue
				}
				if err != nil {
					return err
				}
				l.publish(ctx, attemptEvent(approved, "", approved.UpdatedAt))
				ack = &Ack{Attempt: approved}
				return nil
			}
			return fmt.Errorf("%w: settlement %s kept changing", models.ErrConflict, a.ID)
		})
		return ack, err
	})
}

// HandleCompletion finalizes the IOU once the provider reports the payment
// settled. The attempt must have been approved first. A mismatched amount or
// memo errors the attempt and leaves the IOU unpaid.
func (l *Ledger) HandleCompletion(ctx context.Context, cb Callback) (*Ack, error) {
	return l.handle(ctx, models.CallbackCompletion, cb, func(ctx context.Context) (*Ack, error) {
		found, err := l.findAttempt(ctx, cb, false)
		if err != nil {
			return nil, err
		}
		var ack *Ack
		err = l.withLock(ctx, found.IOUID, func() error {
			a, err := l.store.GetAttempt(ctx, found.ID)
			if err != nil {
				return err
			}
			iou, err := l.store.GetIOU(ctx, a.IOUID)
			if err != nil {
				return err
			}
			for i := 0; i < maxCASRetries; i++ {
				switch a.Phase {
				case models.PhaseInitiated:
					return fmt.Errorf("%w: completion for %s arrived before approval", models.ErrConflict, a.ProviderPaymentID)
				case models.PhaseCancelled, models.PhaseErrored:
					return fmt.Errorf("%w: settlement %s is %s", models.ErrConflict, a.ID, a.Phase)
				case models.PhaseCompleted:
					// Settled already: a disagreeing duplicate is rejected,
					// but the payment has moved so nothing is aborted.
					if reason := mismatch(cb, a, iou); reason != "" {
						ack = &Ack{Attempt: a, IOU: iou, Message: reason}
						return fmt.Errorf("%w: %s", models.ErrAmountMismatch, reason)
					}
					paid, err := l.finalizeLocked(ctx, iou, a)
					if err != nil {
						return err
					}
					ack = &Ack{Attempt: a, IOU: paid}
					return nil
				}

				if reason := mismatch(cb, a, iou); reason != "" {
					errored, err := l.store.UpdateAttemptPhase(ctx, a.ID, models.PhaseApproved, models.PhaseErrored, reason)
					if errors.Is(err, models.ErrConflict) {
						if a, err = l.store.GetAttempt(ctx, a.ID); err != nil {
							return err
						}
						continue
					}
					if err != nil {
						return err
					}
					if err := lifecycle.AbortSettlement(iou, errored); err != nil {
						return err
					}
					l.publish(ctx, attemptEvent(errored, reason, errored.UpdatedAt))
					ack = &Ack{Attempt: errored, Message: reason}
					return fmt.Errorf("%w: %s", models.ErrAmountMismatch, reason)
				}

				completed, err := l.store.UpdateAttemptPhase(ctx, a.ID, models.PhaseApproved, models.PhaseCompleted, "")
				if errors.Is(err, models.ErrConflict) {
					if a, err = l.store.GetAttempt(ctx, a.ID); err != nil {
						return err
					}
					continue
				}
				if err != nil {
					return err
				}
				l.publish(ctx, attemptEvent(completed, "", completed.UpdatedAt))
				paid, err := l.finalizeLocked(ctx, iou, completed)
				if err != nil {
					return err
				}
				ack = &Ack{Attempt: completed, IOU: paid}
				return nil
			}
			return fmt.Errorf("%w: settlement %s kept changing", models.ErrConflict, a.ID)
		})
		return ack, err
	})
}

// HandleCancel records that the payer abandoned the payment.
func (l *Ledger) HandleCancel(ctx context.Context, cb Callback) (*Ack, error) {
	return l.handle(ctx, models.CallbackCancel, cb, func(ctx context.Context) (*Ack, error) {
		found, err := l.findAttempt(ctx, cb, true)
		if err != nil {
			return nil, err
		}
		var ack *Ack
		err = l.withLock(ctx, found.IOUID, func() error {
			a, err := l.store.GetAttempt(ctx, found.ID)
			if err != nil {
				return err
			}
			iou, err := l.store.GetIOU(ctx, a.IOUID)
			if err != nil {
				return err
			}
			cancelled, err := l.cancelLocked(ctx, iou, a, "cancelled by provider")
			if err != nil {
				return err
			}
			ack = &Ack{Attempt: cancelled}
			return nil
		})
		return ack, err
	})
}

// HandleError records a provider failure against the attempt. The message
// is surfaced in the acknowledgement and on the attempt; nothing is retried.
func (l *Ledger) HandleError(ctx context.Context, cb Callback) (*Ack, error) {
	return l.handle(ctx, models.CallbackError, cb, func(ctx context.Context) (*Ack, error) {
		found, err := l.findAttempt(ctx, cb, true)
		if err != nil {
			return nil, err
		}
		message := strings.TrimSpace(cb.Message)
		if message == "" {
			message = "payment provider reported an error"
		}

		var ack *Ack
		err = l.withLock(ctx, found.IOUID, func() error {
			a, err := l.store.GetAttempt(ctx, found.ID)
			if err != nil {
				return err
			}
			iou, err := l.store.GetIOU(ctx, a.IOUID)
			if err != nil {
				return err
			}
			for i := 0; i < maxCASRetries; i++ {
				if a.Phase.Terminal() {
					ack = &Ack{Attempt: a, Message: a.LastError}
					return nil
				}
				errored, err := l.store.UpdateAttemptPhase(ctx, a.ID, a.Phase, models.PhaseErrored, message)
				if errors.Is(err, models.ErrConflict) {
					if a, err = l.store.GetAttempt(ctx, a.ID); err != nil {
						return err
					}
					continue
				}
				if err != nil {
					return err
				}
				if err := lifecycle.AbortSettlement(iou, errored); err != nil {
					return err
				}
				l.publish(ctx, attemptEvent(errored, message, errored.UpdatedAt))
				ack = &Ack{Attempt: errored, Message: message}
				return nil
			}
			return fmt.Errorf("%w: settlement %s kept changing", models.ErrConflict, a.ID)
		})
		return ack, err
	})
}

// finalizeLocked marks iou paid for a completed attempt. A lost race is
// retried against the freshly committed record, so an accept that landed in
// between does not block payment.
func (l *Ledger) finalizeLocked(ctx context.Context, iou *models.IOU, a *models.SettlementAttempt) (*models.IOU, error) {
	for i := 0; i < maxCASRetries; i++ {
		now := l.clock()
		next, tr, err := lifecycle.FinalizeSettlement(iou, a, now)
		if err != nil {
			l.logger.ErrorContext(ctx, "completed settlement could not be applied",
				"iou_id", iou.ID, "attempt_id", a.ID, "status", iou.Status, "error", err)
			return nil, err
		}
		if tr == nil {
			return next, nil
		}
		paid, err := l.applyIOU(ctx, iou.ID, tr, now)
		if errors.Is(err, models.ErrConflict) {
			if iou, err = l.store.GetIOU(ctx, iou.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		l.publish(ctx, iouEvent(events.IOUPaid, paid, a.InitiatedBy, *paid.PaidAt))
		return paid, nil
	}
	return nil, fmt.Errorf("%w: iou %s kept changing", models.ErrConflict, iou.ID)
}

// findAttempt locates the attempt a callback refers to. With bind set, an
// unknown payment ID is attached to the in-flight attempt of cb.IOUID.
func (l *Ledger) findAttempt(ctx context.Context, cb Callback, bind bool) (*models.SettlementAttempt, error) {
	pid := strings.TrimSpace(cb.ProviderPaymentID)
	if pid == "" {
		return nil, fmt.Errorf("%w: provider payment id is required", models.ErrValidation)
	}

	a, err := l.store.GetAttemptByProviderID(ctx, pid)
	if err == nil {
		if cb.IOUID != "" && a.IOUID != cb.IOUID {
			return nil, fmt.Errorf("%w: provider payment %s belongs to another iou", models.ErrConflict, pid)
		}
		return a, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if !bind {
		return nil, fmt.Errorf("%w: provider payment %s was never approved", models.ErrConflict, pid)
	}
	if cb.IOUID == "" {
		return nil, err
	}

	active, err := l.store.GetActiveAttempt(ctx, cb.IOUID)
	if err != nil {
		return nil, err
	}
	return l.store.BindProviderPaymentID(ctx, active.ID, pid)
}

// mismatch describes how the callback or attempt disagrees with what was
// agreed, or returns "".
func mismatch(cb Callback, a *models.SettlementAttempt, iou *models.IOU) string {
	if cb.Amount != nil && !cb.Amount.Equal(a.Amount) {
		return fmt.Sprintf("amount mismatch: provider reported %s, attempt was for %s", cb.Amount, a.Amount)
	}
	if !a.Amount.Equal(iou.Amount) {
		return fmt.Sprintf("amount mismatch: attempt was for %s, iou is for %s", a.Amount, iou.Amount)
	}
	if cb.Memo != "" && cb.Memo != a.Memo {
		return "memo mismatch"
	}
	return ""
}

// recordable reports whether a callback outcome is final. Other failures
// are not remembered, so the provider's retry runs the handler again.
func recordable(err error) bool {
	return err == nil || errors.Is(err, models.ErrAmountMismatch)
}

// handle wraps a callback handler with replay detection, receipts, metrics
// and logging.
func (l *Ledger) handle(ctx context.Context, kind models.CallbackKind, cb Callback, fn func(context.Context) (*Ack, error)) (ack *Ack, err error) {
	ctx, span := l.start(ctx, "ledger.Handle"+callbackSpanName(kind),
		attribute.String("provider_payment_id", cb.ProviderPaymentID),
		attribute.String("iou_id", cb.IOUID))
	defer func() { endSpan(span, err) }()

	fp := Fingerprint(kind, cb)
	if receipt, getErr := l.store.GetCallback(ctx, fp); getErr == nil {
		return l.replay(ctx, kind, receipt)
	}

	ack, err = fn(ctx)
	outcome := Outcome(err)
	l.metrics.Callback(string(kind), outcome)

	attrs := []any{"kind", kind, "provider_payment_id", cb.ProviderPaymentID, "outcome", outcome}
	if ack != nil && ack.Attempt != nil {
		attrs = append(attrs, "iou_id", ack.Attempt.IOUID, "phase", ack.Attempt.Phase)
	}
	switch {
	case err == nil:
		l.logger.InfoContext(ctx, "callback handled", attrs...)
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrAmountMismatch):
		l.logger.WarnContext(ctx, "callback rejected", append(attrs, "error", err)...)
	default:
		l.logger.ErrorContext(ctx, "callback failed", append(attrs, "error", err)...)
	}

	if recordable(err) {
		receipt := &models.CallbackReceipt{
			Fingerprint:       fp,
			Kind:              kind,
			ProviderPaymentID: cb.ProviderPaymentID,
			IOUID:             cb.IOUID,
			Outcome:           outcome,
			ReceivedAt:        l.clock(),
		}
		if ack != nil && ack.Attempt != nil {
			receipt.IOUID = ack.Attempt.IOUID
			receipt.Phase = ack.Attempt.Phase
		}
		if _, _, recErr := l.store.RecordCallback(ctx, receipt); recErr != nil {
			l.logger.ErrorContext(ctx, "failed to record callback receipt", "fingerprint", fp, "error", recErr)
		}
	}
	return ack, err
}

// replay answers a repeated payload from its receipt without re-running
// the handler.
func (l *Ledger) replay(ctx context.Context, kind models.CallbackKind, r *models.CallbackReceipt) (*Ack, error) {
	l.metrics.Callback(string(kind), "replayed")
	l.logger.DebugContext(ctx, "callback replayed", slog.String("kind", string(kind)), slog.String("fingerprint", r.Fingerprint))

	ack := &Ack{Replayed: true}
	if a, err := l.store.GetAttemptByProviderID(ctx, r.ProviderPaymentID); err == nil {
		ack.Attempt = a
		ack.Message = a.LastError
	}
	if r.IOUID != "" {
		if iou, err := l.store.GetIOU(ctx, r.IOUID); err == nil {
			ack.IOU = iou
		}
	}
	if r.Outcome == Outcome(models.ErrAmountMismatch) {
		return ack, fmt.Errorf("%w: callback already rejected", models.ErrAmountMismatch)
	}
	return ack, nil
}

func callbackSpanName(kind models.CallbackKind) string {
	switch kind {
	case models.CallbackApproval:
		return "Approval"
	case models.CallbackCompletion:
		return "Completion"
	case models.CallbackCancel:
		return "Cancel"
	case models.CallbackError:
		return "Error"
	}
	return "Callback"
}
