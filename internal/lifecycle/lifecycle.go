// Package lifecycle holds the pure transition rules for IOUs and their
// settlement attempts. Nothing here touches storage; callers apply the
// returned Transition with a compare-and-swap update.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// Transition is a status change to apply with compare-and-swap on From.
type Transition struct {
	From  models.Status
	To    models.Status
	Stamp models.TimestampField
}

// edges is the complete directed graph of legal status changes.
// Paid and cancelled have no outgoing edges.
var edges = map[models.Status][]models.Status{
	models.StatusPending:  {models.StatusAccepted, models.StatusCancelled, models.StatusPaid},
	models.StatusAccepted: {models.StatusPaid, models.StatusCancelled},
}

var stamps = map[models.Status]models.TimestampField{
	models.StatusAccepted:  models.StampAccepted,
	models.StatusPaid:      models.StampPaid,
	models.StatusCancelled: models.StampCancelled,
}

// Allowed reports whether from→to is an edge of the status graph.
func Allowed(from, to models.Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Parties identifies who is acting on an IOU.
type Parties struct {
	Actor string

	// CounterpartyID is the resolved user ID of the counterparty, or empty
	// when the counterparty does not map to a known user.
	CounterpartyID string
}

// IsCounterparty reports whether the actor speaks for the counterparty.
// An unresolvable counterparty is represented by any authenticated non-owner.
func IsCounterparty(iou *models.IOU, p Parties) bool {
	if p.Actor == "" {
		return false
	}
	if p.CounterpartyID != "" {
		return p.Actor == p.CounterpartyID
	}
	return p.Actor != iou.OwnerID
}

// IsDebtor reports whether the actor is the paying side of the IOU.
func IsDebtor(iou *models.IOU, p Parties) bool {
	if iou.OwnerIsDebtor() {
		return p.Actor != "" && p.Actor == iou.OwnerID
	}
	return IsCounterparty(iou, p)
}

// CanView reports whether the actor is a party to the IOU.
func CanView(iou *models.IOU, p Parties) bool {
	return (p.Actor != "" && p.Actor == iou.OwnerID) || IsCounterparty(iou, p)
}

// Accept moves a pending IOU to accepted on behalf of the counterparty.
func Accept(iou *models.IOU, p Parties, now time.Time) (*models.IOU, *Transition, error) {
	if iou.Status != models.StatusPending {
		return nil, nil, fmt.Errorf("%w: cannot accept an IOU that is %s", models.ErrIllegalTransition, iou.Status)
	}
	if !IsCounterparty(iou, p) {
		return nil, nil, fmt.Errorf("%w: only the counterparty can accept this IOU", models.ErrPermissionDenied)
	}
	return apply(iou, models.StatusAccepted, now)
}

// Reject cancels a pending IOU. Either party may reject.
func Reject(iou *models.IOU, p Parties, now time.Time) (*models.IOU, *Transition, error) {
	if iou.Status != models.StatusPending {
		return nil, nil, fmt.Errorf("%w: cannot reject an IOU that is %s", models.ErrIllegalTransition, iou.Status)
	}
	if !CanView(iou, p) {
		return nil, nil, fmt.Errorf("%w: only a party to this IOU can reject it", models.ErrPermissionDenied)
	}
	return apply(iou, models.StatusCancelled, now)
}

// BeginSettlement returns a new initiated attempt for iou. active is the
// current non-terminal attempt for the IOU, if any.
func BeginSettlement(iou *models.IOU, p Parties, active *models.SettlementAttempt, now time.Time) (*models.SettlementAttempt, error) {
	if iou.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot settle an IOU that is %s", models.ErrIllegalTransition, iou.Status)
	}
	if !IsDebtor(iou, p) {
		return nil, fmt.Errorf("%w: only the debtor can settle this IOU", models.ErrPermissionDenied)
	}
	if active != nil && !active.Phase.Terminal() {
		return nil, fmt.Errorf("%w: settlement %s is already %s", models.ErrConflict, active.ID, active.Phase)
	}
	at := now.UTC()
	return &models.SettlementAttempt{
		IOUID:       iou.ID,
		Phase:       models.PhaseInitiated,
		Amount:      iou.Amount,
		Memo:        Memo(iou),
		InitiatedBy: p.Actor,
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

// FinalizeSettlement marks iou paid once attempt completed. A second call
// for an IOU that is already paid returns it unchanged with a nil Transition.
func FinalizeSettlement(iou *models.IOU, attempt *models.SettlementAttempt, now time.Time) (*models.IOU, *Transition, error) {
	if attempt.IOUID != iou.ID {
		return nil, nil, fmt.Errorf("%w: attempt %s belongs to IOU %s", models.ErrConflict, attempt.ID, attempt.IOUID)
	}
	if attempt.Phase != models.PhaseCompleted {
		return nil, nil, fmt.Errorf("%w: attempt %s is %s, not completed", models.ErrIllegalTransition, attempt.ID, attempt.Phase)
	}
	if iou.Status == models.StatusPaid {
		return iou.Clone(), nil, nil
	}
	return apply(iou, models.StatusPaid, now)
}

// AbortSettlement validates that attempt ended without payment. The IOU
// status is left alone; a failed payment never cancels the debt.
func AbortSettlement(iou *models.IOU, attempt *models.SettlementAttempt) error {
	if attempt.IOUID != iou.ID {
		return fmt.Errorf("%w: attempt %s belongs to IOU %s", models.ErrConflict, attempt.ID, attempt.IOUID)
	}
	if attempt.Phase != models.PhaseCancelled && attempt.Phase != models.PhaseErrored {
		return fmt.Errorf("%w: attempt %s is %s, cannot abort", models.ErrIllegalTransition, attempt.ID, attempt.Phase)
	}
	return nil
}

// Memo is the payment description sent to the provider.
func Memo(iou *models.IOU) string {
	memo := "IOU payment to " + iou.Counterparty
	if iou.Note != nil && *iou.Note != "" {
		memo += ": " + *iou.Note
	}
	return memo
}

func apply(iou *models.IOU, to models.Status, now time.Time) (*models.IOU, *Transition, error) {
	if !Allowed(iou.Status, to) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, iou.Status, to)
	}
	t := &Transition{From: iou.Status, To: to, Stamp: stamps[to]}
	next := iou.Clone()
	next.Status = to
	next.SetStampOnce(t.Stamp, now)
	return next, t, nil
}
