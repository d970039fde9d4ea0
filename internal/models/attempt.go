package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the progress of a settlement attempt through the provider handshake.
type Phase string

const (
	PhaseInitiated Phase = "initiated"
	PhaseApproved  Phase = "approved"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
	PhaseErrored   Phase = "errored"
)

// Terminal reports whether the attempt can no longer change phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseErrored
}

// ActivePhases are the non-terminal phases. At most one attempt per IOU may
// be in one of them.
var ActivePhases = []Phase{PhaseInitiated, PhaseApproved}

// SettlementAttempt is one try at paying an IOU through the payment provider.
type SettlementAttempt struct {
	// ID is the unique identifier for the attempt (UUID format).
	ID string

	IOUID string

	// ProviderPaymentID is assigned by the provider once it acknowledges the
	// payment. Empty until then; never reused across IOUs.
	ProviderPaymentID string

	Phase Phase

	// Amount and Memo are what was sent to the provider, captured when the
	// attempt began so later callbacks can be checked against them.
	Amount decimal.Decimal
	Memo   string

	// InitiatedBy is the user who started the attempt.
	InitiatedBy string

	// LastError explains why the attempt ended in PhaseErrored.
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the attempt.
func (a *SettlementAttempt) Clone() *SettlementAttempt {
	c := *a
	return &c
}
