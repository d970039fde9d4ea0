package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Direction says which side of the IOU owes money.
type Direction string

const (
	// DirectionOutgoing means the owner owes the counterparty.
	DirectionOutgoing Direction = "outgoing"
	// DirectionIncoming means the counterparty owes the owner.
	DirectionIncoming Direction = "incoming"
)

// Status is the lifecycle state of an IOU.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// TimestampField names the stamp a status transition sets.
type TimestampField string

const (
	StampNone      TimestampField = ""
	StampAccepted  TimestampField = "accepted_at"
	StampPaid      TimestampField = "paid_at"
	StampCancelled TimestampField = "cancelled_at"
)

// IOU is a promise to pay between the owner and a counterparty.
//
// Everything except Status and the transition stamps is immutable once the
// record has been created. The stamps are set at most once; a nil stamp means
// the transition never happened.
type IOU struct {
	// ID is the unique identifier for the IOU (UUID format).
	ID string

	// OwnerID is the authenticated user who recorded the IOU.
	OwnerID string

	Direction Direction

	// Counterparty is a username, user ID or free-text name of the other party.
	Counterparty string

	// Amount is always strictly positive.
	Amount decimal.Decimal

	Note    *string
	DueDate *time.Time

	Status Status

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
}

// OwnerIsDebtor reports whether the owner is the paying side.
func (i *IOU) OwnerIsDebtor() bool {
	return i.Direction == DirectionOutgoing
}

// Clone returns a deep copy so callers can mutate without aliasing stamps.
func (i *IOU) Clone() *IOU {
	c := *i
	c.Note = cloneString(i.Note)
	c.DueDate = cloneTime(i.DueDate)
	c.AcceptedAt = cloneTime(i.AcceptedAt)
	c.PaidAt = cloneTime(i.PaidAt)
	c.CancelledAt = cloneTime(i.CancelledAt)
	return &c
}

// Stamp returns the stamp stored under field.
func (i *IOU) Stamp(field TimestampField) *time.Time {
	switch field {
	case StampAccepted:
		return i.AcceptedAt
	case StampPaid:
		return i.PaidAt
	case StampCancelled:
		return i.CancelledAt
	}
	return nil
}

// SetStampOnce sets field to at unless it is already set.
func (i *IOU) SetStampOnce(field TimestampField, at time.Time) {
	if i.Stamp(field) != nil {
		return
	}
	t := at.UTC()
	switch field {
	case StampAccepted:
		i.AcceptedAt = &t
	case StampPaid:
		i.PaidAt = &t
	case StampCancelled:
		i.CancelledAt = &t
	}
}

// NewIOUParams holds raw creation input before trimming and validation.
type NewIOUParams struct {
	OwnerID      string
	Direction    string
	Counterparty string
	Amount       decimal.Decimal
	Note         string
	DueDate      string
}

type newIOUInput struct {
	OwnerID      string `validate:"required"`
	Direction    string `validate:"required,oneof=incoming outgoing"`
	Counterparty string `validate:"required,max=128"`
	Note         string `validate:"max=500"`
}

var validate = validator.New()

// dueDateLayouts are accepted for DueDate, most specific first.
var dueDateLayouts = []string{time.RFC3339, "2006-01-02"}

// NewIOU validates params and builds a pending IOU. It does not assign an ID
// or persist anything.
func NewIOU(p NewIOUParams, now time.Time) (*IOU, error) {
	in := newIOUInput{
		OwnerID:      strings.TrimSpace(p.OwnerID),
		Direction:    strings.TrimSpace(p.Direction),
		Counterparty: strings.TrimSpace(p.Counterparty),
		Note:         strings.TrimSpace(p.Note),
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	iou := &IOU{
		OwnerID:      in.OwnerID,
		Direction:    Direction(in.Direction),
		Counterparty: in.Counterparty,
		Amount:       p.Amount,
		Status:       StatusPending,
		CreatedAt:    now.UTC(),
	}
	if in.Note != "" {
		iou.Note = &in.Note
	}
	if due := strings.TrimSpace(p.DueDate); due != "" {
		t, err := parseDueDate(due)
		if err != nil {
			return nil, err
		}
		iou.DueDate = &t
	}
	return iou, nil
}

func parseDueDate(s string) (time.Time, error) {
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: due_date %q is not a date", ErrValidation, s)
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", strings.ToLower(fe.Field()), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
