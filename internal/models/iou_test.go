package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewIOU(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		params  NewIOUParams
		wantErr bool
		check   func(t *testing.T, iou *IOU)
	}{
		{
			name: "trims input and starts pending",
			params: NewIOUParams{
				OwnerID:      " alice ",
				Direction:    "outgoing",
				Counterparty: "  bob ",
				Amount:       decimal.NewFromInt(10),
				Note:         " dinner ",
			},
			check: func(t *testing.T, iou *IOU) {
				if iou.OwnerID != "alice" || iou.Counterparty != "bob" {
					t.Errorf("not trimmed: owner=%q counterparty=%q", iou.OwnerID, iou.Counterparty)
				}
				if iou.Status != StatusPending {
					t.Errorf("status = %s, want pending", iou.Status)
				}
				if iou.Note == nil || *iou.Note != "dinner" {
					t.Errorf("note = %v, want dinner", iou.Note)
				}
				if !iou.CreatedAt.Equal(now) {
					t.Errorf("created_at = %v, want %v", iou.CreatedAt, now)
				}
				if iou.AcceptedAt != nil || iou.PaidAt != nil || iou.CancelledAt != nil {
					t.Error("expected transition stamps to be unset")
				}
			},
		},
		{
			name: "blank optionals stored as absent",
			params: NewIOUParams{
				OwnerID:      "alice",
				Direction:    "incoming",
				Counterparty: "bob",
				Amount:       decimal.RequireFromString("3.5"),
				Note:         "   ",
				DueDate:      "  ",
			},
			check: func(t *testing.T, iou *IOU) {
				if iou.Note != nil {
					t.Errorf("note = %q, want nil", *iou.Note)
				}
				if iou.DueDate != nil {
					t.Errorf("due_date = %v, want nil", *iou.DueDate)
				}
			},
		},
		{
			name: "date-only due date",
			params: NewIOUParams{
				OwnerID: "alice", Direction: "outgoing", Counterparty: "bob",
				Amount: decimal.NewFromInt(1), DueDate: "2026-04-01",
			},
			check: func(t *testing.T, iou *IOU) {
				want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
				if iou.DueDate == nil || !iou.DueDate.Equal(want) {
					t.Errorf("due_date = %v, want %v", iou.DueDate, want)
				}
			},
		},
		{
			name:    "zero amount",
			params:  NewIOUParams{OwnerID: "alice", Direction: "outgoing", Counterparty: "bob", Amount: decimal.Zero},
			wantErr: true,
		},
		{
			name:    "negative amount",
			params:  NewIOUParams{OwnerID: "alice", Direction: "outgoing", Counterparty: "bob", Amount: decimal.NewFromInt(-5)},
			wantErr: true,
		},
		{
			name:    "blank counterparty",
			params:  NewIOUParams{OwnerID: "alice", Direction: "outgoing", Counterparty: "  ", Amount: decimal.NewFromInt(5)},
			wantErr: true,
		},
		{
			name:    "unknown direction",
			params:  NewIOUParams{OwnerID: "alice", Direction: "sideways", Counterparty: "bob", Amount: decimal.NewFromInt(5)},
			wantErr: true,
		},
		{
			name:    "missing owner",
			params:  NewIOUParams{Direction: "outgoing", Counterparty: "bob", Amount: decimal.NewFromInt(5)},
			wantErr: true,
		},
		{
			name: "garbage due date",
			params: NewIOUParams{
				OwnerID: "alice", Direction: "outgoing", Counterparty: "bob",
				Amount: decimal.NewFromInt(5), DueDate: "next tuesday",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iou, err := NewIOU(tt.params, now)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewIOU failed: %v", err)
			}
			if tt.check != nil {
				tt.check(t, iou)
			}
		})
	}
}

func TestSetStampOnce(t *testing.T) {
	iou := &IOU{Status: StatusPending}
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	iou.SetStampOnce(StampAccepted, first)
	iou.SetStampOnce(StampAccepted, first.Add(time.Hour))

	if !iou.AcceptedAt.Equal(first) {
		t.Errorf("accepted_at = %v, want %v", iou.AcceptedAt, first)
	}

	clone := iou.Clone()
	*clone.AcceptedAt = first.Add(48 * time.Hour)
	if !iou.AcceptedAt.Equal(first) {
		t.Error("Clone aliased AcceptedAt")
	}
}
