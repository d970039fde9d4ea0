package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/iouledger/internal/models"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newIOU(direction models.Direction, status models.Status) *models.IOU {
	note := "dinner"
	return &models.IOU{
		ID:           "iou-1",
		OwnerID:      "alice",
		Direction:    direction,
		Counterparty: "bob",
		Amount:       decimal.NewFromInt(10),
		Note:         &note,
		Status:       status,
		CreatedAt:    now.Add(-time.Hour),
	}
}

func TestAllowedGraph(t *testing.T) {
	all := []models.Status{models.StatusPending, models.StatusAccepted, models.StatusPaid, models.StatusCancelled}
	want := map[[2]models.Status]bool{
		{models.StatusPending, models.StatusAccepted}:   true,
		{models.StatusPending, models.StatusCancelled}:  true,
		{models.StatusPending, models.StatusPaid}:       true,
		{models.StatusAccepted, models.StatusPaid}:      true,
		{models.StatusAccepted, models.StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := Allowed(from, to); got != want[[2]models.Status{from, to}] {
				t.Errorf("Allowed(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name    string
		status  models.Status
		parties Parties
		wantErr error
	}{
		{"resolved counterparty", models.StatusPending, Parties{Actor: "bob-id", CounterpartyID: "bob-id"}, nil},
		{"unresolved counterparty, any non-owner", models.StatusPending, Parties{Actor: "carol"}, nil},
		{"owner cannot accept", models.StatusPending, Parties{Actor: "alice"}, models.ErrPermissionDenied},
		{"stranger when resolved", models.StatusPending, Parties{Actor: "carol", CounterpartyID: "bob-id"}, models.ErrPermissionDenied},
		{"already accepted", models.StatusAccepted, Parties{Actor: "bob-id", CounterpartyID: "bob-id"}, models.ErrIllegalTransition},
		{"paid", models.StatusPaid, Parties{Actor: "bob-id", CounterpartyID: "bob-id"}, models.ErrIllegalTransition},
		{"cancelled", models.StatusCancelled, Parties{Actor: "bob-id", CounterpartyID: "bob-id"}, models.ErrIllegalTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iou := newIOU(models.DirectionIncoming, tt.status)
			next, tr, err := Accept(iou, tt.parties, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Accept failed: %v", err)
			}
			if next.Status != models.StatusAccepted || next.AcceptedAt == nil || !next.AcceptedAt.Equal(now) {
				t.Errorf("got status=%s accepted_at=%v", next.Status, next.AcceptedAt)
			}
			if *tr != (Transition{From: models.StatusPending, To: models.StatusAccepted, Stamp: models.StampAccepted}) {
				t.Errorf("transition = %+v", *tr)
			}
			if iou.Status != models.StatusPending || iou.AcceptedAt != nil {
				t.Error("Accept mutated its input")
			}
		})
	}
}

func TestRejectAcceptedIsIllegal(t *testing.T) {
	iou := newIOU(models.DirectionOutgoing, models.StatusAccepted)
	_, _, err := Reject(iou, Parties{Actor: "alice"}, now)
	if !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if iou.Status != models.StatusAccepted || iou.CancelledAt != nil {
		t.Error("record changed after failed reject")
	}
}

func TestReject(t *testing.T) {
	for _, actor := range []string{"alice", "bob-id"} {
		t.Run(actor, func(t *testing.T) {
			iou := newIOU(models.DirectionOutgoing, models.StatusPending)
			next, tr, err := Reject(iou, Parties{Actor: actor, CounterpartyID: "bob-id"}, now)
			if err != nil {
				t.Fatalf("Reject failed: %v", err)
			}
			if next.Status != models.StatusCancelled || next.CancelledAt == nil {
				t.Errorf("got status=%s cancelled_at=%v", next.Status, next.CancelledAt)
			}
			if tr.Stamp != models.StampCancelled {
				t.Errorf("stamp = %q", tr.Stamp)
			}
		})
	}

	iou := newIOU(models.DirectionOutgoing, models.StatusPending)
	if _, _, err := Reject(iou, Parties{Actor: "mallory", CounterpartyID: "bob-id"}, now); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("stranger reject err = %v, want ErrPermissionDenied", err)
	}
}

func TestBeginSettlement(t *testing.T) {
	t.Run("outgoing debtor is owner", func(t *testing.T) {
		iou := newIOU(models.DirectionOutgoing, models.StatusPending)
		a, err := BeginSettlement(iou, Parties{Actor: "alice"}, nil, now)
		if err != nil {
			t.Fatalf("BeginSettlement failed: %v", err)
		}
		if a.Phase != models.PhaseInitiated || a.IOUID != iou.ID || !a.Amount.Equal(iou.Amount) {
			t.Errorf("attempt = %+v", a)
		}
		if a.Memo != "IOU payment to bob: dinner" {
			t.Errorf("memo = %q", a.Memo)
		}
		if a.ProviderPaymentID != "" {
			t.Error("provider payment id must be unset on a new attempt")
		}
	})

	t.Run("incoming debtor is counterparty", func(t *testing.T) {
		iou := newIOU(models.DirectionIncoming, models.StatusAccepted)
		if _, err := BeginSettlement(iou, Parties{Actor: "alice"}, nil, now); !errors.Is(err, models.ErrPermissionDenied) {
			t.Errorf("owner err = %v, want ErrPermissionDenied", err)
		}
		if _, err := BeginSettlement(iou, Parties{Actor: "bob-id", CounterpartyID: "bob-id"}, nil, now); err != nil {
			t.Errorf("counterparty err = %v", err)
		}
	})

	t.Run("single flight", func(t *testing.T) {
		iou := newIOU(models.DirectionOutgoing, models.StatusPending)
		active := &models.SettlementAttempt{ID: "a1", IOUID: iou.ID, Phase: models.PhaseApproved}
		if _, err := BeginSettlement(iou, Parties{Actor: "alice"}, active, now); !errors.Is(err, models.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
		active.Phase = models.PhaseErrored
		if _, err := BeginSettlement(iou, Parties{Actor: "alice"}, active, now); err != nil {
			t.Errorf("terminal attempt should not block: %v", err)
		}
	})

	for _, status := range []models.Status{models.StatusPaid, models.StatusCancelled} {
		t.Run("terminal "+string(status), func(t *testing.T) {
			iou := newIOU(models.DirectionOutgoing, status)
			if _, err := BeginSettlement(iou, Parties{Actor: "alice"}, nil, now); !errors.Is(err, models.ErrIllegalTransition) {
				t.Errorf("err = %v, want ErrIllegalTransition", err)
			}
		})
	}
}

func TestFinalizeSettlementIdempotent(t *testing.T) {
	iou := newIOU(models.DirectionOutgoing, models.StatusAccepted)
	attempt := &models.SettlementAttempt{ID: "a1", IOUID: iou.ID, Phase: models.PhaseCompleted}

	paid, tr, err := FinalizeSettlement(iou, attempt, now)
	if err != nil {
		t.Fatalf("FinalizeSettlement failed: %v", err)
	}
	if tr == nil || tr.From != models.StatusAccepted || tr.To != models.StatusPaid {
		t.Fatalf("transition = %+v", tr)
	}

	again, tr, err := FinalizeSettlement(paid, attempt, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second FinalizeSettlement failed: %v", err)
	}
	if tr != nil {
		t.Errorf("second call produced transition %+v", tr)
	}
	if !again.PaidAt.Equal(*paid.PaidAt) {
		t.Errorf("paid_at changed: %v -> %v", paid.PaidAt, again.PaidAt)
	}
}

func TestFinalizeSettlementRequiresCompletion(t *testing.T) {
	iou := newIOU(models.DirectionOutgoing, models.StatusPending)
	for _, phase := range []models.Phase{models.PhaseInitiated, models.PhaseApproved, models.PhaseCancelled, models.PhaseErrored} {
		attempt := &models.SettlementAttempt{ID: "a1", IOUID: iou.ID, Phase: phase}
		if _, _, err := FinalizeSettlement(iou, attempt, now); !errors.Is(err, models.ErrIllegalTransition) {
			t.Errorf("phase %s: err = %v, want ErrIllegalTransition", phase, err)
		}
	}

	cancelled := newIOU(models.DirectionOutgoing, models.StatusCancelled)
	attempt := &models.SettlementAttempt{ID: "a1", IOUID: cancelled.ID, Phase: models.PhaseCompleted}
	if _, _, err := FinalizeSettlement(cancelled, attempt, now); !errors.Is(err, models.ErrIllegalTransition) {
		t.Errorf("cancelled IOU: err = %v, want ErrIllegalTransition", err)
	}
}

func TestAbortSettlement(t *testing.T) {
	iou := newIOU(models.DirectionOutgoing, models.StatusAccepted)
	for _, phase := range []models.Phase{models.PhaseCancelled, models.PhaseErrored} {
		if err := AbortSettlement(iou, &models.SettlementAttempt{IOUID: iou.ID, Phase: phase}); err != nil {
			t.Errorf("phase %s: %v", phase, err)
		}
	}
	for _, phase := range []models.Phase{models.PhaseInitiated, models.PhaseApproved, models.PhaseCompleted} {
		if err := AbortSettlement(iou, &models.SettlementAttempt{IOUID: iou.ID, Phase: phase}); !errors.Is(err, models.ErrIllegalTransition) {
			t.Errorf("phase %s: err = %v, want ErrIllegalTransition", phase, err)
		}
	}
	if iou.Status != models.StatusAccepted {
		t.Error("abort changed IOU status")
	}
}

func TestMemoWithoutNote(t *testing.T) {
	iou := newIOU(models.DirectionOutgoing, models.StatusPending)
	iou.Note = nil
	if got := Memo(iou); got != "IOU payment to bob" {
		t.Errorf("Memo = %q", got)
	}
}
