// Package storagetest holds behavioural tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Store

// Run exercises the full storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"IOURoundTrip", testIOURoundTrip},
		{"IOUNotFound", testIOUNotFound},
		{"IOUDuplicate", testIOUDuplicate},
		{"StatusCompareAndSwap", testStatusCompareAndSwap},
		{"StampsAreWrittenOnce", testStampsAreWrittenOnce},
		{"IdleStatusCompareAndSwap", testIdleStatusCompareAndSwap},
		{"AmountPrecision", testAmountPrecision},
		{"ConcurrentStatusCAS", testConcurrentStatusCAS},
		{"AttemptSingleFlight", testAttemptSingleFlight},
		{"ConcurrentAttempts", testConcurrentAttempts},
		{"ProviderPaymentBinding", testProviderPaymentBinding},
		{"AttemptPhaseCompareAndSwap", testAttemptPhaseCompareAndSwap},
		{"LatestAttempt", testLatestAttempt},
		{"LatestAttemptSameInstant", testLatestAttemptSameInstant},
		{"ListAttemptsCreatedBefore", testListAttemptsCreatedBefore},
		{"Users", testUsers},
		{"UsernameMovesBetweenUsers", testUsernameMovesBetweenUsers},
		{"CallbackReplay", testCallbackReplay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newIOU(t *testing.T, s storage.Store) *models.IOU {
	t.Helper()
	note := "lunch"
	due := base.AddDate(0, 0, 7)
	iou := &models.IOU{
		OwnerID:      "owner-" + uuid.NewString()[:8],
		Direction:    models.DirectionOutgoing,
		Counterparty: "bob",
		Amount:       decimal.RequireFromString("12.50"),
		Note:         &note,
		DueDate:      &due,
		Status:       models.StatusPending,
		CreatedAt:    base,
	}
	if err := s.CreateIOU(context.Background(), iou); err != nil {
		t.Fatalf("CreateIOU failed: %v", err)
	}
	return iou
}

func newAttempt(t *testing.T, s storage.Store, iouID string, created time.Time) *models.SettlementAttempt {
	t.Helper()
	a := &models.SettlementAttempt{
		IOUID:       iouID,
		Phase:       models.PhaseInitiated,
		Amount:      decimal.RequireFromString("12.50"),
		Memo:        "IOU payment to bob: lunch",
		InitiatedBy: "alice",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := s.CreateAttempt(context.Background(), a); err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	return a
}

func testIOURoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	if iou.ID == "" {
		t.Fatal("Expected IOU ID to be generated")
	}

	got, err := s.GetIOU(ctx, iou.ID)
	if err != nil {
		t.Fatalf("GetIOU failed: %v", err)
	}
	if got.OwnerID != iou.OwnerID || got.Counterparty != "bob" || got.Direction != models.DirectionOutgoing {
		t.Errorf("got %+v", got)
	}
	if !got.Amount.Equal(iou.Amount) {
		t.Errorf("amount = %s, want %s", got.Amount, iou.Amount)
	}
	if got.Note == nil || *got.Note != "lunch" {
		t.Errorf("note = %v", got.Note)
	}
	if got.DueDate == nil || !got.DueDate.Equal(*iou.DueDate) {
		t.Errorf("due date = %v", got.DueDate)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, base)
	}
	if got.AcceptedAt != nil || got.PaidAt != nil || got.CancelledAt != nil {
		t.Error("Expected no transition stamps on a new IOU")
	}

	got.Counterparty = "mallory"
	again, _ := s.GetIOU(ctx, iou.ID)
	if again.Counterparty != "bob" {
		t.Error("store returned a shared reference")
	}
}

func testIOUNotFound(t *testing.T, s storage.Store) {
	if _, err := s.GetIOU(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	_, err := s.UpdateIOUStatus(context.Background(), "missing", models.StatusPending, models.StatusAccepted, models.StampAccepted, base)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("update err = %v, want ErrNotFound", err)
	}
}

func testIOUDuplicate(t *testing.T, s storage.Store) {
	iou := newIOU(t, s)
	dup := iou.Clone()
	if err := s.CreateIOU(context.Background(), dup); !errors.Is(err, models.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func testStatusCompareAndSwap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)

	accepted, err := s.UpdateIOUStatus(ctx, iou.ID, models.StatusPending, models.StatusAccepted, models.StampAccepted, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateIOUStatus failed: %v", err)
	}
	if accepted.Status != models.StatusAccepted || accepted.AcceptedAt == nil {
		t.Fatalf("got status=%s accepted_at=%v", accepted.Status, accepted.AcceptedAt)
	}

	_, err = s.UpdateIOUStatus(ctx, iou.ID, models.StatusPending, models.StatusCancelled, models.StampCancelled, base.Add(2*time.Minute))
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale CAS err = %v, want ErrConflict", err)
	}

	got, _ := s.GetIOU(ctx, iou.ID)
	if got.Status != models.StatusAccepted || got.CancelledAt != nil {
		t.Errorf("failed CAS changed the record: %+v", got)
	}
}

func testStampsAreWrittenOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	first := base.Add(time.Minute)

	if _, err := s.UpdateIOUStatus(ctx, iou.ID, models.StatusPending, models.StatusPaid, models.StampPaid, first); err != nil {
		t.Fatalf("UpdateIOUStatus failed: %v", err)
	}
	// A same-status CAS is how a duplicate finalize would look to the store.
	got, err := s.UpdateIOUStatus(ctx, iou.ID, models.StatusPaid, models.StatusPaid, models.StampPaid, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("second UpdateIOUStatus failed: %v", err)
	}
	if got.PaidAt == nil || !got.PaidAt.Equal(first) {
		t.Errorf("paid_at = %v, want %v", got.PaidAt, first)
	}
}

func testIdleStatusCompareAndSwap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	a := newAttempt(t, s, iou.ID, base)

	for _, phase := range []models.Phase{models.PhaseInitiated, models.PhaseApproved} {
		if phase == models.PhaseApproved {
			if _, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseApproved, ""); err != nil {
				t.Fatalf("UpdateAttemptPhase failed: %v", err)
			}
		}
		_, err := s.UpdateIOUStatusIfIdle(ctx, iou.ID, models.StatusPending, models.StatusCancelled, models.StampCancelled, base.Add(time.Minute))
		if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("%s attempt: err = %v, want ErrConflict", phase, err)
		}
		got, _ := s.GetIOU(ctx, iou.ID)
		if got.Status != models.StatusPending || got.CancelledAt != nil {
			t.Fatalf("%s attempt: failed CAS changed the record: %+v", phase, got)
		}
	}

	if _, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseApproved, models.PhaseCancelled, ""); err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}
	cancelled, err := s.UpdateIOUStatusIfIdle(ctx, iou.ID, models.StatusPending, models.StatusCancelled, models.StampCancelled, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("UpdateIOUStatusIfIdle failed: %v", err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("got status=%s cancelled_at=%v", cancelled.Status, cancelled.CancelledAt)
	}

	_, err = s.UpdateIOUStatusIfIdle(ctx, iou.ID, models.StatusPending, models.StatusCancelled, models.StampCancelled, base)
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("stale CAS err = %v, want ErrConflict", err)
	}
	_, err = s.UpdateIOUStatusIfIdle(ctx, "missing", models.StatusPending, models.StatusCancelled, models.StampCancelled, base)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing iou err = %v, want ErrNotFound", err)
	}
}

func testAmountPrecision(t *testing.T, s storage.Store) {
	ctx := context.Background()
	amount := decimal.RequireFromString("0.0000000001")
	iou := &models.IOU{
		OwnerID:      "alice",
		Direction:    models.DirectionIncoming,
		Counterparty: "bob",
		Amount:       amount,
		Status:       models.StatusPending,
		CreatedAt:    base,
	}
	if err := s.CreateIOU(ctx, iou); err != nil {
		t.Fatalf("CreateIOU failed: %v", err)
	}
	got, err := s.GetIOU(ctx, iou.ID)
	if err != nil {
		t.Fatalf("GetIOU failed: %v", err)
	}
	if !got.Amount.Equal(amount) {
		t.Errorf("amount = %s, want %s", got.Amount, amount)
	}
}

func testConcurrentStatusCAS(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateIOUStatus(ctx, iou.ID, models.StatusPending, models.StatusAccepted, models.StampAccepted, base.Add(time.Duration(i)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Errorf("successes=%d conflicts=%d, want 1 and %d", successes, conflicts, n-1)
	}
}

func testAttemptSingleFlight(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	first := newAttempt(t, s, iou.ID, base)

	second := &models.SettlementAttempt{IOUID: iou.ID, Phase: models.PhaseInitiated, Amount: iou.Amount, CreatedAt: base, UpdatedAt: base}
	if err := s.CreateAttempt(ctx, second); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second attempt err = %v, want ErrConflict", err)
	}

	active, err := s.GetActiveAttempt(ctx, iou.ID)
	if err != nil || active.ID != first.ID {
		t.Fatalf("GetActiveAttempt = %v, %v", active, err)
	}

	if _, err := s.UpdateAttemptPhase(ctx, first.ID, models.PhaseInitiated, models.PhaseErrored, "provider down"); err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}
	if _, err := s.GetActiveAttempt(ctx, iou.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("active after error = %v, want ErrNotFound", err)
	}

	third := &models.SettlementAttempt{IOUID: iou.ID, Phase: models.PhaseInitiated, Amount: iou.Amount, CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)}
	if err := s.CreateAttempt(ctx, third); err != nil {
		t.Errorf("retry after terminal attempt failed: %v", err)
	}
}

func testConcurrentAttempts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.CreateAttempt(ctx, &models.SettlementAttempt{
				IOUID: iou.ID, Phase: models.PhaseInitiated, Amount: iou.Amount,
				Memo: "m", InitiatedBy: "alice", CreatedAt: base, UpdatedAt: base,
			})
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, models.ErrConflict):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d attempts created, want exactly 1", ok)
	}
}

func testProviderPaymentBinding(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	a := newAttempt(t, s, iou.ID, base)

	bound, err := s.BindProviderPaymentID(ctx, a.ID, "pay_1")
	if err != nil {
		t.Fatalf("BindProviderPaymentID failed: %v", err)
	}
	if bound.ProviderPaymentID != "pay_1" {
		t.Errorf("provider id = %q", bound.ProviderPaymentID)
	}
	if _, err := s.BindProviderPaymentID(ctx, a.ID, "pay_1"); err != nil {
		t.Errorf("rebinding the same ID: %v", err)
	}
	if _, err := s.BindProviderPaymentID(ctx, a.ID, "pay_2"); !errors.Is(err, models.ErrConflict) {
		t.Errorf("rebinding a different ID err = %v, want ErrConflict", err)
	}

	byProvider, err := s.GetAttemptByProviderID(ctx, "pay_1")
	if err != nil || byProvider.ID != a.ID {
		t.Fatalf("GetAttemptByProviderID = %v, %v", byProvider, err)
	}
	if _, err := s.GetAttemptByProviderID(ctx, "pay_unknown"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown provider id err = %v, want ErrNotFound", err)
	}

	other := newIOU(t, s)
	b := newAttempt(t, s, other.ID, base)
	if _, err := s.BindProviderPaymentID(ctx, b.ID, "pay_1"); !errors.Is(err, models.ErrConflict) {
		t.Errorf("reusing provider id across IOUs err = %v, want ErrConflict", err)
	}
}

func testAttemptPhaseCompareAndSwap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	a := newAttempt(t, s, iou.ID, base)

	approved, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseApproved, "")
	if err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}
	if approved.Phase != models.PhaseApproved || approved.LastError != "" {
		t.Errorf("got %+v", approved)
	}

	if _, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseCancelled, ""); !errors.Is(err, models.ErrConflict) {
		t.Errorf("stale phase CAS err = %v, want ErrConflict", err)
	}

	errored, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseApproved, models.PhaseErrored, "insufficient funds")
	if err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}
	if errored.LastError != "insufficient funds" {
		t.Errorf("last_error = %q", errored.LastError)
	}
	if !errored.Amount.Equal(a.Amount) || errored.Memo != a.Memo {
		t.Errorf("CAS changed attempt payload: %+v", errored)
	}

	if _, err := s.UpdateAttemptPhase(ctx, "missing", models.PhaseInitiated, models.PhaseApproved, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing attempt err = %v, want ErrNotFound", err)
	}
}

func testLatestAttempt(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)
	if _, err := s.GetLatestAttempt(ctx, iou.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("no attempts err = %v, want ErrNotFound", err)
	}

	first := newAttempt(t, s, iou.ID, base)
	if _, err := s.UpdateAttemptPhase(ctx, first.ID, models.PhaseInitiated, models.PhaseCancelled, ""); err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}
	second := newAttempt(t, s, iou.ID, base.Add(time.Minute))

	latest, err := s.GetLatestAttempt(ctx, iou.ID)
	if err != nil {
		t.Fatalf("GetLatestAttempt failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}
}

func testLatestAttemptSameInstant(t *testing.T, s storage.Store) {
	ctx := context.Background()
	iou := newIOU(t, s)

	var last string
	for i := 0; i < 5; i++ {
		a := newAttempt(t, s, iou.ID, base)
		if _, err := s.UpdateAttemptPhase(ctx, a.ID, models.PhaseInitiated, models.PhaseErrored, ""); err != nil {
			t.Fatalf("UpdateAttemptPhase failed: %v", err)
		}
		last = a.ID
	}

	latest, err := s.GetLatestAttempt(ctx, iou.ID)
	if err != nil {
		t.Fatalf("GetLatestAttempt failed: %v", err)
	}
	if latest.ID != last {
		t.Errorf("latest = %s, want the last inserted %s", latest.ID, last)
	}
}

func testListAttemptsCreatedBefore(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var old []string
	for i := 0; i < 3; i++ {
		iou := newIOU(t, s)
		a := newAttempt(t, s, iou.ID, base.Add(time.Duration(i)*time.Minute))
		old = append(old, a.ID)
	}
	fresh := newIOU(t, s)
	newAttempt(t, s, fresh.ID, base.Add(time.Hour))

	approvedIOU := newIOU(t, s)
	approved := newAttempt(t, s, approvedIOU.ID, base)
	if _, err := s.UpdateAttemptPhase(ctx, approved.ID, models.PhaseInitiated, models.PhaseApproved, ""); err != nil {
		t.Fatalf("UpdateAttemptPhase failed: %v", err)
	}

	got, err := s.ListAttemptsCreatedBefore(ctx, models.PhaseInitiated, base.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("ListAttemptsCreatedBefore failed: %v", err)
	}
	if len(got) != len(old) {
		t.Fatalf("got %d attempts, want %d", len(got), len(old))
	}
	for i, a := range got {
		if a.ID != old[i] {
			t.Errorf("attempt %d = %s, want %s (oldest first)", i, a.ID, old[i])
		}
	}

	limited, err := s.ListAttemptsCreatedBefore(ctx, models.PhaseInitiated, base.Add(30*time.Minute), 2)
	if err != nil {
		t.Fatalf("ListAttemptsCreatedBefore failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}

	if err := s.UpsertUser(ctx, &models.User{ID: "u1", Username: "Bob"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	got, err := s.GetUserByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("resolved %s, want u1", got.ID)
	}

	if err := s.UpsertUser(ctx, &models.User{ID: "u1", Username: "robert"}); err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, "bob"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("old username still resolves: %v", err)
	}
	u, err := s.GetUser(ctx, "u1")
	if err != nil || u.Username != "robert" {
		t.Errorf("GetUser = %v, %v", u, err)
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.Before(u.CreatedAt) {
		t.Errorf("timestamps = %v / %v", u.CreatedAt, u.UpdatedAt)
	}

	if err := s.UpsertUser(ctx, &models.User{ID: "u2"}); err != nil {
		t.Fatalf("UpsertUser without username failed: %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("empty username resolved: %v", err)
	}
}

func testUsernameMovesBetweenUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.UpsertUser(ctx, &models.User{ID: "old", Username: "Bob"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := s.UpsertUser(ctx, &models.User{ID: "new", Username: "bob"}); err != nil {
		t.Fatalf("UpsertUser with a taken handle failed: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "BOB")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != "new" {
		t.Errorf("resolved %s, want the latest holder", got.ID)
	}
	old, err := s.GetUser(ctx, "old")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if old.Username != "" {
		t.Errorf("previous holder kept username %q", old.Username)
	}

	if err := s.UpsertUser(ctx, &models.User{ID: "new", Username: "bob"}); err != nil {
		t.Errorf("re-upserting the holder failed: %v", err)
	}
}

func testCallbackReplay(t *testing.T, s storage.Store) {
	ctx := context.Background()
	receipt := &models.CallbackReceipt{
		Fingerprint:       fmt.Sprintf("fp-%s", uuid.NewString()),
		Kind:              models.CallbackCompletion,
		ProviderPaymentID: "pay_1",
		IOUID:             "iou-1",
		Outcome:           "ok",
		Phase:             models.PhaseCompleted,
		ReceivedAt:        base,
	}

	stored, replayed, err := s.RecordCallback(ctx, receipt)
	if err != nil {
		t.Fatalf("RecordCallback failed: %v", err)
	}
	if replayed {
		t.Error("first receipt reported as replay")
	}
	if stored.Outcome != "ok" || stored.Phase != models.PhaseCompleted {
		t.Errorf("stored = %+v", stored)
	}

	again := *receipt
	again.Outcome = "conflict"
	again.ReceivedAt = base.Add(time.Hour)
	stored, replayed, err = s.RecordCallback(ctx, &again)
	if err != nil {
		t.Fatalf("second RecordCallback failed: %v", err)
	}
	if !replayed {
		t.Error("duplicate receipt not reported as replay")
	}
	if stored.Outcome != "ok" || !stored.ReceivedAt.Equal(base) {
		t.Errorf("replay overwrote receipt: %+v", stored)
	}

	got, err := s.GetCallback(ctx, receipt.Fingerprint)
	if err != nil || got.Kind != models.CallbackCompletion {
		t.Errorf("GetCallback = %v, %v", got, err)
	}
	if _, err := s.GetCallback(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing callback err = %v, want ErrNotFound", err)
	}
}
