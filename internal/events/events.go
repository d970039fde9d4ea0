// Package events defines the lifecycle notifications the ledger emits after
// a committed change. Delivery is best effort; publishers never roll back
// a commit.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Event types.
const (
	IOUCreated  = "iou.created"
	IOUAccepted = "iou.accepted"
	IOURejected = "iou.rejected"
	IOUPaid     = "iou.paid"

	// SettlementPrefix is joined with the attempt phase, e.g. "settlement.approved".
	SettlementPrefix = "settlement."
)

// Event is one committed change.
type Event struct {
	Type              string          `json:"type"`
	IOUID             string          `json:"iou_id"`
	Status            string          `json:"status,omitempty"`
	AttemptID         string          `json:"attempt_id,omitempty"`
	Phase             string          `json:"phase,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Actor             string          `json:"actor,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Log writes events to a structured logger. Used when no broker is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"type", e.Type,
		"iou_id", e.IOUID,
		"status", e.Status,
		"attempt_id", e.AttemptID,
		"phase", e.Phase,
	)
	return nil
}

func (Log) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every published event, in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}
