package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/mmynk/iouledger/internal/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), events.Event{
		Type:       events.IOUPaid,
		IOUID:      "iou-1",
		Status:     "paid",
		Amount:     decimal.RequireFromString("10.25"),
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "iou-1" {
		t.Errorf("key = %q, want iou-1", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != events.IOUPaid {
		t.Errorf("headers = %+v", msg.Headers)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("time = %v", msg.Time)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded["type"] != events.IOUPaid || decoded["amount"] != "10.25" {
		t.Errorf("decoded = %v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: err=%v closed=%v", err, w.closed)
	}
}
