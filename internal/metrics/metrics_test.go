package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Transition("paid")
	m.Callback("completion", "ok")
	m.Expired(3)
	m.ObserveRPC("/iou.v1.IOUService/CreateIOU", "ok", time.Millisecond)
	if m.Registry() != nil {
		t.Error("nil Metrics returned a registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("paid")
	m.Transition("paid")
	m.Callback("completion", "amount_mismatch")
	m.Expired(2)
	m.Expired(0)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("paid")); got != 2 {
		t.Errorf("iou_transitions_total{to=paid} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.callbacks.WithLabelValues("completion", "amount_mismatch")); got != 1 {
		t.Errorf("settlement_callbacks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.expired); got != 2 {
		t.Errorf("settlement_attempts_expired_total = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRPC("/iou.v1.IOUService/AcceptIOU", "aborted", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `rpc_duration_seconds_count{code="aborted",procedure="/iou.v1.IOUService/AcceptIOU"} 1`) {
		t.Errorf("histogram missing from exposition:\n%s", body)
	}
}
