package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExternalCallLabelsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordExternalCall("speech", "submit", nil, 0.2)
	m.RecordExternalCall("speech", "submit", errors.New("quota"), 0.1)
	m.RecordExternalCall("speech", "submit", errors.New("quota"), 0.1)

	if got := testutil.ToFloat64(m.ExternalCalls.WithLabelValues("speech", "submit", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExternalCalls.WithLabelValues("speech", "submit", "error")); got != 2 {
		t.Fatalf("expected 2 errors, got %v", got)
	}
}

func TestObserveCallReturnsValueAndError(t *testing.T) {
	out, err := ObserveCall("blob", "get", func() (string, error) {
		return "ok", nil
	})
	if err != nil || out != "ok" {
		t.Fatalf("expected ok/nil, got %q/%v", out, err)
	}

	boom := errors.New("boom")
	if errObserve := ObserveErr("blob", "delete", func() error { return boom }); !errors.Is(errObserve, boom) {
		t.Fatalf("expected boom, got %v", errObserve)
	}
}

func TestRecordHTTPRequestDefaultsRoute(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordHTTPRequest("GET", "", 404, 0.01)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected unmatched route counter 1, got %v", got)
	}
}
