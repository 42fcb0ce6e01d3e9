package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAttempt(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveAttempt("Security", "success", 150*time.Millisecond)
	m.ObserveAttempt("Security", "retryable", time.Second)
	m.ObserveAttempt("Security", "success", time.Second)

	if got := testutil.ToFloat64(m.StepAttempts.WithLabelValues("Security", "success")); got != 2 {
		t.Errorf("expected 2 successful attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.StepAttempts.WithLabelValues("Security", "retryable")); got != 1 {
		t.Errorf("expected 1 retryable attempt, got %v", got)
	}
}

func TestObserveFinished(t *testing.T) {
	_, m := NewRegistry()

	m.IncSubmitted()
	m.ObserveFinished("COMPLETED", "BLOCK", 3*time.Second)
	m.ObserveFinished("FAILED", "", 0)

	if got := testutil.ToFloat64(m.ExecutionsSubmitted); got != 1 {
		t.Errorf("expected 1 submitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.Recommendations.WithLabelValues("BLOCK")); got != 1 {
		t.Errorf("expected 1 BLOCK recommendation, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExecutionsFinished.WithLabelValues("FAILED")); got != 1 {
		t.Errorf("expected 1 failed execution, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt("Security", "success", time.Second)
	m.IncRetry("Security")
	m.IncSubmitted()
	m.IncPolicyRejection()
	m.ObserveFinished("COMPLETED", "APPROVE", time.Second)
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.IncRetry("CodeQuality")

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `prreview_step_retries_total{step="CodeQuality"} 1`) {
		t.Errorf("retry counter missing from exposition:\n%s", rec.Body.String())
	}
}
