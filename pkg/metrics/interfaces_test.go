package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shelter-engine/pkg/logger"
)

// TestMetricsCollectorInterface verifies that both implementations satisfy MetricsCollector
func TestMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*PrometheusMetrics)(nil)
	var _ MetricsCollector = (*NullMetrics)(nil)
}

// TestPrometheusMetricsRecording verifies that PrometheusMetrics records values
func TestPrometheusMetricsRecording(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ObserveTransaction("low", 100*time.Millisecond, nil)
	pm.ObserveTransaction("low", 200*time.Millisecond, nil)
	pm.ObserveTransaction("high", 50*time.Millisecond, errors.New("timeout"))
	pm.SetQueueDepth(4)
	pm.ObserveCycle(time.Second, 3, 1)
	pm.IncrementCyclesSkipped()
	pm.IncrementCommands("success")
	pm.IncrementCommands("fail")
	pm.IncrementBroadcasts(nil)
	pm.IncrementBroadcasts(errors.New("broker down"))
	pm.SetLinkStatus(false)

	output := pm.GetMetricsText()
	for _, want := range []string{
		`transactions_total{priority="low"} 2`,
		`transactions_total{priority="high"} 1`,
		"transaction_errors_total 1",
		"queue_depth 4",
		"polling_cycles_total 1",
		"polling_cycles_skipped_total 1",
		"polling_units_failed_total 1",
		`commands_total{status="fail"} 1`,
		"broadcast_errors_total 1",
		"link_status 0",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}

	stats := pm.GetStats()
	if stats.TransactionsTotal != 3 || stats.LinkOnline {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

// TestPrometheusMetricsHandler verifies the /metrics handler
func TestPrometheusMetricsHandler(t *testing.T) {
	pm := NewPrometheusMetrics()
	rec := httptest.NewRecorder()
	pm.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "link_status 1") {
		t.Error("Expected link to start online")
	}
}

// TestNullMetricsNoSideEffects verifies that NullMetrics calls are safe no-ops
func TestNullMetricsNoSideEffects(t *testing.T) {
	nm := NewNullMetrics()
	nm.ObserveTransaction("normal", time.Millisecond, nil)
	nm.SetQueueDepth(1)
	nm.ObserveCycle(time.Second, 1, 0)
	nm.IncrementCyclesSkipped()
	nm.IncrementCommands("success")
	nm.IncrementBroadcasts(nil)
	nm.SetLinkStatus(true)
}

// TestPerformanceTrackerSummary verifies interval-gated summaries
func TestPerformanceTrackerSummary(t *testing.T) {
	log := logger.NewMockLogger()
	pt := NewPerformanceTracker(time.Minute, log)
	now := time.Now()
	pt.now = func() time.Time { return now }
	pt.lastSummaryTime = now

	pt.RecordBatch(3, 1)
	if stats := pt.GetStats(); stats.SuccessfulReads != 3 || stats.ErrorReads != 1 || stats.SuccessRate != 75 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if pt.PrintSummaryIfNeeded() {
		t.Error("Summary must wait for the interval")
	}

	now = now.Add(time.Minute)
	if !pt.PrintSummaryIfNeeded() {
		t.Fatal("Expected summary after interval")
	}
	if !log.Contains("Success: 3, Errors: 1") {
		t.Errorf("Expected summary line, got %v", log.InfoMessages)
	}
	if pt.GetStats().SuccessfulReads != 0 {
		t.Error("Expected counters reset after summary")
	}
}
