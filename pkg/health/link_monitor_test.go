package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/broadcast/broadcasttest"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/metrics"
)

func TestLinkMonitorGracePeriod(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := &broadcasttest.Recorder{}
	pm := metrics.NewPrometheusMetrics()
	m := NewLinkMonitor(10*time.Second, sink, pm, logger.NewMockLogger())
	m.SetClock(func() time.Time { return clock })

	linkErr := errors.New("link down")
	m.RecordFailure(linkErr)
	clock = clock.Add(5 * time.Second)
	m.RecordFailure(linkErr)
	if !m.IsOnline() {
		t.Fatal("link should stay online within the grace period")
	}

	clock = clock.Add(6 * time.Second)
	m.RecordFailure(linkErr)
	if m.IsOnline() {
		t.Fatal("link should be offline after the grace period")
	}
	if pm.GetStats().LinkOnline {
		t.Error("metrics should report the link offline")
	}

	// Further failures do not repeat the transition
	m.RecordFailure(linkErr)
	if len(m.events) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(m.events))
	}

	m.RecordSuccess()
	if !m.IsOnline() {
		t.Fatal("success should bring the link back online")
	}
	status := m.Status()
	if status.ConsecutiveErrors != 0 || status.Failures != 4 || status.Successes != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.LastError != "link down" {
		t.Errorf("expected last error to be kept, got %q", status.LastError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for len(sink.Logs()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if !sink.HasLog(broadcast.LevelError, "link offline") {
		t.Error("expected an offline event")
	}
	if !sink.HasLog(broadcast.LevelInfo, "link online") {
		t.Error("expected an online event")
	}
}

func TestLinkMonitorSuccessWhileOnlineIsQuiet(t *testing.T) {
	m := NewLinkMonitor(time.Second, broadcast.NullSink{}, nil, logger.NewMockLogger())
	m.RecordSuccess()
	m.RecordSuccess()

	if len(m.events) != 0 {
		t.Errorf("expected no transition events, got %d", len(m.events))
	}
	if m.GetSuccessCount() != 2 || m.GetErrorCount() != 0 {
		t.Errorf("unexpected counters: %d ok, %d failed", m.GetSuccessCount(), m.GetErrorCount())
	}
	if m.GetLastSuccessTime().IsZero() {
		t.Error("last success time should be set")
	}
}
