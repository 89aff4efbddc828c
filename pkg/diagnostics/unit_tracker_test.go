package diagnostics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/broadcast/broadcasttest"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/store"
)

var unit = store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "u001", DeviceType: "cooler"}

func newTracker() (*UnitTracker, *broadcasttest.Recorder, *time.Time) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := &broadcasttest.Recorder{}
	tr := NewUnitTracker(DefaultThresholds, sink, logger.NewMockLogger())
	tr.now = func() time.Time { return clock }
	return tr, sink, &clock
}

func TestUnitTrackerStates(t *testing.T) {
	tr, _, clock := newTracker()

	tr.RecordUnit(unit, 6, 0, 40*time.Millisecond, nil)
	tr.RecordUnit(unit, 5, 1, 60*time.Millisecond, nil)
	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(snap))
	}
	if snap[0].State != StateOperational || snap[0].AvgResponseMs != 50 {
		t.Errorf("unexpected status after partial failure: %+v", snap[0])
	}

	for i := 0; i < 3; i++ {
		tr.RecordUnit(unit, 0, 6, 0, errors.New("timeout"))
	}
	m, err := tr.GetMetrics(unit.String())
	if err != nil {
		t.Fatal(err)
	}
	if m.ConsecutiveErrors != 3 || m.FailedPolls != 3 || m.LastError != "timeout" {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if got := tr.State(m); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}

	*clock = clock.Add(10 * time.Minute)
	if got := tr.State(m); got != StateOffline {
		t.Errorf("expected offline state, got %s", got)
	}

	if _, err := tr.GetMetrics("c0101/d0101/u999"); err == nil {
		t.Error("expected an error for an untracked unit")
	}
}

func TestUnitTrackerPublishesChangesOnce(t *testing.T) {
	tr, sink, _ := newTracker()
	ctx := context.Background()

	tr.RecordUnit(unit, 6, 0, time.Millisecond, nil)
	if n := tr.PublishChanges(ctx); n != 1 {
		t.Fatalf("expected first state to be published, got %d", n)
	}
	if n := tr.PublishChanges(ctx); n != 0 {
		t.Errorf("unchanged state republished %d times", n)
	}

	tr.RecordUnit(unit, 0, 6, 0, errors.New("timeout"))
	tr.PublishChanges(ctx)
	if !sink.HasLog(broadcast.LevelWarn, "c0101/d0101/u001 warning") {
		t.Errorf("expected a warning event, got %+v", sink.Logs())
	}
}

// steppedInterval switches to a longer period after its first read
type steppedInterval struct {
	mu    sync.Mutex
	reads int
}

func (s *steppedInterval) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.reads == 1 {
		return 5 * time.Millisecond
	}
	return time.Hour
}

func (s *steppedInterval) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestUnitTrackerRunFollowsInterval(t *testing.T) {
	tr := NewUnitTracker(DefaultThresholds, &broadcasttest.Recorder{}, logger.NewMockLogger())
	source := &steppedInterval{}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	tr.Run(ctx, source)

	// One read at start, one after the first tick; the hour period then
	// holds the loop until ctx ends
	if got := source.Reads(); got != 2 {
		t.Errorf("expected the interval to be read twice, got %d", got)
	}
}
