// Package diagnostics keeps per-unit polling statistics and derives a
// diagnostic state from them.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/store"
)

// Diagnostic states
const (
	StateOperational = "operational"
	StateWarning     = "warning"
	StateError       = "error"
	StateOffline     = "offline"
)

// Thresholds decide the diagnostic state of a unit
type Thresholds struct {
	WarningSuccessRate       float64       // percent
	ErrorSuccessRate         float64       // percent
	WarningConsecutiveErrors int           // failed cycles in a row
	ErrorConsecutiveErrors   int           // failed cycles in a row
	OfflineTimeout           time.Duration // without a successful cycle
}

// DefaultThresholds are used when none are configured
var DefaultThresholds = Thresholds{
	WarningSuccessRate:       95,
	ErrorSuccessRate:         50,
	WarningConsecutiveErrors: 1,
	ErrorConsecutiveErrors:   3,
	OfflineTimeout:           5 * time.Minute,
}

// UnitMetrics are the statistics of one unit. A cycle counts as failed
// when every action of the unit failed.
type UnitMetrics struct {
	LastPollTime      time.Time
	LastSuccessTime   time.Time
	ConsecutiveErrors int
	TotalPolls        int64
	SuccessfulPolls   int64
	FailedPolls       int64
	ActionsFailed     int64
	TotalResponseTime time.Duration
	LastError         string
	LastErrorTime     time.Time
}

// UnitStatus is the exported view of one unit
type UnitStatus struct {
	Unit              string  `json:"unit"`
	State             string  `json:"state"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseMs     int64   `json:"avg_response_ms"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	LastSuccess       string  `json:"last_success,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
}

// UnitTracker collects polling outcomes per unit. It implements the
// scheduler's unit observer.
type UnitTracker struct {
	thresholds Thresholds
	sink       broadcast.Sink
	log        logger.ILogger
	now        func() time.Time

	mu        sync.RWMutex
	units     map[string]*UnitMetrics
	lastState map[string]string
}

// NewUnitTracker creates a tracker
func NewUnitTracker(thresholds Thresholds, sink broadcast.Sink, log logger.ILogger) *UnitTracker {
	return &UnitTracker{
		thresholds: thresholds,
		sink:       sink,
		log:        log,
		now:        time.Now,
		units:      make(map[string]*UnitMetrics),
		lastState:  make(map[string]string),
	}
}

// RecordUnit records the outcome of one unit in one cycle
func (t *UnitTracker) RecordUnit(ref store.UnitRef, ok, failed int, elapsed time.Duration, lastErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ref.String()
	m, exists := t.units[key]
	if !exists {
		m = &UnitMetrics{}
		t.units[key] = m
	}

	now := t.now()
	m.LastPollTime = now
	m.TotalPolls++
	m.ActionsFailed += int64(failed)

	if ok == 0 && failed > 0 {
		m.ConsecutiveErrors++
		m.FailedPolls++
		m.LastError = fmt.Sprint(lastErr)
		m.LastErrorTime = now
		return
	}
	m.ConsecutiveErrors = 0
	m.SuccessfulPolls++
	m.LastSuccessTime = now
	m.TotalResponseTime += elapsed
}

// State derives the diagnostic state of a unit from its metrics
func (t *UnitTracker) State(m *UnitMetrics) string {
	now := t.now()
	switch {
	case !m.LastSuccessTime.IsZero():
		if now.Sub(m.LastSuccessTime) > t.thresholds.OfflineTimeout {
			return StateOffline
		}
	case m.TotalPolls > 0 && now.Sub(m.LastPollTime) > t.thresholds.OfflineTimeout:
		return StateOffline
	}

	rate := successRate(m)
	if rate < t.thresholds.ErrorSuccessRate || m.ConsecutiveErrors >= t.thresholds.ErrorConsecutiveErrors {
		return StateError
	}
	if rate < t.thresholds.WarningSuccessRate || m.ConsecutiveErrors >= t.thresholds.WarningConsecutiveErrors {
		return StateWarning
	}
	return StateOperational
}

func successRate(m *UnitMetrics) float64 {
	if m.TotalPolls == 0 {
		return 100
	}
	return float64(m.SuccessfulPolls) / float64(m.TotalPolls) * 100
}

// Snapshot returns the status of every tracked unit, sorted by unit
func (t *UnitTracker) Snapshot() []UnitStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]UnitStatus, 0, len(t.units))
	for key, m := range t.units {
		out = append(out, t.status(key, m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}

func (t *UnitTracker) status(key string, m *UnitMetrics) UnitStatus {
	s := UnitStatus{
		Unit:              key,
		State:             t.State(m),
		SuccessRate:       successRate(m),
		ConsecutiveErrors: m.ConsecutiveErrors,
		LastError:         m.LastError,
	}
	if m.SuccessfulPolls > 0 {
		s.AvgResponseMs = m.TotalResponseTime.Milliseconds() / m.SuccessfulPolls
	}
	if !m.LastSuccessTime.IsZero() {
		s.LastSuccess = m.LastSuccessTime.Format(time.RFC3339)
	}
	return s
}

// GetMetrics returns a copy of the metrics of one unit
func (t *UnitTracker) GetMetrics(unit string) (*UnitMetrics, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, exists := t.units[unit]
	if !exists {
		return nil, fmt.Errorf("unit %s not tracked", unit)
	}
	metricsCopy := *m
	return &metricsCopy, nil
}

// PublishChanges broadcasts a log event for every unit whose state changed
// since the last call. It returns the number of events published.
func (t *UnitTracker) PublishChanges(ctx context.Context) int {
	t.mu.Lock()
	type change struct {
		status UnitStatus
		from   string
	}
	var changes []change
	for key, m := range t.units {
		s := t.status(key, m)
		if prev := t.lastState[key]; prev != s.State {
			changes = append(changes, change{status: s, from: prev})
			t.lastState[key] = s.State
		}
	}
	t.mu.Unlock()

	published := 0
	for _, c := range changes {
		level := broadcast.LevelInfo
		switch c.status.State {
		case StateWarning:
			level = broadcast.LevelWarn
		case StateError, StateOffline:
			level = broadcast.LevelError
		}
		if c.from != "" {
			t.log.LogInfo("📊 Unit %s state changed: %s → %s", c.status.Unit, c.from, c.status.State)
		}
		err := t.sink.PublishLog(ctx, broadcast.NewLogEvent(level, "diagnostics",
			fmt.Sprintf("unit %s %s", c.status.Unit, c.status.State), map[string]interface{}{
				"success_rate":       c.status.SuccessRate,
				"consecutive_errors": c.status.ConsecutiveErrors,
				"last_error":         c.status.LastError,
			}))
		if err != nil {
			t.log.LogWarn("⚠️ Error publishing unit diagnostic for %s: %v", c.status.Unit, err)
			continue
		}
		published++
	}
	return published
}

// IntervalSource provides the current publication period
type IntervalSource interface {
	Interval() time.Duration
}

// Run publishes state changes every interval until ctx is done. The period
// is re-read from source after each publication.
func (t *UnitTracker) Run(ctx context.Context, source IntervalSource) {
	interval := source.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.LogInfo("📊 Unit diagnostics loop started")
	for {
		select {
		case <-ctx.Done():
			t.log.LogDebug("📊 Unit diagnostics loop stopped")
			return
		case <-ticker.C:
			t.PublishChanges(ctx)
			if next := source.Interval(); next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
