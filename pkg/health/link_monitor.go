// Package health tracks the online/offline state of the shared field link.
package health

import (
	"context"
	"sync"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/metrics"
	"shelter-engine/pkg/recovery"
)

const service = "link"

// LinkStatus is a snapshot of the link monitor
type LinkStatus struct {
	Online            bool      `json:"online"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastSuccess       time.Time `json:"last_success"`
	LastError         string    `json:"last_error,omitempty"`
	Successes         int64     `json:"successes"`
	Failures          int64     `json:"failures"`
}

// LinkMonitor observes every transaction outcome of the queue. A run of
// link failures marks the link offline once it outlasts the grace period;
// the first success after that marks it online again. Transitions are
// broadcast as log events by Run.
type LinkMonitor struct {
	errors  *recovery.ErrorRecoveryManager
	sink    broadcast.Sink
	metrics metrics.MetricsCollector
	log     logger.ILogger
	events  chan broadcast.LogEvent

	mu          sync.RWMutex
	lastSuccess time.Time
	lastError   string
	successes   int64
	failures    int64
	now         func() time.Time
}

// NewLinkMonitor creates a monitor with the given grace period
func NewLinkMonitor(gracePeriod time.Duration, sink broadcast.Sink, m metrics.MetricsCollector, log logger.ILogger) *LinkMonitor {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	return &LinkMonitor{
		errors:  recovery.NewErrorRecoveryManager(gracePeriod),
		sink:    sink,
		metrics: m,
		log:     log,
		events:  make(chan broadcast.LogEvent, 16),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests
func (m *LinkMonitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	m.errors.SetClock(now)
}

// RecordSuccess implements queue.LinkObserver
func (m *LinkMonitor) RecordSuccess() {
	m.mu.Lock()
	m.lastSuccess = m.now()
	m.successes++
	m.mu.Unlock()

	if m.errors.RecordSuccess() {
		m.metrics.SetLinkStatus(true)
		m.log.LogInfo("🟢 Link marked as ONLINE - functionality restored")
		m.enqueue(broadcast.LevelInfo, "link online", nil)
	}
}

// RecordFailure implements queue.LinkObserver
func (m *LinkMonitor) RecordFailure(err error) {
	m.mu.Lock()
	m.failures++
	m.lastError = err.Error()
	m.mu.Unlock()

	m.errors.RecordError()
	if m.errors.GetConsecutiveErrors() == 1 {
		m.log.LogWarn("⚠️ First link error detected, starting grace period: %v", err)
	}

	if m.errors.MarkOfflineOnce() {
		m.metrics.SetLinkStatus(false)
		m.log.LogError("🔴 Grace period expired - link marked as OFFLINE after %d errors over %.1f seconds",
			m.errors.GetConsecutiveErrors(), m.errors.GetTimeSinceFirstError().Seconds())
		m.enqueue(broadcast.LevelError, "link offline", map[string]interface{}{
			"consecutive_errors": m.errors.GetConsecutiveErrors(),
			"error":              err.Error(),
		})
		return
	}
	if !m.errors.IsOffline() {
		m.log.LogDebug("🕐 Link error %d in grace period (%.1fs elapsed)",
			m.errors.GetConsecutiveErrors(), m.errors.GetTimeSinceFirstError().Seconds())
	}
}

// enqueue hands an event to Run without blocking the dispatcher
func (m *LinkMonitor) enqueue(level broadcast.Level, msg string, data map[string]interface{}) {
	select {
	case m.events <- broadcast.NewLogEvent(level, service, msg, data):
	default:
		m.log.LogWarn("⚠️ Link event dropped, broadcast backlog full: %s", msg)
	}
}

// Run publishes link transitions until ctx is done
func (m *LinkMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.events:
			err := m.sink.PublishLog(ctx, event)
			m.metrics.IncrementBroadcasts(err)
			if err != nil {
				m.log.LogError("⚠️ Error publishing link status: %v", err)
			}
		}
	}
}

// IsOnline reports whether the link is currently considered online
func (m *LinkMonitor) IsOnline() bool {
	return !m.errors.IsOffline()
}

// GetLastSuccessTime returns the time of the last successful transaction
func (m *LinkMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccess
}

// GetErrorCount returns the number of failed transactions
func (m *LinkMonitor) GetErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.failures)
}

// GetSuccessCount returns the number of successful transactions
func (m *LinkMonitor) GetSuccessCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.successes)
}

// Status returns a snapshot of the monitor
func (m *LinkMonitor) Status() LinkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LinkStatus{
		Online:            !m.errors.IsOffline(),
		ConsecutiveErrors: m.errors.GetConsecutiveErrors(),
		LastSuccess:       m.lastSuccess,
		LastError:         m.lastError,
		Successes:         m.successes,
		Failures:          m.failures,
	}
}
