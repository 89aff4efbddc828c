package metrics

import "time"

// NullMetrics is a zero-overhead no-op implementation of MetricsCollector.
// Use this when metrics are disabled (http.port = 0).
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

// ObserveTransaction is a no-op
func (nm *NullMetrics) ObserveTransaction(string, time.Duration, error) {}

// SetQueueDepth is a no-op
func (nm *NullMetrics) SetQueueDepth(int) {}

// ObserveCycle is a no-op
func (nm *NullMetrics) ObserveCycle(time.Duration, int, int) {}

// IncrementCyclesSkipped is a no-op
func (nm *NullMetrics) IncrementCyclesSkipped() {}

// IncrementCommands is a no-op
func (nm *NullMetrics) IncrementCommands(string) {}

// IncrementBroadcasts is a no-op
func (nm *NullMetrics) IncrementBroadcasts(error) {}

// SetLinkStatus is a no-op
func (nm *NullMetrics) SetLinkStatus(bool) {}

// Compile-time verification that NullMetrics implements MetricsCollector
var _ MetricsCollector = (*NullMetrics)(nil)
