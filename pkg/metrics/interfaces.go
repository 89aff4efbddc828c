package metrics

import "time"

// MetricsCollector defines the interface for collecting engine metrics.
//
// Implementations:
//   - PrometheusMetrics: counters and gauges rendered in Prometheus text format
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// ObserveTransaction records one dispatched link transaction
	ObserveTransaction(priority string, duration time.Duration, err error)

	// SetQueueDepth sets the number of transactions waiting for the link
	SetQueueDepth(depth int)

	// ObserveCycle records one finished polling cycle
	ObserveCycle(duration time.Duration, unitsOK, unitsFailed int)

	// IncrementCyclesSkipped counts ticks dropped by the reentrancy guard
	IncrementCyclesSkipped()

	// IncrementCommands counts finalized control-path commands by status
	IncrementCommands(status string)

	// IncrementBroadcasts counts fan-out publishes
	IncrementBroadcasts(err error)

	// SetLinkStatus sets the current shared link status
	SetLinkStatus(online bool)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector
var _ MetricsCollector = (*PrometheusMetrics)(nil)
