package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrometheusMetrics tracks engine metrics in Prometheus text format
type PrometheusMetrics struct {
	// Counters
	transactionsTotal      map[string]int64 // by priority
	transactionErrorsTotal int64
	cyclesTotal            int64
	cyclesSkippedTotal     int64
	unitsFailedTotal       int64
	commandsTotal          map[string]int64 // by status
	broadcastsTotal        int64
	broadcastErrorsTotal   int64

	// Gauges
	queueDepth int64
	linkStatus int64 // 1 = online, 0 = offline

	// Simplified histograms: sum and count
	transactionDurationSum   float64
	transactionDurationCount int64
	cycleDurationSum         float64

	mu sync.RWMutex
}

// NewPrometheusMetrics creates a new Prometheus metrics collector
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		transactionsTotal: make(map[string]int64),
		commandsTotal:     make(map[string]int64),
		linkStatus:        1,
	}
}

// ObserveTransaction records one dispatched transaction
func (pm *PrometheusMetrics) ObserveTransaction(priority string, duration time.Duration, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.transactionsTotal[priority]++
	if err != nil {
		pm.transactionErrorsTotal++
	}
	pm.transactionDurationSum += duration.Seconds()
	pm.transactionDurationCount++
}

// SetQueueDepth sets the queue depth gauge
func (pm *PrometheusMetrics) SetQueueDepth(depth int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.queueDepth = int64(depth)
}

// ObserveCycle records one polling cycle
func (pm *PrometheusMetrics) ObserveCycle(duration time.Duration, _ int, unitsFailed int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.cyclesTotal++
	pm.unitsFailedTotal += int64(unitsFailed)
	pm.cycleDurationSum += duration.Seconds()
}

// IncrementCyclesSkipped counts ticks skipped while a cycle was running
func (pm *PrometheusMetrics) IncrementCyclesSkipped() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.cyclesSkippedTotal++
}

// IncrementCommands counts finalized commands by status
func (pm *PrometheusMetrics) IncrementCommands(status string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.commandsTotal[status]++
}

// IncrementBroadcasts counts fan-out publishes and their failures
func (pm *PrometheusMetrics) IncrementBroadcasts(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.broadcastsTotal++
	if err != nil {
		pm.broadcastErrorsTotal++
	}
}

// SetLinkStatus sets the link status (1 = online, 0 = offline)
func (pm *PrometheusMetrics) SetLinkStatus(online bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if online {
		pm.linkStatus = 1
	} else {
		pm.linkStatus = 0
	}
}

// GetMetricsText returns metrics in Prometheus text format
func (pm *PrometheusMetrics) GetMetricsText() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var b strings.Builder
	counter := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, format string, v interface{}) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s "+format+"\n\n", name, help, name, name, v)
	}
	labelled := func(name, help, label string, values map[string]int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s{%s=%q} %d\n", name, label, k, values[k])
		}
		b.WriteString("\n")
	}

	var avgTransaction, avgCycle float64
	if pm.transactionDurationCount > 0 {
		avgTransaction = pm.transactionDurationSum / float64(pm.transactionDurationCount)
	}
	if pm.cyclesTotal > 0 {
		avgCycle = pm.cycleDurationSum / float64(pm.cyclesTotal)
	}

	labelled("transactions_total", "Total number of link transactions", "priority", pm.transactionsTotal)
	counter("transaction_errors_total", "Total number of failed link transactions", pm.transactionErrorsTotal)
	gauge("transaction_duration_seconds", "Average link transaction duration in seconds", "%.6f", avgTransaction)
	gauge("queue_depth", "Transactions waiting for the link", "%d", pm.queueDepth)
	counter("polling_cycles_total", "Total number of completed polling cycles", pm.cyclesTotal)
	counter("polling_cycles_skipped_total", "Ticks skipped while a cycle was running", pm.cyclesSkippedTotal)
	counter("polling_units_failed_total", "Units whose every action failed in a cycle", pm.unitsFailedTotal)
	gauge("polling_cycle_duration_seconds", "Average polling cycle duration in seconds", "%.6f", avgCycle)
	labelled("commands_total", "Finalized control commands", "status", pm.commandsTotal)
	counter("broadcasts_total", "Total number of fan-out publishes", pm.broadcastsTotal)
	counter("broadcast_errors_total", "Total number of failed fan-out publishes", pm.broadcastErrorsTotal)
	gauge("link_status", "Current link status (1 = online, 0 = offline)", "%d", pm.linkStatus)

	return b.String()
}

// ServeHTTP implements http.Handler interface for /metrics endpoint
func (pm *PrometheusMetrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, pm.GetMetricsText())
}

// GetStats returns current metric values
func (pm *PrometheusMetrics) GetStats() MetricStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var total int64
	for _, v := range pm.transactionsTotal {
		total += v
	}
	return MetricStats{
		TransactionsTotal:      total,
		TransactionErrorsTotal: pm.transactionErrorsTotal,
		CyclesTotal:            pm.cyclesTotal,
		CyclesSkippedTotal:     pm.cyclesSkippedTotal,
		QueueDepth:             pm.queueDepth,
		LinkOnline:             pm.linkStatus == 1,
	}
}

// MetricStats represents current metric statistics
type MetricStats struct {
	TransactionsTotal      int64
	TransactionErrorsTotal int64
	CyclesTotal            int64
	CyclesSkippedTotal     int64
	QueueDepth             int64
	LinkOnline             bool
}
