package metrics

import (
	"sync"
	"time"

	"shelter-engine/pkg/logger"
)

// PerformanceTracker accumulates polling action outcomes between periodic
// summary log lines
type PerformanceTracker struct {
	successfulReads int
	errorReads      int
	lastSummaryTime time.Time
	summaryInterval time.Duration
	log             logger.ILogger
	now             func() time.Time
	mu              sync.Mutex
}

// PerformanceStats represents performance statistics
type PerformanceStats struct {
	SuccessfulReads int
	ErrorReads      int
	LastSummary     time.Time
	SuccessRate     float64
}

// NewPerformanceTracker creates a new performance tracker
func NewPerformanceTracker(summaryInterval time.Duration, log logger.ILogger) *PerformanceTracker {
	return &PerformanceTracker{
		lastSummaryTime: time.Now(),
		summaryInterval: summaryInterval,
		log:             log,
		now:             time.Now,
	}
}

// RecordBatch records the outcome counts of one unit's actions
func (pt *PerformanceTracker) RecordBatch(ok, failed int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.successfulReads += ok
	pt.errorReads += failed
}

// GetStats returns current performance statistics
func (pt *PerformanceTracker) GetStats() PerformanceStats {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var successRate float64
	if total := pt.successfulReads + pt.errorReads; total > 0 {
		successRate = float64(pt.successfulReads) / float64(total) * 100.0
	}
	return PerformanceStats{
		SuccessfulReads: pt.successfulReads,
		ErrorReads:      pt.errorReads,
		LastSummary:     pt.lastSummaryTime,
		SuccessRate:     successRate,
	}
}

// PrintSummaryIfNeeded logs and resets the counters once per summary
// interval. It reports whether a summary was written.
func (pt *PerformanceTracker) PrintSummaryIfNeeded() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.summaryInterval <= 0 || pt.now().Sub(pt.lastSummaryTime) < pt.summaryInterval {
		return false
	}

	pt.log.LogInfo("📊 Summary - Success: %d, Errors: %d, Last %v",
		pt.successfulReads, pt.errorReads, pt.summaryInterval)

	pt.lastSummaryTime = pt.now()
	pt.successfulReads = 0
	pt.errorReads = 0
	return true
}
