package recovery

import (
	"sync"
	"time"
)

// ErrorRecoveryManager tracks an uninterrupted run of link errors and
// decides when the run has outlasted its grace period
type ErrorRecoveryManager struct {
	mu                 sync.Mutex
	consecutiveErrors  int
	firstErrorTime     time.Time
	errorGracePeriod   time.Duration
	statusSetToOffline bool
	now                func() time.Time
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod == 0 {
		gracePeriod = 15 * time.Second
	}

	return &ErrorRecoveryManager{
		errorGracePeriod: gracePeriod,
		now:              time.Now,
	}
}

// SetClock overrides the time source, for tests
func (m *ErrorRecoveryManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RecordError records an error occurrence and returns whether grace period has expired
func (m *ErrorRecoveryManager) RecordError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveErrors++
	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = m.now()
	}

	return m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess resets error tracking after a successful operation.
// It reports whether the link had previously been marked offline.
func (m *ErrorRecoveryManager) RecordSuccess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOffline := m.statusSetToOffline
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
	return wasOffline
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

// MarkOfflineOnce reports true exactly once per error run, when the grace
// period has expired
func (m *ErrorRecoveryManager) MarkOfflineOnce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusSetToOffline || m.firstErrorTime.IsZero() {
		return false
	}
	if m.now().Sub(m.firstErrorTime) < m.errorGracePeriod {
		return false
	}
	m.statusSetToOffline = true
	return true
}

// IsOffline reports whether the current error run has been marked offline
func (m *ErrorRecoveryManager) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusSetToOffline
}

// GetTimeSinceFirstError returns the duration since the first error in current sequence
func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstErrorTime.IsZero() {
		return 0
	}
	return m.now().Sub(m.firstErrorTime)
}
