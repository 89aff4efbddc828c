package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	engineerrors "shelter-engine/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

var errLink = errors.New("link down")

// TestCircuitBreakerOpensAfterMaxFailures tests the closed -> open transition
func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	clock := newClock()
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:   3,
		Timeout:       10 * time.Second,
		Clock:         clock.now,
		OnStateChange: func(_, to CircuitState) { transitions = append(transitions, to) },
	})

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return errLink }, nil); !errors.Is(err, errLink) {
			t.Fatalf("call %d: expected link error, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", cb.GetState())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Function must not run while circuit is open")
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("Expected one transition to OPEN, got %v", transitions)
	}
}

// TestCircuitBreakerHalfOpenRecovery tests open -> half-open -> closed
func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	clock := newClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 5 * time.Second, Clock: clock.now})

	_ = cb.Call(func() error { return errLink }, nil)
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", cb.GetState())
	}

	clock.advance(5 * time.Second)
	if err := cb.Call(func() error { return nil }, nil); err != nil {
		t.Fatalf("Probe call failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after successful probe, got %s", cb.GetState())
	}
	if cb.GetStats().Failures != 0 {
		t.Errorf("Expected failures reset, got %d", cb.GetStats().Failures)
	}
}

// TestCircuitBreakerHalfOpenFailure tests a failed probe reopening the circuit
func TestCircuitBreakerHalfOpenFailure(t *testing.T) {
	clock := newClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, Clock: clock.now})

	_ = cb.Call(func() error { return errLink }, nil)
	clock.advance(time.Second)
	_ = cb.Call(func() error { return errLink }, nil)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected OPEN after failed probe, got %s", cb.GetState())
	}
}

// TestCircuitBreakerIgnoresDeviceErrors tests the isFailure filter
func TestCircuitBreakerIgnoresDeviceErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	deviceErr := errors.New("illegal data address")

	_ = cb.Call(func() error { return deviceErr }, func(err error) bool { return !errors.Is(err, deviceErr) })
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED when error is not a link failure, got %s", cb.GetState())
	}
}

// TestCircuitBreakerReset tests manual reset
func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Call(func() error { return errLink }, nil)
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after reset, got %s", cb.GetState())
	}
}

// TestRetrySucceedsAfterTransientFailures tests bounded retry
func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var attempts []int
	err := Retry(context.Background(), RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errLink
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("Expected attempts [1 2 3], got %v", attempts)
	}
}

// TestRetryExhausted tests that the last error is returned
func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, func(int) error {
		calls++
		return errLink
	})
	if !errors.Is(err, errLink) {
		t.Errorf("Expected link error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

// TestRetryStopsOnNonRetryable tests early exit on validation errors
func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5}, func(int) error {
		calls++
		return engineerrors.NewValidationError("value", "number", "abc")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}
}

// TestRetryContextCancelled tests cancellation during backoff
func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 5, Backoff: time.Hour}, func(int) error {
		calls++
		cancel()
		return errLink
	})
	if !errors.Is(err, errLink) {
		t.Errorf("Expected wrapped link error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

// TestRetryRejectsZeroAttempts tests policy validation
func TestRetryRejectsZeroAttempts(t *testing.T) {
	if err := Retry(context.Background(), RetryPolicy{}, func(int) error { return nil }); err == nil {
		t.Error("Expected error for zero attempts")
	}
}

// TestErrorRecoveryGracePeriod tests offline marking after the grace period
func TestErrorRecoveryGracePeriod(t *testing.T) {
	clock := newClock()
	m := NewErrorRecoveryManager(10 * time.Second)
	m.SetClock(clock.now)

	if m.RecordError() {
		t.Error("Grace period must not expire on first error")
	}
	if m.MarkOfflineOnce() {
		t.Error("Must not mark offline inside grace period")
	}

	clock.advance(10 * time.Second)
	if !m.RecordError() {
		t.Error("Expected grace period to expire")
	}
	if !m.MarkOfflineOnce() {
		t.Error("Expected first offline mark to succeed")
	}
	if m.MarkOfflineOnce() {
		t.Error("Offline mark must fire once per error run")
	}
	if m.GetConsecutiveErrors() != 2 {
		t.Errorf("Expected 2 consecutive errors, got %d", m.GetConsecutiveErrors())
	}

	if !m.RecordSuccess() {
		t.Error("Expected RecordSuccess to report previous offline state")
	}
	if m.IsOffline() || m.GetTimeSinceFirstError() != 0 {
		t.Error("Expected tracking reset after success")
	}
}
