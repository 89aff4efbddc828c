package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is wrapped by every call rejected by an open breaker
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - normal operation, requests pass through
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked immediately
	StateOpen
	// StateHalfOpen - testing recovery, limited requests allowed
	StateHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures      int           // Default: 5
	Timeout          time.Duration // Default: 30 seconds
	HalfOpenMaxTries int           // Default: 1
	OnStateChange    func(from, to CircuitState)
	Clock            func() time.Time
}

// CircuitBreaker fails fast while the shared link is known to be down
type CircuitBreaker struct {
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxTries int
	onStateChange    func(from, to CircuitState)
	now              func() time.Time

	state             CircuitState
	failures          int
	lastFailureTime   time.Time
	lastStateChange   time.Time
	halfOpenAttempts  int
	halfOpenSuccesses int

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxTries == 0 {
		config.HalfOpenMaxTries = 1
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		halfOpenMaxTries: config.HalfOpenMaxTries,
		onStateChange:    config.OnStateChange,
		now:              config.Clock,
		state:            StateClosed,
		lastStateChange:  config.Clock(),
	}
}

// Call executes fn if the circuit allows it.
// isFailure decides which errors count against the link; nil counts all.
func (cb *CircuitBreaker) Call(fn func() error, isFailure func(error) bool) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()

	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	cb.afterCall(failed)

	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenAttempts = 1
			return nil
		}
		return fmt.Errorf("%w (failed %d times, retry in %.0fs)", ErrCircuitOpen,
			cb.failures, cb.lastFailureTime.Add(cb.timeout).Sub(cb.now()).Seconds())

	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.halfOpenMaxTries {
			return fmt.Errorf("%w (half-open probe in progress)", ErrCircuitOpen)
		}
		cb.halfOpenAttempts++
		return nil

	default:
		return fmt.Errorf("circuit breaker in unknown state")
	}
}

func (cb *CircuitBreaker) afterCall(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.failures++
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.maxFailures {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			cb.transition(StateOpen)
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenMaxTries {
			cb.failures = 0
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.halfOpenAttempts = 0
	cb.halfOpenSuccesses = 0
	cb.lastStateChange = cb.now()
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.transition(StateClosed)
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:                    cb.state,
		Failures:                 cb.failures,
		LastFailureTime:          cb.lastFailureTime,
		LastStateChange:          cb.lastStateChange,
		TimeSinceLastStateChange: cb.now().Sub(cb.lastStateChange),
	}
}

// CircuitBreakerStats holds statistics about the circuit breaker
type CircuitBreakerStats struct {
	State                    CircuitState  `json:"state"`
	Failures                 int           `json:"failures"`
	LastFailureTime          time.Time     `json:"last_failure_time"`
	LastStateChange          time.Time     `json:"last_state_change"`
	TimeSinceLastStateChange time.Duration `json:"time_since_last_state_change"`
}

// String returns a string representation of the stats
func (s CircuitBreakerStats) String() string {
	return fmt.Sprintf("State: %s, Failures: %d, Last State Change: %s ago",
		s.State, s.Failures, s.TimeSinceLastStateChange.Round(time.Second))
}
