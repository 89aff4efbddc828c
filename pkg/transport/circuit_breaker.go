package transport

import (
	"context"
	"errors"
	"fmt"

	engineerrors "shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/recovery"
)

// CircuitBreakerTransport wraps a Transport with circuit breaker pattern.
// Only link failures trip the breaker; device exceptions pass through.
type CircuitBreakerTransport struct {
	Transport
	circuitBreaker *recovery.CircuitBreaker
	log            logger.ILogger
}

// NewCircuitBreakerTransport creates a breaker-guarded transport
func NewCircuitBreakerTransport(inner Transport, cfg recovery.CircuitBreakerConfig, log logger.ILogger) *CircuitBreakerTransport {
	cbt := &CircuitBreakerTransport{Transport: inner, log: log}

	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to recovery.CircuitState) {
		switch to {
		case recovery.StateOpen:
			log.LogWarn("Circuit breaker %s -> %s on %s, fast-failing requests", from, to, inner.Endpoint())
		case recovery.StateHalfOpen:
			log.LogInfo("Circuit breaker %s -> %s on %s, testing recovery", from, to, inner.Endpoint())
		default:
			log.LogInfo("Circuit breaker %s -> %s on %s", from, to, inner.Endpoint())
		}
		if userHook != nil {
			userHook(from, to)
		}
	}
	cbt.circuitBreaker = recovery.NewCircuitBreaker(cfg)

	log.LogInfo("Circuit breaker initialized for %s (MaxFailures: %d, Timeout: %s)",
		inner.Endpoint(), cfg.MaxFailures, cfg.Timeout)
	return cbt
}

// Execute runs the request through the circuit breaker
func (c *CircuitBreakerTransport) Execute(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := c.circuitBreaker.Call(func() error {
		var callErr error
		resp, callErr = c.Transport.Execute(ctx, req)
		return callErr
	}, IsLinkFailure)

	if errors.Is(err, recovery.ErrCircuitOpen) {
		d := req.Descriptor
		return nil, engineerrors.NewTransactionError("execute",
			engineerrors.NewTransportError("circuit", err, c.Endpoint()), d.SlaveID, uint8(d.FunctionCode), d.Address)
	}
	return resp, err
}

// IsLinkFailure reports whether err was caused by the shared link rather than a unit
func IsLinkFailure(err error) bool {
	var transportErr *engineerrors.TransportError
	return errors.As(err, &transportErr)
}

// Stats returns current circuit breaker statistics
func (c *CircuitBreakerTransport) Stats() recovery.CircuitBreakerStats {
	return c.circuitBreaker.GetStats()
}

// State returns the current circuit breaker state
func (c *CircuitBreakerTransport) State() recovery.CircuitState {
	return c.circuitBreaker.GetState()
}

// Reset manually closes the circuit
func (c *CircuitBreakerTransport) Reset() {
	c.log.LogInfo("Manually resetting circuit breaker")
	c.circuitBreaker.Reset()
}

// String provides a string representation for debugging
func (c *CircuitBreakerTransport) String() string {
	return fmt.Sprintf("CircuitBreakerTransport{%s}", c.circuitBreaker.GetStats())
}
