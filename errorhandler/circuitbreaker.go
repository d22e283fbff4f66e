package errorhandler

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/model"
)

// BreakerState is the circuit breaker's current mode
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker trips open after consecutive failures and rejects calls
// until the recovery timeout elapses. The first call after the timeout
// runs half-open: success closes the breaker, failure re-opens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailure      time.Time
	state            BreakerState
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            BreakerClosed,
	}
}

// Call runs fn through the breaker. An open breaker rejects immediately
// with a ResourceExhausted error.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	if cb.state == BreakerOpen {
		if time.Since(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = BreakerHalfOpen
		} else {
			cb.mu.Unlock()
			return model.NewError(model.ErrResource, "circuit breaker is open")
		}
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailure = time.Now()
		if cb.failureCount >= cb.failureThreshold || cb.state == BreakerHalfOpen {
			cb.state = BreakerOpen
		}
		return err
	}

	cb.failureCount = 0
	cb.state = BreakerClosed
	return nil
}

// State returns the breaker's current mode
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.recoveryTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}
