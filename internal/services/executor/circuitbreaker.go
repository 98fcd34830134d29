package executor

import (
	"sync"
	"time"

	"sentinel/internal/metrics"
)

// BreakerState represents the current circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Calls flow normally
	StateOpen     BreakerState = "open"      // All calls rejected until cooldown passes
	StateHalfOpen BreakerState = "half_open" // One probe call allowed through
)

// CircuitBreaker guards the trading gateway. Consecutive transient failures
// inside the rolling window trip it open; after the cooldown a single probe
// decides between closing again and another open period.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	cooldown  time.Duration

	state       BreakerState
	failures    int
	windowStart time.Time
	openedAt    time.Time
	probing     bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state
func NewCircuitBreaker(threshold int, window, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &CircuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed right now. In half-open state
// only the first caller gets through; the rest are rejected until the probe
// settles.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess resets the breaker after a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.setState(StateClosed)
	}
}

// RecordFailure counts a transient failure. Returns true when this failure
// tripped the breaker open, so the caller can emit the circuit event once.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateHalfOpen {
		// Probe failed, back to a full open period.
		cb.probing = false
		cb.failures++
		cb.openedAt = now
		cb.setState(StateOpen)
		return true
	}

	if cb.failures == 0 || now.Sub(cb.windowStart) > cb.window {
		cb.windowStart = now
		cb.failures = 0
	}
	cb.failures++

	if cb.failures >= cb.threshold {
		cb.openedAt = now
		cb.setState(StateOpen)
		return true
	}
	return false
}

// FailureCount returns the consecutive transient failures in the current
// window. The count survives the trip so the circuit event can report it.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// OpenUntil returns when the current open period ends. Zero when not open.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openedAt.Add(cb.cooldown)
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	switch s {
	case StateClosed:
		metrics.GatewayCircuitState.Set(0)
	case StateHalfOpen:
		metrics.GatewayCircuitState.Set(1)
	case StateOpen:
		metrics.GatewayCircuitState.Set(2)
	}
}
