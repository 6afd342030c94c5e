package transport

import (
	"sync"
	"time"
)

// CircuitState is one of the three states a CircuitBreaker can be in.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards a single endpoint. It starts Closed; after
// FailureThreshold consecutive failures it opens for RecoveryTimeout, then
// admits exactly one probe call (HalfOpen) whose outcome decides whether it
// closes again or reopens with a fresh timestamp.
//
// Grounded on the teacher's internal/risk/engine.go CircuitBreaker/CircuitState
// pattern, generalized from per-trading-signal breakers to per-RPC-endpoint
// breakers.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureThreshold int
	recoveryTimeout  time.Duration
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool
	totalTrips       int64
}

// NewCircuitBreaker constructs a breaker starting Closed.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow reports whether a call may proceed through this breaker right now,
// transitioning Open -> HalfOpen when the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.recoveryTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenInFlight = true
		return true
	case CircuitHalfOpen:
		// Only the probe admitted by the transition above may proceed;
		// any concurrent caller observing HalfOpen without having won
		// that transition is rejected until the probe resolves.
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveFails = 0
	cb.halfOpenInFlight = false
}

// RecordFailure increments the failure counter and opens the breaker once
// the threshold is reached (or immediately, if the failure was the HalfOpen
// probe itself).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.open()
		return
	}

	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.consecutiveFails = 0
	cb.halfOpenInFlight = false
	cb.totalTrips++
}

// State returns the current state, for health reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TotalTrips returns the lifetime count of Closed/HalfOpen -> Open transitions.
func (cb *CircuitBreaker) TotalTrips() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalTrips
}
