package core

// Per-peer circuit breaker guarding outbound dial attempts. Closed admits
// traffic and counts failures; Open rejects everything until the reset
// timeout, then HalfOpen admits probes until enough consecutive successes
// close the circuit again. Any HalfOpen failure reopens it.

import (
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState uint8

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is safe for concurrent use; critical sections are O(1).
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     uint32
	failureThreshold uint32
	successCount     uint32
	successThreshold uint32
	lastFailure      time.Time
	hasFailure       bool
	resetTimeout     time.Duration

	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(failureThreshold, successThreshold uint32, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// State returns the current mode.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker currently rejects traffic.
func (b *CircuitBreaker) IsOpen() bool { return b.State() == CircuitOpen }

// ShouldAllow decides whether a dial may proceed, transitioning Open to
// HalfOpen once the reset timeout has elapsed.
func (b *CircuitBreaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.hasFailure && b.now().Sub(b.lastFailure) >= b.resetTimeout {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	default: // HalfOpen
		return true
	}
}

// RecordSuccess feeds a successful dial outcome.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		b.failureCount = 0
	case CircuitHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = CircuitClosed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure feeds a failed dial outcome.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.now()
	b.hasFailure = true

	switch b.state {
	case CircuitClosed:
		if b.failureCount >= b.failureThreshold {
			b.state = CircuitOpen
		}
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.successCount = 0
	}
}

// Reset returns the breaker to a pristine closed state.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failureCount = 0
	b.successCount = 0
	b.hasFailure = false
}
