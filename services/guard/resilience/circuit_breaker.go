// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all requests immediately.
	CircuitOpen

	// CircuitHalfOpen allows limited trial requests to test recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is the duration to wait before transitioning
	// from open to half-open.
	// Default: 30s
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the number of consecutive trial successes
	// required in half-open state before the circuit closes again.
	// Default: 2
	HalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 2,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one protected
// resource.
//
// The circuit breaker has three states:
//   - Closed: Normal operation, requests pass through
//   - Open: Failure threshold exceeded, requests are rejected immediately
//   - Half-Open: Testing recovery, a limited trial batch is allowed
//
// Unlike a classic consecutive-failure breaker, a success in the closed
// state decays the failure count by one rather than resetting it, so
// isolated failures age out without letting a slow burn accumulate
// forever.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	state             CircuitState
	failureCount      int
	halfOpenSuccesses int
	lastFailureTime   time.Time
	lastStateChange   time.Time

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
//
// Inputs:
//   - name: The protected resource name (unique key).
//   - config: Configuration for thresholds and timeouts.
//
// Outputs:
//   - *CircuitBreaker: A new circuit breaker in closed state.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 2
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the protected resource name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanExecute checks if a request should be allowed through.
//
// In the open state this checks whether RecoveryTimeout has elapsed since
// the last failure; if so the breaker transitions to half-open as a side
// effect and the request is allowed as a trial.
//
// Outputs:
//   - bool: True if the request is allowed.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if now.Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen, now)
			return true
		}
		return false

	case CircuitHalfOpen:
		// Trials are permitted; outcome recording decides the next state.
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful request.
//
// In half-open state, enough consecutive successes close the circuit.
// In closed state the failure count decays by one toward zero.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}

	case CircuitHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.HalfOpenRequests {
			cb.transitionTo(CircuitClosed, time.Now())
		}
	}
}

// RecordFailure records a failed request.
//
// Reaching FailureThreshold in closed state opens the circuit. Any
// failure in half-open state immediately reopens it.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastFailureTime = now
	cb.failureCount++

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, now)
		}

	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen, now)
	}
}

// State returns the current circuit state.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker for health reporting.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:              cb.name,
		State:             cb.state,
		FailureCount:      cb.failureCount,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		LastFailureTime:   cb.lastFailureTime,
		LastStateChange:   cb.lastStateChange,
	}
}

// Reset resets the circuit breaker to closed state.
//
// This is primarily for testing or manual operator intervention.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.halfOpenSuccesses = 0
	cb.lastStateChange = time.Now()
}

// transitionTo changes the circuit state.
// Must be called with lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState, now time.Time) {
	cb.state = newState
	cb.lastStateChange = now
	cb.halfOpenSuccesses = 0

	if newState == CircuitClosed {
		cb.failureCount = 0
	}
}

// CircuitBreakerStats contains a point-in-time breaker snapshot.
type CircuitBreakerStats struct {
	Name              string
	State             CircuitState
	FailureCount      int
	HalfOpenSuccesses int
	LastFailureTime   time.Time
	LastStateChange   time.Time
}

// TimeSinceLastFailure returns the duration since the last failure.
func (s CircuitBreakerStats) TimeSinceLastFailure() time.Duration {
	if s.LastFailureTime.IsZero() {
		return 0
	}
	return time.Since(s.LastFailureTime)
}
