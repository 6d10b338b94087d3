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
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("model", CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenRequests: 2,
	})

	if cb.State() != CircuitClosed {
		t.Fatalf("initial state = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("state after 2 failures = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("state after 3 failures = %v, want open", cb.State())
	}
	if cb.CanExecute() {
		t.Error("open breaker should reject requests before recovery timeout")
	}
}

func TestCircuitBreaker_SuccessDecaysFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("model", CircuitBreakerConfig{FailureThreshold: 3})

	// Alternating failure/success never accumulates to the threshold.
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
		cb.RecordSuccess()
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if got := cb.Stats().FailureCount; got > 1 {
		t.Errorf("FailureCount = %d, want <= 1", got)
	}

	// Decay stops at zero.
	cb.RecordSuccess()
	cb.RecordSuccess()
	if got := cb.Stats().FailureCount; got != 0 {
		t.Errorf("FailureCount = %d, want 0", got)
	}
}

func TestCircuitBreaker_HalfOpenTransition(t *testing.T) {
	t.Run("open transitions to half-open after recovery timeout", func(t *testing.T) {
		cb := NewCircuitBreaker("model", CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  10 * time.Millisecond,
			HalfOpenRequests: 2,
		})
		cb.RecordFailure()
		if cb.State() != CircuitOpen {
			t.Fatalf("state = %v, want open", cb.State())
		}

		time.Sleep(20 * time.Millisecond)
		if !cb.CanExecute() {
			t.Fatal("trial request should be allowed after recovery timeout")
		}
		if cb.State() != CircuitHalfOpen {
			t.Errorf("state = %v, want half-open", cb.State())
		}
	})

	t.Run("enough trial successes close the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker("model", CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Millisecond,
			HalfOpenRequests: 2,
		})
		cb.RecordFailure()
		time.Sleep(5 * time.Millisecond)
		cb.CanExecute()

		cb.RecordSuccess()
		if cb.State() != CircuitHalfOpen {
			t.Fatalf("state after 1 trial success = %v, want half-open", cb.State())
		}
		cb.RecordSuccess()
		if cb.State() != CircuitClosed {
			t.Errorf("state after 2 trial successes = %v, want closed", cb.State())
		}
		if got := cb.Stats().FailureCount; got != 0 {
			t.Errorf("FailureCount after close = %d, want 0", got)
		}
	})

	t.Run("trial failure reopens immediately", func(t *testing.T) {
		cb := NewCircuitBreaker("model", CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Millisecond,
			HalfOpenRequests: 2,
		})
		cb.RecordFailure()
		time.Sleep(5 * time.Millisecond)
		cb.CanExecute()
		cb.RecordSuccess()

		cb.RecordFailure()
		if cb.State() != CircuitOpen {
			t.Errorf("state after trial failure = %v, want open", cb.State())
		}
	})

	t.Run("half-open always allows trials", func(t *testing.T) {
		cb := NewCircuitBreaker("model", CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Millisecond,
			HalfOpenRequests: 5,
		})
		cb.RecordFailure()
		time.Sleep(5 * time.Millisecond)
		for i := 0; i < 10; i++ {
			if !cb.CanExecute() {
				t.Fatalf("trial %d rejected in half-open", i)
			}
		}
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("model", CircuitBreakerConfig{FailureThreshold: 1})
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("state after reset = %v, want closed", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("reset breaker should allow requests")
	}
	if got := cb.Stats().FailureCount; got != 0 {
		t.Errorf("FailureCount after reset = %d, want 0", got)
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("model", CircuitBreakerConfig{})
	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 30*time.Second {
		t.Errorf("RecoveryTimeout = %v, want 30s", cb.config.RecoveryTimeout)
	}
	if cb.config.HalfOpenRequests != 2 {
		t.Errorf("HalfOpenRequests = %d, want 2", cb.config.HalfOpenRequests)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
