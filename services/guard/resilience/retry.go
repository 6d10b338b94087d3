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
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures backoff and retry eligibility.
//
// RetryPolicy is an immutable value object; share one instance across
// calls rather than mutating it.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	// Default: 30s
	MaxDelay time.Duration

	// Exponential doubles the delay each attempt when true; otherwise
	// the delay is constant BaseDelay.
	Exponential bool

	// Jitter, when true, multiplies the computed delay by a value drawn
	// uniformly from [0.5, 1.0] to avoid synchronized retry storms.
	Jitter bool

	// RetryableCategories is the set of categories eligible for retry.
	RetryableCategories map[ErrorCategory]bool
}

// DefaultRetryPolicy returns sensible defaults: three exponential,
// jittered retries for transient, network, and timeout failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
		Jitter:      true,
		RetryableCategories: map[ErrorCategory]bool{
			CategoryTransient: true,
			CategoryNetwork:   true,
			CategoryTimeout:   true,
		},
	}
}

// Delay computes the backoff before retry number attempt (0-based).
//
// Without jitter the result is non-decreasing in attempt and never
// exceeds MaxDelay. With jitter the capped value is scaled by a uniform
// draw from [0.5, 1.0].
//
// Inputs:
//   - attempt: Zero-based retry attempt number.
//
// Outputs:
//   - time.Duration: The delay to sleep before this retry.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay
	if p.Exponential {
		factor := math.Pow(2, float64(attempt))
		delay = time.Duration(float64(p.BaseDelay) * factor)
		// Guard against overflow for absurd attempt counts.
		if delay <= 0 {
			delay = p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter {
		// Full multiplicative jitter: uniform in [0.5, 1.0].
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}

	return delay
}

// ShouldRetry reports whether another retry is allowed for the given
// category at the given zero-based attempt number.
//
// Inputs:
//   - category: The classified failure category.
//   - attempt: Zero-based count of retries already performed.
//
// Outputs:
//   - bool: True if the caller should retry.
func (p RetryPolicy) ShouldRetry(category ErrorCategory, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return p.RetryableCategories[category]
}
