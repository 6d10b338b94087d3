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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the resilience package.
var (
	// ErrCircuitOpen indicates the named breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNilOperation indicates Execute was called without an operation.
	ErrNilOperation = errors.New("operation must not be nil")
)

// ResilienceError wraps a failed operation's last error with its
// category and static recovery suggestions.
//
// Callers see the category and suggestions; the raw cause is preserved
// for errors.Is/As and diagnostics.
type ResilienceError struct {
	// Operation is the logical operation name passed to Execute.
	Operation string

	// Category is the classified failure category.
	Category ErrorCategory

	// Attempts is the total number of attempts made (initial + retries).
	Attempts int

	// Suggestions holds static recovery guidance for the category.
	Suggestions []string

	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *ResilienceError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempt(s) (%s): %v; suggestions: %s",
		e.Operation, e.Attempts, e.Category, e.Err, strings.Join(e.Suggestions, "; "))
}

// Unwrap returns the underlying error.
func (e *ResilienceError) Unwrap() error {
	return e.Err
}
