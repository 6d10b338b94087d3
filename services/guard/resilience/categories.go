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
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// ErrorCategory classifies a failure seen by the resilience manager.
//
// The category drives retry eligibility and the static recovery
// suggestions attached to surfaced errors.
type ErrorCategory string

const (
	// CategoryTransient is a short-lived failure expected to clear on retry.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent is a failure that will not clear without intervention.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResourceExhaustion indicates memory, quota, or capacity limits.
	CategoryResourceExhaustion ErrorCategory = "resource_exhaustion"

	// CategoryValidation indicates the input itself was rejected.
	CategoryValidation ErrorCategory = "validation"

	// CategorySecurity indicates an authorization or policy failure.
	CategorySecurity ErrorCategory = "security"

	// CategoryModelFailure indicates the model or inference path failed.
	CategoryModelFailure ErrorCategory = "model_failure"

	// CategoryNetwork indicates a connectivity failure.
	CategoryNetwork ErrorCategory = "network"

	// CategoryTimeout indicates a deadline or cancellation.
	CategoryTimeout ErrorCategory = "timeout"
)

// categoryKeywords maps message substrings to categories, checked in order.
// First match wins, so more specific categories come first.
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryNetwork, []string{"connection", "network", "dns", "unreachable", "refused"}},
	{CategoryResourceExhaustion, []string{"memory", "resource", "quota", "too many", "capacity", "exhausted"}},
	{CategoryValidation, []string{"validation", "invalid", "malformed", "unparseable"}},
	{CategorySecurity, []string{"security", "permission", "unauthorized", "forbidden", "denied"}},
	{CategoryModelFailure, []string{"model", "inference", "completion", "token limit"}},
}

// Categorize assigns an ErrorCategory to an error by inspecting its
// declared type and message text.
//
// Inputs:
//   - err: The error to classify. Nil returns CategoryTransient.
//
// Outputs:
//   - ErrorCategory: The best-match category; CategoryPermanent when
//     nothing else applies.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return CategoryTransient
	}

	// Typed checks first: these are cheaper and more reliable than
	// message sniffing.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category
			}
		}
	}

	// Generic runtime/IO errors are worth one more try.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return CategoryTransient
	}
	if strings.Contains(msg, "temporary") || strings.Contains(msg, "unavailable") {
		return CategoryTransient
	}

	return CategoryPermanent
}

// recoverySuggestions holds static operator guidance per category.
var recoverySuggestions = map[ErrorCategory][]string{
	CategoryTransient: {
		"retry the operation after a short delay",
		"check downstream service status",
	},
	CategoryPermanent: {
		"inspect the error details; automatic retry will not help",
		"escalate to the owning team if the failure persists",
	},
	CategoryResourceExhaustion: {
		"reduce request concurrency or batch size",
		"check memory and quota limits on the host",
	},
	CategoryValidation: {
		"correct the rejected input before resubmitting",
		"review recent schema or contract changes",
	},
	CategorySecurity: {
		"verify credentials and authorization scope",
		"review the audit trail for the rejected action",
	},
	CategoryModelFailure: {
		"verify model health and serving capacity",
		"consider rolling back to a known-good model version",
	},
	CategoryNetwork: {
		"check connectivity to the downstream endpoint",
		"verify DNS and proxy configuration",
	},
	CategoryTimeout: {
		"increase the operation deadline if the work is legitimate",
		"check for downstream saturation",
	},
}

// RecoverySuggestions returns static guidance for the given category.
//
// Outputs:
//   - []string: Operator-facing suggestions; never nil.
func RecoverySuggestions(category ErrorCategory) []string {
	if s, ok := recoverySuggestions[category]; ok {
		return s
	}
	return recoverySuggestions[CategoryPermanent]
}
