// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Category classifies audit events.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryModelInference Category = "model_inference"
	CategoryConfiguration  Category = "configuration"
	CategorySecurity       Category = "security"
	CategoryRecovery       Category = "recovery"
	CategorySystem         Category = "system"
)

// Severity grades audit events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// chainHashKey is the details key carrying the event's chain hash when
// tamper detection is enabled.
const chainHashKey = "chain_hash"

// Event is one append-only audit record.
//
// The ID and chain hash are computed at creation and never altered.
type Event struct {
	// ID is the content-derived event identifier.
	ID string `json:"id"`

	// Category classifies the event.
	Category Category `json:"category"`

	// Severity grades the event.
	Severity Severity `json:"severity"`

	// Action is what was attempted, e.g. "model.invoke".
	Action string `json:"action"`

	// Actor is who performed the action.
	Actor string `json:"actor"`

	// Resource is what was acted upon.
	Resource string `json:"resource"`

	// Outcome is the result, e.g. "success" or "failure".
	Outcome string `json:"outcome"`

	// Details carries structured diagnostics, including the chain hash
	// when tamper detection is enabled.
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is when the event was logged.
	Timestamp time.Time `json:"timestamp"`

	// SessionID optionally groups events from one session.
	SessionID string `json:"session_id,omitempty"`

	// ParentEventID optionally links a follow-up event to its cause.
	ParentEventID string `json:"parent_event_id,omitempty"`
}

// ChainHash returns the event's stored chain hash, or empty when the
// event carries none.
func (e Event) ChainHash() string {
	if e.Details == nil {
		return ""
	}
	if h, ok := e.Details[chainHashKey].(string); ok {
		return h
	}
	return ""
}

// ToMap converts the event to a plain map for serialization.
//
// The chain hash travels inside details, so ToMap followed by
// EventFromMap reproduces an identical event.
func (e Event) ToMap() map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"category":  string(e.Category),
		"severity":  string(e.Severity),
		"action":    e.Action,
		"actor":     e.Actor,
		"resource":  e.Resource,
		"outcome":   e.Outcome,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if len(e.Details) > 0 {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		m["details"] = details
	}
	if e.SessionID != "" {
		m["session_id"] = e.SessionID
	}
	if e.ParentEventID != "" {
		m["parent_event_id"] = e.ParentEventID
	}
	return m
}

// EventFromMap reconstructs an event from its ToMap form.
//
// Outputs:
//   - Event: The reconstructed event.
//   - error: Non-nil when required fields are missing or malformed.
func EventFromMap(m map[string]any) (Event, error) {
	e := Event{
		ID:       stringField(m, "id"),
		Category: Category(stringField(m, "category")),
		Severity: Severity(stringField(m, "severity")),
		Action:   stringField(m, "action"),
		Actor:    stringField(m, "actor"),
		Resource: stringField(m, "resource"),
		Outcome:  stringField(m, "outcome"),
	}
	if e.ID == "" {
		return Event{}, fmt.Errorf("event map missing id")
	}

	ts := stringField(m, "timestamp")
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, fmt.Errorf("parse event timestamp %q: %w", ts, err)
	}
	e.Timestamp = parsed

	if details, ok := m["details"].(map[string]any); ok {
		e.Details = details
	}
	e.SessionID = stringField(m, "session_id")
	e.ParentEventID = stringField(m, "parent_event_id")
	return e, nil
}

// stringField reads a string value from a map, tolerating absence.
func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// eventID derives the content-based identifier for an event.
func eventID(category Category, action, actor, resource string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		category, action, actor, resource, ts.UnixNano())))
	return "evt-" + hex.EncodeToString(sum[:8])
}

// serializeForChain produces the canonical byte form hashed into the
// chain. Field order is fixed; details are excluded because the chain
// hash itself is stored there.
func serializeForChain(e Event) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%d",
		e.ID, e.Category, e.Severity, e.Action, e.Actor, e.Resource,
		e.Outcome, e.Timestamp.UnixNano()))
}

// chainHash computes H(previous || serialized event).
func chainHash(previous string, e Event) string {
	h := sha256.New()
	h.Write([]byte(previous))
	h.Write(serializeForChain(e))
	return hex.EncodeToString(h.Sum(nil))
}
