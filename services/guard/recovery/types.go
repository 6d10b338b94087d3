// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import "time"

// IncidentSeverity grades an incident.
type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// IncidentStatus tracks an incident through its lifecycle:
// detected -> investigating -> mitigating -> resolved -> closed.
// Incidents are closed, never deleted.
type IncidentStatus string

const (
	StatusDetected      IncidentStatus = "detected"
	StatusInvestigating IncidentStatus = "investigating"
	StatusMitigating    IncidentStatus = "mitigating"
	StatusResolved      IncidentStatus = "resolved"
	StatusClosed        IncidentStatus = "closed"
)

// ActionType names a class of recovery action dispatched through the
// handler registry.
type ActionType string

const (
	// ActionRollback restores a previously captured rollback point.
	ActionRollback ActionType = "rollback"

	// ActionRestart restarts the affected component.
	ActionRestart ActionType = "restart"

	// ActionFailover shifts traffic to a standby.
	ActionFailover ActionType = "failover"

	// ActionScale adjusts capacity.
	ActionScale ActionType = "scale"

	// ActionNotify pages the owning team.
	ActionNotify ActionType = "notify"
)

// RollbackPoint is a captured point-in-time snapshot of system state.
//
// The store holds at most MaxRollbackPoints valid points; the oldest
// by creation time is invalidated and evicted on overflow.
type RollbackPoint struct {
	// ID is the content-derived point identifier.
	ID string `json:"id"`

	// Name labels the point, e.g. "pre-deploy-v42".
	Name string `json:"name"`

	// CreatedAt orders points for eviction.
	CreatedAt time.Time `json:"created_at"`

	// Description explains why the point was captured.
	Description string `json:"description"`

	// Snapshot is the opaque state captured by the caller.
	Snapshot any `json:"snapshot"`

	// ModelVersion optionally tags the model version at capture time.
	ModelVersion string `json:"model_version,omitempty"`

	// ConfigVersion optionally tags the config version at capture time.
	ConfigVersion string `json:"config_version,omitempty"`

	// IsValid is false once the point has been evicted.
	IsValid bool `json:"is_valid"`
}

// RecoveryAction is one dispatched recovery step, immutable once
// completed.
type RecoveryAction struct {
	// ID is the action identifier.
	ID string `json:"id"`

	// ActionType is the dispatched action class.
	ActionType ActionType `json:"action_type"`

	// Target is what the action acted upon.
	Target string `json:"target"`

	// Initiator is who or what triggered the action.
	Initiator string `json:"initiator"`

	// StartedAt and CompletedAt bound the action's execution.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Success records the outcome.
	Success bool `json:"success"`

	// Details carries structured diagnostics.
	Details map[string]any `json:"details,omitempty"`

	// RollbackPointID links rollback actions to their point.
	RollbackPointID string `json:"rollback_point_id,omitempty"`
}

// Incident tracks one detected problem and the actions taken on it.
type Incident struct {
	// ID is the incident identifier.
	ID string `json:"id"`

	// Title is a short human label.
	Title string `json:"title"`

	// Severity grades the incident.
	Severity IncidentSeverity `json:"severity"`

	// Status is the current lifecycle stage.
	Status IncidentStatus `json:"status"`

	// DetectedAt is when the incident was opened.
	DetectedAt time.Time `json:"detected_at"`

	// Description explains the problem.
	Description string `json:"description"`

	// AffectedSystems lists impacted components.
	AffectedSystems []string `json:"affected_systems,omitempty"`

	// Actions is the ordered list of recovery actions taken.
	Actions []RecoveryAction `json:"actions,omitempty"`

	// RootCause is set during investigation.
	RootCause string `json:"root_cause,omitempty"`

	// Resolution notes how the incident was resolved.
	Resolution string `json:"resolution,omitempty"`

	// ResolvedAt is stamped on transition to resolved.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsActive reports whether the incident still needs attention.
func (i Incident) IsActive() bool {
	return i.Status != StatusResolved && i.Status != StatusClosed
}
