// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry instruments for the guard
// service, for deployments exporting to an OTel collector alongside
// the package-level Prometheus counters.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the AleutianGuard service.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for protected
//	executions, adversarial detection, drift monitoring, recovery, and
//	audit logging. All metrics use the "guard_" prefix for consistent
//	naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Resilience Metrics ---

	// ExecutionsTotal counts protected executions by operation and outcome.
	ExecutionsTotal metric.Int64Counter

	// ExecutionDuration records protected execution duration in seconds.
	ExecutionDuration metric.Float64Histogram

	// CircuitState tracks a circuit breaker's state (0=closed, 1=open, 2=half-open).
	CircuitState metric.Int64ObservableGauge

	// --- Detection Metrics ---

	// DetectionsTotal counts adversarial detections by threat level.
	DetectionsTotal metric.Int64Counter

	// AnalysisDuration records input analysis duration in seconds.
	AnalysisDuration metric.Float64Histogram

	// --- Drift Metrics ---

	// DriftAlertsTotal counts drift alerts by type and severity.
	DriftAlertsTotal metric.Int64Counter

	// --- Recovery Metrics ---

	// RecoveryActionsTotal counts recovery actions by type and outcome.
	RecoveryActionsTotal metric.Int64Counter

	// IncidentsTotal counts opened incidents by severity.
	IncidentsTotal metric.Int64Counter

	// --- Audit Metrics ---

	// AuditEventsTotal counts audit events by category and severity.
	AuditEventsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("guard")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.ExecutionsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Resilience Metrics ---
	m.ExecutionsTotal, err = meter.Int64Counter(
		"guard_executions_total",
		metric.WithDescription("Total protected executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create executions_total: %w", err)
	}

	m.ExecutionDuration, err = meter.Float64Histogram(
		"guard_execution_duration_seconds",
		metric.WithDescription("Protected execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create execution_duration: %w", err)
	}

	// --- Detection Metrics ---
	m.DetectionsTotal, err = meter.Int64Counter(
		"guard_detections_total",
		metric.WithDescription("Total adversarial detections"),
		metric.WithUnit("{detection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create detections_total: %w", err)
	}

	m.AnalysisDuration, err = meter.Float64Histogram(
		"guard_analysis_duration_seconds",
		metric.WithDescription("Input analysis duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("create analysis_duration: %w", err)
	}

	// --- Drift Metrics ---
	m.DriftAlertsTotal, err = meter.Int64Counter(
		"guard_drift_alerts_otel_total",
		metric.WithDescription("Total drift alerts"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create drift_alerts_total: %w", err)
	}

	// --- Recovery Metrics ---
	m.RecoveryActionsTotal, err = meter.Int64Counter(
		"guard_recovery_actions_otel_total",
		metric.WithDescription("Total recovery actions dispatched"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recovery_actions_total: %w", err)
	}

	m.IncidentsTotal, err = meter.Int64Counter(
		"guard_incidents_total",
		metric.WithDescription("Total incidents opened"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create incidents_total: %w", err)
	}

	// --- Audit Metrics ---
	m.AuditEventsTotal, err = meter.Int64Counter(
		"guard_audit_events_total",
		metric.WithDescription("Total audit events logged"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit_events_total: %w", err)
	}

	return m, nil
}

// RegisterCircuitState registers a callback for a circuit breaker
// state gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the current circuit
//	breaker state. The callback is invoked each time metrics are
//	scraped.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	stateFunc - A function that returns the current circuit state
//	(0=closed, 1=open, 2=half-open).
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterCircuitState(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.CircuitState, err = meter.Int64ObservableGauge(
		"guard_circuit_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create circuit_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.CircuitState, stateFunc())
		return nil
	}, m.CircuitState)
}
