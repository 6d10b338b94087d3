// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drift watches live model metrics for statistical drift
// against explicit baselines and historical behavior.
package drift

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
)

// Sentinel errors for the drift package.
var (
	// ErrEmptyMetricName indicates RecordMetric was called without a name.
	ErrEmptyMetricName = errors.New("metric name must not be empty")

	// ErrInvalidMetricValue indicates a NaN or infinite sample.
	ErrInvalidMetricValue = errors.New("metric value must be finite")
)

// driftAlertsTotal counts emitted alerts by drift type and severity.
var driftAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_drift_alerts_total",
	Help: "Total drift alerts emitted by type and severity.",
}, []string{"drift_type", "severity"})

// baselineSampleCount is how many recent samples feed the baseline
// comparison mean.
const baselineSampleCount = 20

// conceptMinSamples is the minimum history before concept drift is
// evaluated.
const conceptMinSamples = 40

// MonitorConfig configures the drift monitor.
type MonitorConfig struct {
	// WindowSize bounds each metric's rolling sample window.
	// Default: 100
	WindowSize int

	// AlertThreshold is the relative half-to-half shift that triggers
	// a concept-drift alert (0.1 = 10%). Default: 0.1
	AlertThreshold float64

	// AlertHistorySize bounds the stored alert history.
	// Default: 500
	AlertHistorySize int
}

// DefaultMonitorConfig returns production defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		WindowSize:       100,
		AlertThreshold:   0.1,
		AlertHistorySize: 500,
	}
}

// AlertHook receives every stored drift alert, e.g. to open an
// incident or write an audit event. Hooks run outside the monitor's
// lock.
type AlertHook func(alert DriftAlert)

// Monitor keeps rolling metric histories and scores drift on every
// recorded sample.
//
// # Thread Safety
//
// Safe for concurrent use. Each metric window is guarded by the
// monitor's lock; hooks run outside it.
type Monitor struct {
	config MonitorConfig
	logger *logging.Logger

	mu        sync.Mutex
	windows   map[string]*history.RingBuffer[PerformanceMetric]
	baselines map[string]BaselineConfig
	alerts    *history.RingBuffer[DriftAlert]
	hooks     []AlertHook
}

// NewMonitor creates a drift monitor.
//
// Inputs:
//   - config: Monitor configuration. Zero values fall back to defaults.
//   - logger: Structured logger. Nil falls back to the default logger.
//
// Outputs:
//   - *Monitor: Ready-to-use monitor.
func NewMonitor(config MonitorConfig, logger *logging.Logger) *Monitor {
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.AlertThreshold <= 0 {
		config.AlertThreshold = 0.1
	}
	if config.AlertHistorySize <= 0 {
		config.AlertHistorySize = 500
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		config:    config,
		logger:    logger,
		windows:   make(map[string]*history.RingBuffer[PerformanceMetric]),
		baselines: make(map[string]BaselineConfig),
		alerts:    history.NewRingBuffer[DriftAlert](config.AlertHistorySize),
	}
}

// AddAlertHook registers a hook invoked for every stored alert.
func (m *Monitor) AddAlertHook(hook AlertHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// SetBaseline configures an explicit baseline for a metric.
func (m *Monitor) SetBaseline(baseline BaselineConfig) error {
	if baseline.MetricName == "" {
		return ErrEmptyMetricName
	}
	if baseline.TolerancePercentage <= 0 {
		return fmt.Errorf("baseline for %s: tolerance percentage must be positive", baseline.MetricName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[baseline.MetricName] = baseline
	return nil
}

// RecordMetric appends a sample to the named rolling window and
// evaluates drift.
//
// Baseline drift is checked first when a baseline is configured;
// concept drift is evaluated only when no baseline alert fired and at
// least 40 samples exist.
//
// Inputs:
//   - name: Metric name. Must not be empty.
//   - value: Sample value. Must be finite.
//   - metadata: Optional sample metadata.
//
// Outputs:
//   - *DriftAlert: The emitted alert, or nil when no drift was found.
//   - error: Non-nil for invalid inputs.
func (m *Monitor) RecordMetric(name string, value float64, metadata map[string]any) (*DriftAlert, error) {
	if name == "" {
		return nil, ErrEmptyMetricName
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, ErrInvalidMetricValue
	}

	now := time.Now()

	m.mu.Lock()
	window, ok := m.windows[name]
	if !ok {
		window = history.NewRingBuffer[PerformanceMetric](m.config.WindowSize)
		m.windows[name] = window
	}
	window.Push(PerformanceMetric{
		Name:      name,
		Value:     value,
		Timestamp: now,
		Metadata:  metadata,
	})

	var alert *DriftAlert
	if baseline, ok := m.baselines[name]; ok {
		alert = m.checkBaseline(window, baseline, now)
	}
	if alert == nil {
		alert = m.checkConceptDrift(window, name, now)
	}

	var hooks []AlertHook
	if alert != nil {
		m.alerts.Push(*alert)
		hooks = make([]AlertHook, len(m.hooks))
		copy(hooks, m.hooks)
	}
	m.mu.Unlock()

	if alert != nil {
		driftAlertsTotal.WithLabelValues(string(alert.DriftType), alert.Severity.String()).Inc()
		m.logger.Warn("drift alert",
			"metric", alert.MetricName,
			"drift_type", string(alert.DriftType),
			"severity", alert.Severity.String(),
			"deviation_pct", alert.DeviationPercentage,
		)
		for _, hook := range hooks {
			hook(*alert)
		}
	}
	return alert, nil
}

// checkBaseline compares the mean of the most recent samples against
// the configured baseline. Must be called with lock held.
func (m *Monitor) checkBaseline(window *history.RingBuffer[PerformanceMetric], baseline BaselineConfig, now time.Time) *DriftAlert {
	recent := window.Last(baselineSampleCount)
	if len(recent) == 0 || baseline.BaselineValue == 0 {
		return nil
	}

	var sum float64
	for _, sample := range recent {
		sum += sample.Value
	}
	mean := sum / float64(len(recent))

	deviationPct := math.Abs(mean-baseline.BaselineValue) / math.Abs(baseline.BaselineValue) * 100
	severity := ratioSeverity(deviationPct / baseline.TolerancePercentage)
	if severity == SeverityNone {
		return nil
	}

	return &DriftAlert{
		DriftType:           DriftPerformance,
		Severity:            severity,
		MetricName:          baseline.MetricName,
		BaselineValue:       baseline.BaselineValue,
		CurrentValue:        mean,
		DeviationPercentage: deviationPct,
		Recommendations: []string{
			"compare recent deployments and config changes against the alert window",
			"consider rolling back to a known-good model version",
		},
		Timestamp: now,
	}
}

// checkConceptDrift splits the window into halves and compares their
// means. Must be called with lock held.
func (m *Monitor) checkConceptDrift(window *history.RingBuffer[PerformanceMetric], name string, now time.Time) *DriftAlert {
	samples := window.Slice()
	if len(samples) < conceptMinSamples {
		return nil
	}

	half := len(samples) / 2
	var firstSum, secondSum float64
	for _, s := range samples[:half] {
		firstSum += s.Value
	}
	for _, s := range samples[half:] {
		secondSum += s.Value
	}
	firstMean := firstSum / float64(half)
	secondMean := secondSum / float64(len(samples)-half)

	if firstMean == 0 {
		return nil
	}
	shift := math.Abs(secondMean-firstMean) / math.Abs(firstMean)
	if shift <= m.config.AlertThreshold {
		return nil
	}

	return &DriftAlert{
		DriftType:           DriftConcept,
		Severity:            ratioSeverity(shift / m.config.AlertThreshold),
		MetricName:          name,
		BaselineValue:       firstMean,
		CurrentValue:        secondMean,
		DeviationPercentage: shift * 100,
		Recommendations: []string{
			"review upstream data sources for distribution changes",
			"evaluate whether the model needs retraining",
		},
		Timestamp: now,
	}
}

// DetectFeatureDrift computes the Population Stability Index between a
// feature's current and reference categorical distributions.
//
// Alerts with severity none are returned but not stored.
//
// Inputs:
//   - featureName: The feature under test.
//   - current: Current category -> proportion distribution.
//   - reference: Reference category -> proportion distribution.
//
// Outputs:
//   - DriftAlert: Feature-drift alert; CurrentValue carries the PSI.
func (m *Monitor) DetectFeatureDrift(featureName string, current, reference map[string]float64) DriftAlert {
	psi := populationStabilityIndex(current, reference)
	severity := psiSeverity(psi)

	alert := DriftAlert{
		DriftType:           DriftFeature,
		Severity:            severity,
		MetricName:          featureName,
		CurrentValue:        psi,
		DeviationPercentage: psi * 100,
		Timestamp:           time.Now(),
	}
	if severity.AtLeast(SeverityModerate) {
		alert.Recommendations = []string{
			"inspect the feature's upstream pipeline for schema or source changes",
			"refresh the reference distribution if the shift is expected",
		}
	}

	if severity == SeverityNone {
		return alert
	}

	m.mu.Lock()
	m.alerts.Push(alert)
	hooks := make([]AlertHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	driftAlertsTotal.WithLabelValues(string(alert.DriftType), alert.Severity.String()).Inc()
	for _, hook := range hooks {
		hook(alert)
	}
	return alert
}

// HealthReport is a 24-hour aggregation of drift alerts.
type HealthReport struct {
	// OverallStatus is HEALTHY, WARNING, DEGRADED, or CRITICAL.
	OverallStatus string `json:"overall_status"`

	// TotalAlerts is the alert count in the window.
	TotalAlerts int `json:"total_alerts"`

	// BySeverity maps severity name to alert count.
	BySeverity map[string]int `json:"by_severity"`

	// ByDriftType maps drift type to alert count.
	ByDriftType map[DriftType]int `json:"by_drift_type"`

	// TrackedMetrics is the number of metrics with live windows.
	TrackedMetrics int `json:"tracked_metrics"`

	// GeneratedAt is when the report was computed.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetHealthReport aggregates the last 24 hours of alerts into an
// overall status.
//
// Any critical alert makes the status CRITICAL; more than two
// significant alerts DEGRADED; any significant alert WARNING;
// otherwise HEALTHY. Safe to call at any rate.
func (m *Monitor) GetHealthReport() HealthReport {
	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)

	m.mu.Lock()
	recent := m.alerts.Filter(func(a DriftAlert) bool {
		return a.Timestamp.After(cutoff)
	})
	tracked := len(m.windows)
	m.mu.Unlock()

	report := HealthReport{
		BySeverity:     make(map[string]int),
		ByDriftType:    make(map[DriftType]int),
		TrackedMetrics: tracked,
		GeneratedAt:    now,
	}

	criticalCount := 0
	significantCount := 0
	for _, a := range recent {
		report.TotalAlerts++
		report.BySeverity[a.Severity.String()]++
		report.ByDriftType[a.DriftType]++
		switch {
		case a.Severity.AtLeast(SeverityCritical):
			criticalCount++
		case a.Severity.AtLeast(SeveritySignificant):
			significantCount++
		}
	}

	switch {
	case criticalCount > 0:
		report.OverallStatus = "CRITICAL"
	case significantCount > 2:
		report.OverallStatus = "DEGRADED"
	case significantCount > 0:
		report.OverallStatus = "WARNING"
	default:
		report.OverallStatus = "HEALTHY"
	}
	return report
}
