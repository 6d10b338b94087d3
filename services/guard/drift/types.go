// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import "time"

// DriftType categorizes what kind of drift an alert describes.
type DriftType string

const (
	// DriftData is a shift in input data distribution.
	DriftData DriftType = "data"

	// DriftConcept is a shift in the input/output relationship.
	DriftConcept DriftType = "concept"

	// DriftPrediction is a shift in model output distribution.
	DriftPrediction DriftType = "prediction"

	// DriftPerformance is degradation against a configured baseline.
	DriftPerformance DriftType = "performance"

	// DriftFeature is a distributional shift in one feature (PSI).
	DriftFeature DriftType = "feature"

	// DriftLabel is a shift in label distribution.
	DriftLabel DriftType = "label"
)

// Severity ranks how bad a drift alert is.
//
// Comparison goes through the explicit Rank field, not declaration
// order.
type Severity struct {
	// Name is the stable wire name, e.g. "moderate".
	Name string `json:"name"`

	// Rank orders severities: none(0) < minor(1) < moderate(2) <
	// significant(3) < critical(4).
	Rank int `json:"rank"`
}

// Drift severities from benign to critical.
var (
	SeverityNone        = Severity{Name: "none", Rank: 0}
	SeverityMinor       = Severity{Name: "minor", Rank: 1}
	SeverityModerate    = Severity{Name: "moderate", Rank: 2}
	SeveritySignificant = Severity{Name: "significant", Rank: 3}
	SeverityCritical    = Severity{Name: "critical", Rank: 4}
)

// String returns the severity's wire name.
func (s Severity) String() string {
	if s.Name == "" {
		return "none"
	}
	return s.Name
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank >= other.Rank
}

// PerformanceMetric is one timestamped sample in a metric's rolling
// window.
type PerformanceMetric struct {
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BaselineConfig is an explicit per-metric baseline with tolerance.
type BaselineConfig struct {
	// MetricName is the metric this baseline applies to.
	MetricName string `json:"metric_name"`

	// BaselineValue is the expected value.
	BaselineValue float64 `json:"baseline_value"`

	// TolerancePercentage is the allowed relative deviation (e.g. 10
	// means 10%).
	TolerancePercentage float64 `json:"tolerance_percentage"`
}

// DriftAlert is an immutable drift finding.
type DriftAlert struct {
	DriftType           DriftType `json:"drift_type"`
	Severity            Severity  `json:"severity"`
	MetricName          string    `json:"metric_name"`
	BaselineValue       float64   `json:"baseline_value"`
	CurrentValue        float64   `json:"current_value"`
	DeviationPercentage float64   `json:"deviation_percentage"`
	Recommendations     []string  `json:"recommendations,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}
