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

import (
	"math"
	"testing"
)

func TestPopulationStabilityIndex(t *testing.T) {
	t.Run("identical distributions are near zero", func(t *testing.T) {
		dist := map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
		psi := populationStabilityIndex(dist, dist)
		if math.Abs(psi) > 1e-9 {
			t.Errorf("PSI of identical distributions = %f, want ~0", psi)
		}
	})

	t.Run("unnormalized inputs are normalized first", func(t *testing.T) {
		current := map[string]float64{"a": 50, "b": 30, "c": 20}
		reference := map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
		psi := populationStabilityIndex(current, reference)
		if math.Abs(psi) > 1e-9 {
			t.Errorf("PSI after normalization = %f, want ~0", psi)
		}
	})

	t.Run("disjoint distributions are large", func(t *testing.T) {
		current := map[string]float64{"x": 1.0}
		reference := map[string]float64{"y": 1.0}
		psi := populationStabilityIndex(current, reference)
		if psi < psiCriticalThreshold {
			t.Errorf("PSI of disjoint distributions = %f, want >= %f", psi, psiCriticalThreshold)
		}
	})

	t.Run("small shift stays small", func(t *testing.T) {
		current := map[string]float64{"a": 0.52, "b": 0.48}
		reference := map[string]float64{"a": 0.5, "b": 0.5}
		psi := populationStabilityIndex(current, reference)
		if psi >= psiMinorThreshold {
			t.Errorf("PSI of tiny shift = %f, want < %f", psi, psiMinorThreshold)
		}
	})

	t.Run("psi is symmetric-signed positive", func(t *testing.T) {
		current := map[string]float64{"a": 0.8, "b": 0.2}
		reference := map[string]float64{"a": 0.2, "b": 0.8}
		forward := populationStabilityIndex(current, reference)
		backward := populationStabilityIndex(reference, current)
		if forward <= 0 {
			t.Errorf("PSI = %f, want > 0", forward)
		}
		if math.Abs(forward-backward) > 1e-9 {
			t.Errorf("PSI not symmetric: %f vs %f", forward, backward)
		}
	})
}

func TestPsiSeverity(t *testing.T) {
	tests := []struct {
		psi  float64
		want Severity
	}{
		{0.0, SeverityNone},
		{0.09, SeverityNone},
		{0.1, SeverityMinor},
		{0.19, SeverityMinor},
		{0.2, SeverityModerate},
		{0.24, SeverityModerate},
		{0.25, SeveritySignificant},
		{0.49, SeveritySignificant},
		{0.5, SeverityCritical},
		{3.0, SeverityCritical},
	}
	for _, tt := range tests {
		if got := psiSeverity(tt.psi); got != tt.want {
			t.Errorf("psiSeverity(%f) = %v, want %v", tt.psi, got, tt.want)
		}
	}
}

func TestRatioSeverity(t *testing.T) {
	tests := []struct {
		ratio float64
		want  Severity
	}{
		{0.5, SeverityNone},
		{0.99, SeverityNone},
		{1.0, SeverityMinor},
		{1.49, SeverityMinor},
		{1.5, SeverityModerate},
		{1.99, SeverityModerate},
		{2.0, SeveritySignificant},
		{2.99, SeveritySignificant},
		{3.0, SeverityCritical},
		{10.0, SeverityCritical},
	}
	for _, tt := range tests {
		if got := ratioSeverity(tt.ratio); got != tt.want {
			t.Errorf("ratioSeverity(%f) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Run("empty distribution", func(t *testing.T) {
		if got := normalize(map[string]float64{}); len(got) != 0 {
			t.Errorf("normalize(empty) = %v, want empty", got)
		}
	})
	t.Run("negative values are dropped", func(t *testing.T) {
		got := normalize(map[string]float64{"a": 1, "b": -1})
		if len(got) != 1 || math.Abs(got["a"]-1.0) > 1e-9 {
			t.Errorf("normalize = %v, want {a: 1}", got)
		}
	})
}
