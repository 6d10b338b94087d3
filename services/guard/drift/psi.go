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

import "math"

// psiEpsilon floors probabilities so ln(actual/expected) never hits
// log(0) when a category exists on only one side.
const psiEpsilon = 1e-6

// PSI severity thresholds. Industry convention: below 0.1 is stable,
// 0.1-0.25 warrants watching, above 0.25 is actionable drift.
const (
	psiMinorThreshold       = 0.1
	psiModerateThreshold    = 0.2
	psiSignificantThreshold = 0.25
	psiCriticalThreshold    = 0.5
)

// populationStabilityIndex computes PSI between two categorical
// distributions.
//
// Both maps hold category -> probability (or raw proportion; inputs are
// normalized first). Every key present in either map contributes
// (actual-expected)*ln(actual/expected) with epsilon-floored
// probabilities.
func populationStabilityIndex(current, reference map[string]float64) float64 {
	currentNorm := normalize(current)
	referenceNorm := normalize(reference)

	keys := make(map[string]struct{}, len(currentNorm)+len(referenceNorm))
	for k := range currentNorm {
		keys[k] = struct{}{}
	}
	for k := range referenceNorm {
		keys[k] = struct{}{}
	}

	var psi float64
	for k := range keys {
		actual := math.Max(currentNorm[k], psiEpsilon)
		expected := math.Max(referenceNorm[k], psiEpsilon)
		psi += (actual - expected) * math.Log(actual/expected)
	}
	return psi
}

// normalize scales a distribution so its values sum to 1. An empty or
// zero-total distribution returns an empty map.
func normalize(dist map[string]float64) map[string]float64 {
	var total float64
	for _, v := range dist {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(dist))
	for k, v := range dist {
		if v > 0 {
			out[k] = v / total
		}
	}
	return out
}

// psiSeverity maps a PSI value to an alert severity.
func psiSeverity(psi float64) Severity {
	switch {
	case psi < psiMinorThreshold:
		return SeverityNone
	case psi < psiModerateThreshold:
		return SeverityMinor
	case psi < psiSignificantThreshold:
		return SeverityModerate
	case psi < psiCriticalThreshold:
		return SeveritySignificant
	default:
		return SeverityCritical
	}
}

// ratioSeverity maps deviation/tolerance (or deviation/threshold)
// ratios to an alert severity.
func ratioSeverity(ratio float64) Severity {
	switch {
	case ratio < 1:
		return SeverityNone
	case ratio < 1.5:
		return SeverityMinor
	case ratio < 2:
		return SeverityModerate
	case ratio < 3:
		return SeveritySignificant
	default:
		return SeverityCritical
	}
}
