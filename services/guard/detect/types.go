// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
	"time"
)

// ThreatLevel ranks the severity of a detection.
//
// The zero value is ThreatNone. Comparison goes through the explicit
// Rank field rather than declaration order, so reordering the table
// below can never silently change severity comparisons.
type ThreatLevel struct {
	// Name is the stable wire name, e.g. "high".
	Name string `json:"name" yaml:"name"`

	// Rank orders levels: none(0) < low(1) < medium(2) < high(3) < critical(4).
	Rank int `json:"rank" yaml:"rank"`
}

// Threat levels from benign to critical.
var (
	ThreatNone     = ThreatLevel{Name: "none", Rank: 0}
	ThreatLow      = ThreatLevel{Name: "low", Rank: 1}
	ThreatMedium   = ThreatLevel{Name: "medium", Rank: 2}
	ThreatHigh     = ThreatLevel{Name: "high", Rank: 3}
	ThreatCritical = ThreatLevel{Name: "critical", Rank: 4}
)

// String returns the level's wire name.
func (t ThreatLevel) String() string {
	if t.Name == "" {
		return "none"
	}
	return t.Name
}

// AtLeast reports whether t ranks at or above other.
func (t ThreatLevel) AtLeast(other ThreatLevel) bool {
	return t.Rank >= other.Rank
}

// MaxThreat returns the higher-ranked of two levels.
func MaxThreat(a, b ThreatLevel) ThreatLevel {
	if b.Rank > a.Rank {
		return b
	}
	return a
}

// ParseThreatLevel maps a wire name to a ThreatLevel.
//
// Outputs:
//   - ThreatLevel: The matching level.
//   - error: Non-nil for unknown names.
func ParseThreatLevel(name string) (ThreatLevel, error) {
	switch name {
	case "", "none":
		return ThreatNone, nil
	case "low":
		return ThreatLow, nil
	case "medium":
		return ThreatMedium, nil
	case "high":
		return ThreatHigh, nil
	case "critical":
		return ThreatCritical, nil
	default:
		return ThreatNone, fmt.Errorf("unknown threat level %q", name)
	}
}

// AttackType categorizes what kind of attack a detection represents.
type AttackType string

const (
	// AttackPromptInjection attempts to override system instructions.
	AttackPromptInjection AttackType = "prompt_injection"

	// AttackJailbreak attempts to bypass safety constraints.
	AttackJailbreak AttackType = "jailbreak"

	// AttackDenialOfService floods the system with requests.
	AttackDenialOfService AttackType = "denial_of_service"

	// AttackDataExfiltration attempts to extract protected data.
	AttackDataExfiltration AttackType = "data_exfiltration"

	// AttackModelExtraction probes to reconstruct model behavior.
	AttackModelExtraction AttackType = "model_extraction"

	// AttackAnomalousInput is input with statistically suspicious shape.
	AttackAnomalousInput AttackType = "anomalous_input"

	// AttackKnownSignature matched an operator-registered signature.
	AttackKnownSignature AttackType = "known_signature"

	// AttackBlockedContent matched the explicit content-hash blocklist.
	AttackBlockedContent AttackType = "blocked_content"
)

// DetectionResult is the immutable outcome of one Analyze call.
//
// The caller decides whether to persist it; this core does not.
type DetectionResult struct {
	// IsAdversarial is true when the input should be treated as hostile.
	IsAdversarial bool `json:"is_adversarial"`

	// ThreatLevel ranks the worst signal found.
	ThreatLevel ThreatLevel `json:"threat_level"`

	// AttackTypes is the set of attack categories detected.
	AttackTypes []AttackType `json:"attack_types,omitempty"`

	// Confidence is the detector's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Details carries stage-specific diagnostics.
	Details map[string]any `json:"details,omitempty"`

	// Recommendations holds operator guidance for this detection.
	Recommendations []string `json:"recommendations,omitempty"`

	// Timestamp is when the analysis ran.
	Timestamp time.Time `json:"timestamp"`
}

// hasAttackType reports membership in the AttackTypes set.
func (r DetectionResult) hasAttackType(t AttackType) bool {
	for _, at := range r.AttackTypes {
		if at == t {
			return true
		}
	}
	return false
}
