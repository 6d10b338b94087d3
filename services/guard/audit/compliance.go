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

// Finding thresholds for compliance reporting. Counts above these
// produce findings in the generated report.
const (
	securityAlertFindingThreshold = 10
	authFailureFindingThreshold   = 5
	criticalEventFindingThreshold = 0
	errorEventFindingThreshold    = 20
)

// Finding is one compliance observation derived from the event log.
type Finding struct {
	// Severity is "high", "warning", or "info".
	Severity string `json:"severity"`

	// Title is a short label for the finding.
	Title string `json:"title"`

	// Description explains what was observed.
	Description string `json:"description"`

	// Count is the underlying event count.
	Count int `json:"count"`
}

// ComplianceReport is computed on demand from the event log.
type ComplianceReport struct {
	// ID is the content-derived report identifier.
	ID string `json:"id"`

	// GeneratedAt is when the report was computed.
	GeneratedAt time.Time `json:"generated_at"`

	// PeriodStart and PeriodEnd bound the reporting window.
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Framework names the compliance framework, e.g. "SOC2".
	Framework string `json:"framework"`

	// OverallStatus is COMPLIANT, ACCEPTABLE, or NEEDS_ATTENTION.
	OverallStatus string `json:"overall_status"`

	// Findings holds derived observations, worst first.
	Findings []Finding `json:"findings"`

	// Metrics holds the raw counts behind the findings.
	Metrics map[string]int `json:"metrics"`

	// Recommendations holds static guidance keyed to exceeded counts.
	Recommendations []string `json:"recommendations"`

	// ChainStatus is the integrity status at generation time.
	ChainStatus string `json:"chain_status"`
}

// GenerateComplianceReport aggregates events in the trailing window
// into findings and an overall status.
//
// Any high finding makes the status NEEDS_ATTENTION; any warning
// finding ACCEPTABLE; otherwise COMPLIANT.
//
// Inputs:
//   - periodDays: Window length in days. Values <= 0 default to 30.
//   - framework: Framework label stamped on the report.
//
// Outputs:
//   - ComplianceReport: The computed report.
func (l *Logger) GenerateComplianceReport(periodDays int, framework string) ComplianceReport {
	if periodDays <= 0 {
		periodDays = 30
	}
	now := time.Now()
	start := now.AddDate(0, 0, -periodDays)

	l.mu.Lock()
	var inWindow []Event
	for _, e := range l.events {
		if e.Timestamp.After(start) {
			inWindow = append(inWindow, e)
		}
	}
	l.mu.Unlock()

	metrics := map[string]int{
		"total_events":    len(inWindow),
		"security_alerts": 0,
		"auth_failures":   0,
		"error_events":    0,
		"critical_events": 0,
	}
	for _, e := range inWindow {
		if e.Category == CategorySecurity {
			metrics["security_alerts"]++
		}
		if e.Category == CategoryAuthentication && e.Outcome != "success" {
			metrics["auth_failures"]++
		}
		switch e.Severity {
		case SeverityError:
			metrics["error_events"]++
		case SeverityCritical:
			metrics["critical_events"]++
		}
	}

	var findings []Finding
	var recommendations []string

	if metrics["critical_events"] > criticalEventFindingThreshold {
		findings = append(findings, Finding{
			Severity:    "high",
			Title:       "critical events recorded",
			Description: fmt.Sprintf("%d critical-severity events in the reporting period", metrics["critical_events"]),
			Count:       metrics["critical_events"],
		})
		recommendations = append(recommendations,
			"review every critical event and confirm each has a linked incident")
	}
	if metrics["security_alerts"] > securityAlertFindingThreshold {
		findings = append(findings, Finding{
			Severity:    "high",
			Title:       "elevated security alert volume",
			Description: fmt.Sprintf("%d security alerts exceed the threshold of %d", metrics["security_alerts"], securityAlertFindingThreshold),
			Count:       metrics["security_alerts"],
		})
		recommendations = append(recommendations,
			"tune detection rules or investigate sustained attack traffic")
	}
	if metrics["auth_failures"] > authFailureFindingThreshold {
		findings = append(findings, Finding{
			Severity:    "warning",
			Title:       "repeated authentication failures",
			Description: fmt.Sprintf("%d failed authentication attempts in the period", metrics["auth_failures"]),
			Count:       metrics["auth_failures"],
		})
		recommendations = append(recommendations,
			"verify lockout policy and check for credential stuffing")
	}
	if metrics["error_events"] > errorEventFindingThreshold {
		findings = append(findings, Finding{
			Severity:    "warning",
			Title:       "elevated error volume",
			Description: fmt.Sprintf("%d error-severity events in the period", metrics["error_events"]),
			Count:       metrics["error_events"],
		})
		recommendations = append(recommendations,
			"correlate error spikes with deployments and drift alerts")
	}

	status := "COMPLIANT"
	for _, f := range findings {
		if f.Severity == "high" {
			status = "NEEDS_ATTENTION"
			break
		}
		if f.Severity == "warning" {
			status = "ACCEPTABLE"
		}
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "no action required; maintain current controls")
	}

	idSum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", framework, periodDays, now.UnixNano())))

	return ComplianceReport{
		ID:              "rpt-" + hex.EncodeToString(idSum[:8]),
		GeneratedAt:     now,
		PeriodStart:     start,
		PeriodEnd:       now,
		Framework:       framework,
		OverallStatus:   status,
		Findings:        findings,
		Metrics:         metrics,
		Recommendations: recommendations,
		ChainStatus:     l.VerifyChainIntegrity().Status,
	}
}
