// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect scans inbound text for prompt injection, jailbreaks,
// flooding, and statistically anomalous input.
package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
)

// Prometheus metrics for adversarial detection.
var (
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_detect_analyses_total",
		Help: "Total analyze calls by outcome stage.",
	}, []string{"stage"})

	detectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_detect_detections_total",
		Help: "Total adversarial detections by threat level.",
	}, []string{"threat_level"})
)

// DetectorConfig configures the adversarial detector.
type DetectorConfig struct {
	// RateLimitWindow is the sliding window for per-source limiting.
	// Default: 60s
	RateLimitWindow time.Duration

	// RateLimitMaxRequests is the per-source request budget inside the
	// window. Default: 100
	RateLimitMaxRequests int

	// DetectionHistorySize bounds the in-memory detection log used by
	// GetThreatSummary. Default: 1000
	DetectionHistorySize int
}

// DefaultDetectorConfig returns production defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		RateLimitWindow:      60 * time.Second,
		RateLimitMaxRequests: 100,
		DetectionHistorySize: 1000,
	}
}

// DetectionHook receives every adversarial detection, e.g. to mirror
// it into the audit trail. Hooks run outside the detector's lock.
type DetectionHook func(ctx context.Context, sourceID string, result DetectionResult)

// detectionRecord is the compact per-analysis entry kept for summaries.
type detectionRecord struct {
	Timestamp   time.Time
	SourceID    string
	Adversarial bool
	ThreatLevel ThreatLevel
	AttackTypes []AttackType
}

// Detector analyzes inbound text for adversarial content.
//
// # Description
//
// The pipeline short-circuits at the first positive signal, in order:
// content-hash blocklist, per-source rate limiting, known signature
// match, rule-based validation, and finally statistical anomaly
// scoring. Rule tables are data-driven through RuleSet so operators
// can extend coverage without a rebuild.
//
// # Thread Safety
//
// Safe for concurrent use.
type Detector struct {
	config DetectorConfig
	rules  *RuleSet
	scorer anomalyScorer
	logger *logging.Logger

	limiter *slidingWindowLimiter

	mu         sync.Mutex
	blocked    map[string]struct{}     // sha256 content hashes
	signatures map[string]AttackType   // lowercase substring -> attack type
	detections *history.RingBuffer[detectionRecord]
	hooks      []DetectionHook
}

// NewDetector creates an adversarial detector with the built-in rule
// table.
//
// Inputs:
//   - config: Detector configuration. Zero values fall back to defaults.
//   - rules: Rule set to evaluate. Nil creates a default set.
//   - logger: Structured logger. Nil falls back to the default logger.
//
// Outputs:
//   - *Detector: Ready-to-use detector.
func NewDetector(config DetectorConfig, rules *RuleSet, logger *logging.Logger) *Detector {
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = 60 * time.Second
	}
	if config.RateLimitMaxRequests <= 0 {
		config.RateLimitMaxRequests = 100
	}
	if config.DetectionHistorySize <= 0 {
		config.DetectionHistorySize = 1000
	}
	if logger == nil {
		logger = logging.Default()
	}
	if rules == nil {
		rules = NewRuleSet(logger)
	}
	return &Detector{
		config:     config,
		rules:      rules,
		logger:     logger,
		limiter:    newSlidingWindowLimiter(config.RateLimitWindow, config.RateLimitMaxRequests),
		blocked:    make(map[string]struct{}),
		signatures: make(map[string]AttackType),
		detections: history.NewRingBuffer[detectionRecord](config.DetectionHistorySize),
	}
}

// AddDetectionHook registers a hook invoked for every adversarial
// detection.
func (d *Detector) AddDetectionHook(hook DetectionHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook)
}

// BlockContent adds the exact text to the content-hash blocklist.
func (d *Detector) BlockContent(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked[contentHash(text)] = struct{}{}
}

// RegisterSignature maps a known attack substring to its attack type.
// Matching is case-insensitive.
func (d *Detector) RegisterSignature(signature string, attackType AttackType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signatures[strings.ToLower(signature)] = attackType
}

// Analyze runs the detection pipeline over one piece of inbound text.
//
// Inputs:
//   - ctx: Context, passed through to detection hooks.
//   - text: The inbound text to analyze.
//   - sourceID: Optional source identifier; enables rate limiting.
//   - extra: Optional caller context merged into result details.
//
// Outputs:
//   - DetectionResult: Immutable analysis outcome.
func (d *Detector) Analyze(ctx context.Context, text, sourceID string, extra map[string]any) DetectionResult {
	now := time.Now()

	// 1. Explicit block list.
	if d.isBlocked(text) {
		analysesTotal.WithLabelValues("blocklist").Inc()
		return d.finish(ctx, sourceID, DetectionResult{
			IsAdversarial: true,
			ThreatLevel:   ThreatCritical,
			AttackTypes:   []AttackType{AttackBlockedContent},
			Confidence:    1.0,
			Details:       mergeDetails(extra, map[string]any{"reason": "content hash in blocklist"}),
			Recommendations: []string{
				"reject the request",
				"review the source's recent activity",
			},
			Timestamp: now,
		})
	}

	// 2. Rate limiting. A source at its limit is rejected without
	// recording this request.
	if sourceID != "" && !d.limiter.allow(sourceID, now) {
		analysesTotal.WithLabelValues("rate_limit").Inc()
		return d.finish(ctx, sourceID, DetectionResult{
			IsAdversarial: true,
			ThreatLevel:   ThreatHigh,
			AttackTypes:   []AttackType{AttackDenialOfService},
			Confidence:    0.9,
			Details: mergeDetails(extra, map[string]any{
				"reason":       "rate limit exceeded",
				"window_secs":  d.config.RateLimitWindow.Seconds(),
				"max_requests": d.config.RateLimitMaxRequests,
			}),
			Recommendations: []string{
				"throttle or temporarily block the source",
				"check for automated traffic",
			},
			Timestamp: now,
		})
	}

	// 3. Known signature match.
	if sig, attackType, ok := d.matchSignature(text); ok {
		analysesTotal.WithLabelValues("signature").Inc()
		return d.finish(ctx, sourceID, DetectionResult{
			IsAdversarial: true,
			ThreatLevel:   ThreatCritical,
			AttackTypes:   []AttackType{attackType, AttackKnownSignature},
			Confidence:    0.99,
			Details:       mergeDetails(extra, map[string]any{"signature": sig}),
			Recommendations: []string{
				"reject the request",
				"record the source for signature tracking",
			},
			Timestamp: now,
		})
	}

	// 4. Rule-based validation.
	if result, matched := d.evaluateRules(text, extra, now); matched {
		analysesTotal.WithLabelValues("rules").Inc()
		return d.finish(ctx, sourceID, result)
	}

	// 5. Statistical anomaly scoring, only when no rule matched.
	if result, flagged := d.scoreAnomalies(text, extra, now); flagged {
		analysesTotal.WithLabelValues("anomaly").Inc()
		return d.finish(ctx, sourceID, result)
	}

	analysesTotal.WithLabelValues("clean").Inc()
	return d.finish(ctx, sourceID, DetectionResult{
		IsAdversarial: false,
		ThreatLevel:   ThreatNone,
		Confidence:    0.95,
		Details:       mergeDetails(extra, nil),
		Timestamp:     now,
	})
}

// evaluateRules runs every validation rule against the text.
func (d *Detector) evaluateRules(text string, extra map[string]any, now time.Time) (DetectionResult, bool) {
	var matchedNames []string
	var attackTypes []AttackType
	level := ThreatNone

	for _, rule := range d.rules.Rules() {
		if !rule.Matches(text) {
			continue
		}
		matchedNames = append(matchedNames, rule.Name)
		level = MaxThreat(level, rule.Severity)

		seen := false
		for _, at := range attackTypes {
			if at == rule.AttackType {
				seen = true
				break
			}
		}
		if !seen {
			attackTypes = append(attackTypes, rule.AttackType)
		}
	}

	if len(matchedNames) == 0 {
		return DetectionResult{}, false
	}

	confidence := 0.9 + 0.02*float64(len(matchedNames))
	if confidence > 0.99 {
		confidence = 0.99
	}

	return DetectionResult{
		IsAdversarial: true,
		ThreatLevel:   level,
		AttackTypes:   attackTypes,
		Confidence:    confidence,
		Details: mergeDetails(extra, map[string]any{
			"matched_rules": matchedNames,
		}),
		Recommendations: []string{
			"reject or sanitize the input",
			"review matched rules for false positives",
		},
		Timestamp: now,
	}, true
}

// scoreAnomalies applies the statistical heuristics. Two or more
// co-occurring anomalies mark the input adversarial at medium severity;
// a single anomaly is reported as low threat but not adversarial.
func (d *Detector) scoreAnomalies(text string, extra map[string]any, now time.Time) (DetectionResult, bool) {
	anomalies := d.scorer.score(text)
	if len(anomalies) == 0 {
		return DetectionResult{}, false
	}

	level := ThreatLow
	adversarial := false
	if len(anomalies) >= 2 {
		level = ThreatMedium
		adversarial = true
	}

	confidence := 0.5 + 0.15*float64(len(anomalies))
	if confidence > 0.9 {
		confidence = 0.9
	}

	return DetectionResult{
		IsAdversarial: adversarial,
		ThreatLevel:   level,
		AttackTypes:   []AttackType{AttackAnomalousInput},
		Confidence:    confidence,
		Details: mergeDetails(extra, map[string]any{
			"anomalies": anomalies,
		}),
		Recommendations: []string{
			"inspect the input before further processing",
		},
		Timestamp: now,
	}, true
}

// ThreatSummary is a dashboard snapshot of detections over the
// trailing hour.
type ThreatSummary struct {
	// TotalAnalyses is how many analyses ran in the window.
	TotalAnalyses int `json:"total_analyses"`

	// TotalDetections is how many were adversarial.
	TotalDetections int `json:"total_detections"`

	// ByThreatLevel maps level name to detection count.
	ByThreatLevel map[string]int `json:"by_threat_level"`

	// ByAttackType maps attack type to detection count.
	ByAttackType map[AttackType]int `json:"by_attack_type"`

	// ActiveSources is the number of sources with live rate-limit state.
	ActiveSources int `json:"active_sources"`
}

// GetThreatSummary aggregates detections over the trailing hour.
//
// Safe to call at any rate.
func (d *Detector) GetThreatSummary() ThreatSummary {
	now := time.Now()
	cutoff := now.Add(-time.Hour)

	d.mu.Lock()
	recent := d.detections.Filter(func(r detectionRecord) bool {
		return r.Timestamp.After(cutoff)
	})
	d.mu.Unlock()

	summary := ThreatSummary{
		ByThreatLevel: make(map[string]int),
		ByAttackType:  make(map[AttackType]int),
		ActiveSources: d.limiter.activeSources(now),
	}
	for _, r := range recent {
		summary.TotalAnalyses++
		if !r.Adversarial {
			continue
		}
		summary.TotalDetections++
		summary.ByThreatLevel[r.ThreatLevel.String()]++
		for _, at := range r.AttackTypes {
			summary.ByAttackType[at]++
		}
	}
	return summary
}

// finish records the analysis, updates metrics, and fans out hooks.
func (d *Detector) finish(ctx context.Context, sourceID string, result DetectionResult) DetectionResult {
	d.mu.Lock()
	d.detections.Push(detectionRecord{
		Timestamp:   result.Timestamp,
		SourceID:    sourceID,
		Adversarial: result.IsAdversarial,
		ThreatLevel: result.ThreatLevel,
		AttackTypes: result.AttackTypes,
	})
	hooks := make([]DetectionHook, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.Unlock()

	if result.IsAdversarial {
		detectionsTotal.WithLabelValues(result.ThreatLevel.String()).Inc()
		d.logger.Warn("adversarial input detected",
			"source_id", sourceID,
			"threat_level", result.ThreatLevel.String(),
			"attack_types", result.AttackTypes,
			"confidence", result.Confidence,
		)
		for _, hook := range hooks {
			hook(ctx, sourceID, result)
		}
	}
	return result
}

// isBlocked checks the content-hash blocklist.
func (d *Detector) isBlocked(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.blocked[contentHash(text)]
	return ok
}

// matchSignature performs a case-insensitive substring scan over the
// registered signature map.
func (d *Detector) matchSignature(text string) (string, AttackType, bool) {
	lower := strings.ToLower(text)

	d.mu.Lock()
	defer d.mu.Unlock()
	for sig, attackType := range d.signatures {
		if strings.Contains(lower, sig) {
			return sig, attackType, true
		}
	}
	return "", "", false
}

// contentHash returns the hex sha256 of the text.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// mergeDetails combines caller context with stage diagnostics.
func mergeDetails(extra, stage map[string]any) map[string]any {
	if len(extra) == 0 && len(stage) == 0 {
		return nil
	}
	out := make(map[string]any, len(extra)+len(stage))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range stage {
		out[k] = v
	}
	return out
}
