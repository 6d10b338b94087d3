// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the guard service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps config files to prevent resource exhaustion
// from a malformed or hostile file.
const MaxConfigFileSize = 1 << 20 // 1 MB

// validate is the validator instance for guard configuration.
var validate = validator.New()

// BreakerSettings configures circuit breakers.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold" validate:"gte=1,lte=1000"`

	// RecoveryTimeout is how long the breaker stays open before
	// admitting trial requests.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" validate:"gt=0"`

	// HalfOpenRequests is the trial-success count that closes the
	// breaker.
	HalfOpenRequests int `yaml:"half_open_requests" validate:"gte=1,lte=100"`
}

// RetrySettings configures the default retry policy.
type RetrySettings struct {
	// MaxRetries is the retry count after the initial attempt.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=20"`

	// BaseDelay is the first retry delay.
	BaseDelay time.Duration `yaml:"base_delay" validate:"gt=0"`

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`

	// Exponential enables exponential backoff.
	Exponential bool `yaml:"exponential"`

	// Jitter enables randomized delay scaling.
	Jitter bool `yaml:"jitter"`
}

// DetectorSettings configures the adversarial input detector.
type DetectorSettings struct {
	// RateLimitWindow is the sliding rate-limit window.
	RateLimitWindow time.Duration `yaml:"rate_limit_window" validate:"gt=0"`

	// RateLimitMaxRequests is the per-source request cap per window.
	RateLimitMaxRequests int `yaml:"rate_limit_max_requests" validate:"gte=1"`

	// DetectionHistorySize bounds the stored detection history.
	DetectionHistorySize int `yaml:"detection_history_size" validate:"gte=1"`

	// RuleFile optionally points to a YAML rule file loaded at startup.
	RuleFile string `yaml:"rule_file,omitempty"`

	// WatchRuleFile enables hot reload of the rule file.
	WatchRuleFile bool `yaml:"watch_rule_file"`
}

// DriftSettings configures the drift monitor.
type DriftSettings struct {
	// WindowSize bounds each metric's rolling sample window.
	WindowSize int `yaml:"window_size" validate:"gte=2"`

	// AlertThreshold is the relative shift that triggers a
	// concept-drift alert (0.1 = 10%).
	AlertThreshold float64 `yaml:"alert_threshold" validate:"gt=0,lte=1"`

	// AlertHistorySize bounds the stored alert history.
	AlertHistorySize int `yaml:"alert_history_size" validate:"gte=1"`
}

// RecoverySettings configures the recovery manager.
type RecoverySettings struct {
	// MaxRollbackPoints bounds the rollback store.
	MaxRollbackPoints int `yaml:"max_rollback_points" validate:"gte=1,lte=1000"`

	// PlaybookFile optionally points to a YAML playbook file loaded at
	// startup.
	PlaybookFile string `yaml:"playbook_file,omitempty"`
}

// AuditSettings configures the audit logger.
type AuditSettings struct {
	// TamperDetection enables the hash chain on logged events.
	TamperDetection bool `yaml:"tamper_detection"`

	// RetentionDays is how long events are retained before cleanup.
	RetentionDays int `yaml:"retention_days" validate:"gte=1,lte=3650"`

	// MaxEvents bounds the in-memory event log.
	MaxEvents int `yaml:"max_events" validate:"gte=100"`
}

// StorageSettings configures the persistence collaborator.
type StorageSettings struct {
	// Path is the BadgerDB directory. Empty disables persistence.
	Path string `yaml:"path,omitempty"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

// GuardConfig is the full guard service configuration.
type GuardConfig struct {
	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogDir enables JSON file logging when set.
	LogDir string `yaml:"log_dir,omitempty"`

	Breaker  BreakerSettings  `yaml:"breaker"`
	Retry    RetrySettings    `yaml:"retry"`
	Detector DetectorSettings `yaml:"detector"`
	Drift    DriftSettings    `yaml:"drift"`
	Recovery RecoverySettings `yaml:"recovery"`
	Audit    AuditSettings    `yaml:"audit"`
	Storage  StorageSettings  `yaml:"storage"`
}

// Default returns the production default configuration.
func Default() GuardConfig {
	return GuardConfig{
		LogLevel: "info",
		Breaker: BreakerSettings{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenRequests: 2,
		},
		Retry: RetrySettings{
			MaxRetries:  3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Exponential: true,
			Jitter:      true,
		},
		Detector: DetectorSettings{
			RateLimitWindow:      time.Minute,
			RateLimitMaxRequests: 100,
			DetectionHistorySize: 1000,
		},
		Drift: DriftSettings{
			WindowSize:       100,
			AlertThreshold:   0.1,
			AlertHistorySize: 500,
		},
		Recovery: RecoverySettings{
			MaxRollbackPoints: 10,
		},
		Audit: AuditSettings{
			TamperDetection: true,
			RetentionDays:   90,
			MaxEvents:       10000,
		},
	}
}

// Load reads a YAML config file, overlaying it on the defaults, and
// validates the result.
//
// Inputs:
//   - path: Path to the config file.
//
// Outputs:
//   - GuardConfig: The merged, validated configuration.
//   - error: Non-nil when the file is missing, oversized, malformed,
//     or fails validation.
func Load(path string) (GuardConfig, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		return GuardConfig{}, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return GuardConfig{}, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return GuardConfig{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return GuardConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return GuardConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraint tags.
func (c GuardConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
