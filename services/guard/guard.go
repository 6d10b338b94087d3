// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard assembles the security and resilience components into
// one wired core.
//
// Components are independent and communicate only through hooks; this
// package performs the wiring so detections, drift alerts, resilience
// failures, and recovery actions all land in the audit trail.
package guard

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/services/guard/audit"
	"github.com/AleutianAI/AleutianGuard/services/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/guard/detect"
	"github.com/AleutianAI/AleutianGuard/services/guard/drift"
	"github.com/AleutianAI/AleutianGuard/services/guard/recovery"
	"github.com/AleutianAI/AleutianGuard/services/guard/resilience"
	"github.com/AleutianAI/AleutianGuard/services/guard/storage"
	"github.com/AleutianAI/AleutianGuard/services/guard/storage/badger"
	"github.com/AleutianAI/AleutianGuard/services/guard/telemetry"
)

// Core holds the wired guard components.
//
// Thread Safety: Safe for concurrent use after creation. All
// components are individually thread-safe and wiring happens before
// Core is returned.
type Core struct {
	Logger     *logging.Logger
	Resilience *resilience.Manager
	Detector   *detect.Detector
	Drift      *drift.Monitor
	Recovery   *recovery.Manager
	Audit      *audit.Logger

	rules   *detect.RuleSet
	store   storage.Store
	metrics *telemetry.Metrics
}

// Option customizes Core construction.
type Option func(*coreOptions)

type coreOptions struct {
	meter metric.Meter
}

// WithMeter enables OpenTelemetry instruments on the core, registered
// against the given meter. Without it the core reports only through
// the package-level Prometheus collectors.
func WithMeter(meter metric.Meter) Option {
	return func(o *coreOptions) { o.meter = meter }
}

// New builds a fully wired guard core from configuration.
//
// Inputs:
//   - cfg: Service configuration, typically from config.Load or
//     config.Default.
//   - opts: Optional construction options, e.g. WithMeter.
//
// Outputs:
//   - *Core: The wired core. Caller must Close() when done.
//   - error: Non-nil when storage, rule, playbook, or instrument setup
//     fails.
func New(cfg config.GuardConfig, opts ...Option) (*Core, error) {
	var co coreOptions
	for _, opt := range opts {
		opt(&co)
	}
	logger := logging.New(logging.Config{
		Level:   parseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "guard",
	})

	var store storage.Store
	if cfg.Storage.Path != "" {
		badgerCfg := badger.DefaultConfig()
		badgerCfg.Path = cfg.Storage.Path
		badgerCfg.SyncWrites = cfg.Storage.SyncWrites
		badgerCfg.Logger = logger.Slog()
		var err error
		store, err = badger.New(badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	auditLogger := audit.NewLogger(audit.Config{
		TamperDetection: cfg.Audit.TamperDetection,
		RetentionDays:   cfg.Audit.RetentionDays,
		MaxEvents:       cfg.Audit.MaxEvents,
	}, store, logger)

	resilienceMgr := resilience.NewManager(resilience.ManagerConfig{
		DefaultPolicy: resilience.RetryPolicy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Exponential: cfg.Retry.Exponential,
			Jitter:      cfg.Retry.Jitter,
			RetryableCategories: resilience.DefaultRetryPolicy().RetryableCategories,
		},
		BreakerConfig: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		},
	}, logger)

	rules := detect.NewRuleSet(logger)
	if cfg.Detector.RuleFile != "" {
		if _, err := rules.LoadFile(cfg.Detector.RuleFile); err != nil {
			closeAll(store, nil)
			return nil, fmt.Errorf("load detection rules: %w", err)
		}
		if cfg.Detector.WatchRuleFile {
			if err := rules.Watch(cfg.Detector.RuleFile); err != nil {
				closeAll(store, rules)
				return nil, fmt.Errorf("watch detection rules: %w", err)
			}
		}
	}
	detector := detect.NewDetector(detect.DetectorConfig{
		RateLimitWindow:      cfg.Detector.RateLimitWindow,
		RateLimitMaxRequests: cfg.Detector.RateLimitMaxRequests,
		DetectionHistorySize: cfg.Detector.DetectionHistorySize,
	}, rules, logger)

	driftMonitor := drift.NewMonitor(drift.MonitorConfig{
		WindowSize:       cfg.Drift.WindowSize,
		AlertThreshold:   cfg.Drift.AlertThreshold,
		AlertHistorySize: cfg.Drift.AlertHistorySize,
	}, logger)

	recoveryMgr := recovery.NewManager(recovery.ManagerConfig{
		MaxRollbackPoints: cfg.Recovery.MaxRollbackPoints,
	}, logger, store)
	if cfg.Recovery.PlaybookFile != "" {
		if err := recoveryMgr.LoadPlaybookFile(cfg.Recovery.PlaybookFile); err != nil {
			closeAll(store, rules)
			return nil, fmt.Errorf("load playbooks: %w", err)
		}
	}

	core := &Core{
		Logger:     logger,
		Resilience: resilienceMgr,
		Detector:   detector,
		Drift:      driftMonitor,
		Recovery:   recoveryMgr,
		Audit:      auditLogger,
		rules:      rules,
		store:      store,
	}
	if co.meter != nil {
		metrics, err := telemetry.NewMetrics(co.meter)
		if err != nil {
			closeAll(store, rules)
			return nil, fmt.Errorf("register instruments: %w", err)
		}
		core.metrics = metrics
		core.wireTelemetry()
	}
	core.wireAudit()
	return core, nil
}

// wireTelemetry feeds the OTel instruments from component hooks.
func (c *Core) wireTelemetry() {
	m := c.metrics

	c.Resilience.AddExecutionHook(func(ctx context.Context, record resilience.ExecutionRecord) {
		attrs := metric.WithAttributes(
			attribute.String("operation", record.Operation),
			attribute.String("outcome", record.Outcome),
		)
		m.ExecutionsTotal.Add(ctx, 1, attrs)
		m.ExecutionDuration.Record(ctx, record.Duration.Seconds(), attrs)
	})

	c.Detector.AddDetectionHook(func(ctx context.Context, sourceID string, result detect.DetectionResult) {
		m.DetectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("threat_level", result.ThreatLevel.Name),
		))
	})

	c.Drift.AddAlertHook(func(alert drift.DriftAlert) {
		m.DriftAlertsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("drift_type", string(alert.DriftType)),
			attribute.String("severity", alert.Severity.String()),
		))
	})

	c.Recovery.AddActionHook(func(action recovery.RecoveryAction) {
		outcome := "success"
		if !action.Success {
			outcome = "failure"
		}
		m.RecoveryActionsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("action_type", string(action.ActionType)),
			attribute.String("outcome", outcome),
		))
	})

	c.Recovery.AddIncidentHook(func(incident recovery.Incident) {
		m.IncidentsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("severity", string(incident.Severity)),
		))
	})

	c.Audit.AddHandler(func(ctx context.Context, event audit.Event) {
		m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(event.Category)),
			attribute.String("severity", string(event.Severity)),
		))
	})
}

// wireAudit connects component hooks to the audit trail.
func (c *Core) wireAudit() {
	c.Resilience.AddErrorHook(func(ctx context.Context, record resilience.ErrorRecord) {
		c.Audit.Log(ctx, audit.CategorySystem, "operation.error", "resilience",
			record.Operation, "failure", audit.SeverityError, map[string]any{
				"category": string(record.Category),
				"message":  record.Message,
			})
	})

	c.Detector.AddDetectionHook(func(ctx context.Context, sourceID string, result detect.DetectionResult) {
		severity := audit.SeverityWarning
		if result.ThreatLevel.AtLeast(detect.ThreatHigh) {
			severity = audit.SeverityCritical
		}
		c.Audit.LogSecurityAlert(ctx, sourceID, "input", severity, map[string]any{
			"threat_level": result.ThreatLevel.Name,
			"attack_types": result.AttackTypes,
			"confidence":   result.Confidence,
		})
	})

	c.Drift.AddAlertHook(func(alert drift.DriftAlert) {
		severity := audit.SeverityWarning
		if alert.Severity.AtLeast(drift.SeverityCritical) {
			severity = audit.SeverityCritical
		}
		c.Audit.Log(context.Background(), audit.CategorySecurity, "drift.alert",
			"drift-monitor", alert.MetricName, "detected", severity, map[string]any{
				"drift_type":    string(alert.DriftType),
				"severity":      alert.Severity.String(),
				"deviation_pct": alert.DeviationPercentage,
			})
	})

	c.Recovery.AddActionHook(func(action recovery.RecoveryAction) {
		outcome := "success"
		if !action.Success {
			outcome = "failure"
		}
		c.Audit.LogRecoveryAction(context.Background(), action.Initiator,
			action.Target, outcome, map[string]any{
				"action_type": string(action.ActionType),
				"action_id":   action.ID,
			})
	})
}

// Close releases the rule watcher, storage, and log file.
func (c *Core) Close() error {
	var errs []error
	if c.rules != nil {
		if err := c.rules.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rules: %w", err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := c.Logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logger: %w", err))
	}
	return errors.Join(errs...)
}

// closeAll is best-effort cleanup on a failed New.
func closeAll(store storage.Store, rules *detect.RuleSet) {
	if rules != nil {
		_ = rules.Close()
	}
	if store != nil {
		_ = store.Close()
	}
}

// parseLevel maps a config level string to a logging.Level.
func parseLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
