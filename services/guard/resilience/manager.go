// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience protects calls into unreliable or adversarial-facing
// operations with circuit breaking, categorized retries, and fallbacks.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
)

// Prometheus metrics for resilience operations.
var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_resilience_executions_total",
		Help: "Total operations executed through the resilience manager by outcome.",
	}, []string{"operation", "outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_resilience_retries_total",
		Help: "Total retry attempts by operation.",
	}, []string{"operation"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_resilience_fallbacks_total",
		Help: "Total fallback invocations by operation.",
	}, []string{"operation"})
)

// Operation is a unit of work protected by the resilience manager.
type Operation func(ctx context.Context) (any, error)

// Fallback is the last line of defense for an operation name, invoked
// when retries are exhausted or the circuit is open. Fallbacks are never
// themselves retried.
type Fallback func(ctx context.Context) (any, error)

// ErrorRecord is one classified failure kept in the bounded history.
type ErrorRecord struct {
	Operation string
	Category  ErrorCategory
	Message   string
	Timestamp time.Time
}

// ErrorHook receives every classified failure, e.g. to mirror it into
// the audit trail. Hooks run outside the manager's lock and must not
// block for long.
type ErrorHook func(ctx context.Context, record ErrorRecord)

// ExecutionRecord summarizes one completed Execute call.
type ExecutionRecord struct {
	Operation string
	// Outcome is success, failure, circuit_open, or cancelled.
	Outcome  string
	Attempts int
	Duration time.Duration
}

// ExecutionHook receives every completed Execute call, e.g. to feed
// execution counters. Hooks run outside the manager's lock and must
// not block for long.
type ExecutionHook func(ctx context.Context, record ExecutionRecord)

// ManagerConfig configures the resilience manager.
type ManagerConfig struct {
	// DefaultPolicy applies when Execute is called without WithPolicy.
	DefaultPolicy RetryPolicy

	// BreakerConfig applies to breakers created lazily by Execute.
	BreakerConfig CircuitBreakerConfig

	// HistorySize bounds the in-memory error history.
	// Default: 500
	HistorySize int
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultPolicy: DefaultRetryPolicy(),
		BreakerConfig: DefaultCircuitBreakerConfig(),
		HistorySize:   500,
	}
}

// Manager composes circuit breakers, retry policies, and fallback
// handlers to wrap arbitrary operations.
//
// # Description
//
// One Manager instance is explicitly constructed and injected into
// callers; there are no process-wide singletons. Breakers are created
// lazily per resource name and live for the process lifetime.
//
// # Thread Safety
//
// Safe for concurrent use. No lock is held while an operation, a
// fallback, or an error hook runs.
type Manager struct {
	config ManagerConfig
	logger *logging.Logger

	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	fallbacks map[string]Fallback
	errors    *history.RingBuffer[ErrorRecord]
	hooks     []ErrorHook
	execHooks []ExecutionHook
}

// NewManager creates a resilience manager.
//
// Inputs:
//   - config: Manager configuration. Zero values fall back to defaults.
//   - logger: Structured logger. Must not be nil.
//
// Outputs:
//   - *Manager: Ready-to-use manager.
func NewManager(config ManagerConfig, logger *logging.Logger) *Manager {
	if config.HistorySize <= 0 {
		config.HistorySize = 500
	}
	if config.DefaultPolicy.MaxRetries == 0 && config.DefaultPolicy.BaseDelay == 0 {
		config.DefaultPolicy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		config:    config,
		logger:    logger,
		breakers:  make(map[string]*CircuitBreaker),
		fallbacks: make(map[string]Fallback),
		errors:    history.NewRingBuffer[ErrorRecord](config.HistorySize),
	}
}

// RegisterFallback registers a fallback handler for an operation name.
//
// Re-registering replaces the previous handler.
func (m *Manager) RegisterFallback(operation string, fb Fallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[operation] = fb
}

// AddErrorHook registers a hook invoked for every classified failure.
func (m *Manager) AddErrorHook(hook ErrorHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// AddExecutionHook registers a hook invoked for every completed
// Execute call regardless of outcome.
func (m *Manager) AddExecutionHook(hook ExecutionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execHooks = append(m.execHooks, hook)
}

// Breaker returns the circuit breaker for a resource name, creating it
// lazily with the manager's breaker config.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) Breaker(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, m.config.BreakerConfig)
		m.breakers[name] = cb
	}
	return cb
}

// ExecuteOption customizes a single Execute call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	breakerName string
	policy      *RetryPolicy
}

// WithBreaker protects the call with the named circuit breaker.
func WithBreaker(name string) ExecuteOption {
	return func(o *executeOptions) { o.breakerName = name }
}

// WithPolicy overrides the manager's default retry policy for this call.
func WithPolicy(policy RetryPolicy) ExecuteOption {
	return func(o *executeOptions) { o.policy = &policy }
}

// Execute runs an operation with circuit breaking, categorized retries,
// and fallback handling.
//
// # Description
//
// If a breaker is named and rejects the call, the registered fallback
// for the operation runs instead (or ErrCircuitOpen is returned). On
// failure the error is categorized, recorded, and retried per policy
// with a context-cancellable backoff sleep. Once retries are exhausted
// the fallback runs if registered; otherwise the last error is returned
// wrapped with category and recovery suggestions.
//
// Cancellation mid-retry stops further attempts and surfaces as a
// timeout category rather than being retried.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - operation: Logical operation name, used for fallback lookup.
//   - op: The work to execute. Must not be nil.
//   - opts: Optional breaker name and policy override.
//
// Outputs:
//   - any: The operation (or fallback) result.
//   - error: Non-nil if all attempts and the fallback failed.
func (m *Manager) Execute(ctx context.Context, operation string, op Operation, opts ...ExecuteOption) (any, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	start := time.Now()

	var eo executeOptions
	for _, opt := range opts {
		opt(&eo)
	}
	policy := m.config.DefaultPolicy
	if eo.policy != nil {
		policy = *eo.policy
	}

	var breaker *CircuitBreaker
	if eo.breakerName != "" {
		breaker = m.Breaker(eo.breakerName)
		if !breaker.CanExecute() {
			m.logger.Warn("circuit open, skipping operation",
				"operation", operation, "breaker", eo.breakerName)
			executionsTotal.WithLabelValues(operation, "circuit_open").Inc()
			m.recordExecution(ctx, ExecutionRecord{
				Operation: operation,
				Outcome:   "circuit_open",
				Duration:  time.Since(start),
			})
			if fb := m.fallback(operation); fb != nil {
				fallbacksTotal.WithLabelValues(operation).Inc()
				return fb(ctx)
			}
			return nil, ErrCircuitOpen
		}
	}

	var lastErr error
	var category ErrorCategory
	attempts := 0

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			category = CategoryTimeout
			break
		}

		attempts++
		result, err := op(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			executionsTotal.WithLabelValues(operation, "success").Inc()
			m.recordExecution(ctx, ExecutionRecord{
				Operation: operation,
				Outcome:   "success",
				Attempts:  attempts,
				Duration:  time.Since(start),
			})
			return result, nil
		}

		lastErr = err
		category = Categorize(err)
		if breaker != nil {
			breaker.RecordFailure()
		}
		m.recordError(ctx, ErrorRecord{
			Operation: operation,
			Category:  category,
			Message:   err.Error(),
			Timestamp: time.Now(),
		})

		if !policy.ShouldRetry(category, retry) {
			break
		}

		retriesTotal.WithLabelValues(operation).Inc()
		m.logger.Warn("retrying operation",
			"operation", operation,
			"attempt", retry+1,
			"max_retries", policy.MaxRetries,
			"category", string(category),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			category = CategoryTimeout
			executionsTotal.WithLabelValues(operation, "cancelled").Inc()
			m.recordExecution(ctx, ExecutionRecord{
				Operation: operation,
				Outcome:   "cancelled",
				Attempts:  attempts,
				Duration:  time.Since(start),
			})
			return nil, &ResilienceError{
				Operation:   operation,
				Category:    category,
				Attempts:    attempts,
				Suggestions: RecoverySuggestions(category),
				Err:         lastErr,
			}
		case <-time.After(policy.Delay(retry)):
		}
	}

	executionsTotal.WithLabelValues(operation, "failure").Inc()
	m.recordExecution(ctx, ExecutionRecord{
		Operation: operation,
		Outcome:   "failure",
		Attempts:  attempts,
		Duration:  time.Since(start),
	})

	if fb := m.fallback(operation); fb != nil {
		m.logger.Info("invoking fallback", "operation", operation)
		fallbacksTotal.WithLabelValues(operation).Inc()
		return fb(ctx)
	}

	return nil, &ResilienceError{
		Operation:   operation,
		Category:    category,
		Attempts:    attempts,
		Suggestions: RecoverySuggestions(category),
		Err:         lastErr,
	}
}

// HealthStatus is a dashboard snapshot of the resilience manager.
type HealthStatus struct {
	// ErrorCountsLastHour maps category to failure count over the
	// trailing hour.
	ErrorCountsLastHour map[ErrorCategory]int `json:"error_counts_last_hour"`

	// TotalErrorsLastHour is the sum across categories.
	TotalErrorsLastHour int `json:"total_errors_last_hour"`

	// Breakers holds a snapshot of every known circuit breaker.
	Breakers []CircuitBreakerStats `json:"breakers"`
}

// GetHealthStatus returns per-category error counts over the last hour
// and a snapshot of every breaker.
//
// Safe to call at any rate.
func (m *Manager) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	cutoff := time.Now().Add(-time.Hour)
	recent := m.errors.Filter(func(r ErrorRecord) bool {
		return r.Timestamp.After(cutoff)
	})
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.Unlock()

	status := HealthStatus{
		ErrorCountsLastHour: make(map[ErrorCategory]int),
	}
	for _, r := range recent {
		status.ErrorCountsLastHour[r.Category]++
		status.TotalErrorsLastHour++
	}
	// Breaker stats are taken outside the manager lock; each breaker
	// has its own.
	for _, cb := range breakers {
		status.Breakers = append(status.Breakers, cb.Stats())
	}
	return status
}

// fallback returns the registered fallback for an operation, or nil.
func (m *Manager) fallback(operation string) Fallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbacks[operation]
}

// recordExecution fans the completed call out to execution hooks.
func (m *Manager) recordExecution(ctx context.Context, record ExecutionRecord) {
	m.mu.Lock()
	hooks := make([]ExecutionHook, len(m.execHooks))
	copy(hooks, m.execHooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, record)
	}
}

// recordError appends to the bounded history and fans out to hooks.
func (m *Manager) recordError(ctx context.Context, record ErrorRecord) {
	m.mu.Lock()
	m.errors.Push(record)
	hooks := make([]ErrorHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, record)
	}
}
