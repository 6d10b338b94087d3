// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
)

// newTestManager returns a manager with a fast, deterministic policy.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		DefaultPolicy: RetryPolicy{
			MaxRetries:  2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Exponential: true,
			RetryableCategories: map[ErrorCategory]bool{
				CategoryTransient: true,
				CategoryNetwork:   true,
				CategoryTimeout:   true,
			},
		},
		BreakerConfig: CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  10 * time.Millisecond,
			HalfOpenRequests: 1,
		},
	}, logging.New(logging.Config{Quiet: true}))
}

func TestManager_Execute(t *testing.T) {
	t.Run("returns result on success", func(t *testing.T) {
		m := newTestManager(t)
		result, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		m := newTestManager(t)
		calls := 0
		result, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("backend unavailable")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		m := newTestManager(t)
		calls := 0
		_, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("schema migration corrupt")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)

		var rerr *ResilienceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, CategoryPermanent, rerr.Category)
		assert.Equal(t, 1, rerr.Attempts)
	})

	t.Run("wraps exhausted retries with category and suggestions", func(t *testing.T) {
		m := newTestManager(t)
		cause := errors.New("backend unavailable")
		_, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			return nil, cause
		})
		require.Error(t, err)

		var rerr *ResilienceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, CategoryTransient, rerr.Category)
		assert.Equal(t, 3, rerr.Attempts) // initial + 2 retries
		assert.NotEmpty(t, rerr.Suggestions)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("nil operation is rejected", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.Execute(context.Background(), "op", nil)
		assert.ErrorIs(t, err, ErrNilOperation)
	})

	t.Run("cancellation during backoff stops retrying", func(t *testing.T) {
		m := NewManager(ManagerConfig{
			DefaultPolicy: RetryPolicy{
				MaxRetries: 5,
				BaseDelay:  time.Second,
				MaxDelay:   time.Second,
				RetryableCategories: map[ErrorCategory]bool{
					CategoryTransient: true,
				},
			},
		}, logging.New(logging.Config{Quiet: true}))

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := m.Execute(ctx, "op", func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("backend unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)

		var rerr *ResilienceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, CategoryTimeout, rerr.Category)
	})
}

func TestManager_Fallback(t *testing.T) {
	t.Run("fallback runs after exhausted retries", func(t *testing.T) {
		m := newTestManager(t)
		m.RegisterFallback("op", func(ctx context.Context) (any, error) {
			return "cached", nil
		})
		result, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			return nil, errors.New("backend unavailable")
		})
		require.NoError(t, err)
		assert.Equal(t, "cached", result)
	})

	t.Run("fallback is not retried", func(t *testing.T) {
		m := newTestManager(t)
		fbCalls := 0
		m.RegisterFallback("op", func(ctx context.Context) (any, error) {
			fbCalls++
			return nil, errors.New("fallback also down")
		})
		_, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			return nil, errors.New("backend unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 1, fbCalls)
	})
}

func TestManager_Breaker(t *testing.T) {
	t.Run("open breaker rejects with ErrCircuitOpen", func(t *testing.T) {
		m := newTestManager(t)
		fail := func(ctx context.Context) (any, error) {
			return nil, errors.New("schema corrupt") // permanent: no retries
		}
		for i := 0; i < 2; i++ {
			_, _ = m.Execute(context.Background(), "op", fail, WithBreaker("model"))
		}
		require.Equal(t, CircuitOpen, m.Breaker("model").State())

		calls := 0
		_, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			calls++
			return "never", nil
		}, WithBreaker("model"))
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Zero(t, calls, "operation must not run while circuit is open")
	})

	t.Run("open breaker falls back when registered", func(t *testing.T) {
		m := newTestManager(t)
		m.Breaker("model").RecordFailure()
		m.Breaker("model").RecordFailure()
		m.RegisterFallback("op", func(ctx context.Context) (any, error) {
			return "degraded", nil
		})

		result, err := m.Execute(context.Background(), "op", func(ctx context.Context) (any, error) {
			return "never", nil
		}, WithBreaker("model"))
		require.NoError(t, err)
		assert.Equal(t, "degraded", result)
	})

	t.Run("breakers are created lazily and shared", func(t *testing.T) {
		m := newTestManager(t)
		assert.Same(t, m.Breaker("model"), m.Breaker("model"))
		assert.NotSame(t, m.Breaker("model"), m.Breaker("store"))
	})
}

func TestManager_ErrorHooksAndHealth(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var records []ErrorRecord
	m.AddErrorHook(func(ctx context.Context, record ErrorRecord) {
		mu.Lock()
		records = append(records, record)
		mu.Unlock()
	})

	_, _ = m.Execute(context.Background(), "op-a", func(ctx context.Context) (any, error) {
		return nil, errors.New("permission denied")
	})
	_, _ = m.Execute(context.Background(), "op-b", func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid payload")
	})
	_ = m.Breaker("model")

	mu.Lock()
	require.Len(t, records, 2)
	assert.Equal(t, CategorySecurity, records[0].Category)
	assert.Equal(t, CategoryValidation, records[1].Category)
	mu.Unlock()

	health := m.GetHealthStatus()
	assert.Equal(t, 2, health.TotalErrorsLastHour)
	assert.Equal(t, 1, health.ErrorCountsLastHour[CategorySecurity])
	assert.Equal(t, 1, health.ErrorCountsLastHour[CategoryValidation])
	require.Len(t, health.Breakers, 1)
	assert.Equal(t, "model", health.Breakers[0].Name)
}

func TestManager_ExecutionHooks(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var records []ExecutionRecord
	m.AddExecutionHook(func(ctx context.Context, record ExecutionRecord) {
		mu.Lock()
		records = append(records, record)
		mu.Unlock()
	})

	t.Run("success is observed with attempt count", func(t *testing.T) {
		calls := 0
		_, err := m.Execute(context.Background(), "op-ok", func(ctx context.Context) (any, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("backend unavailable")
			}
			return "ok", nil
		})
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, records, 1)
		assert.Equal(t, "op-ok", records[0].Operation)
		assert.Equal(t, "success", records[0].Outcome)
		assert.Equal(t, 2, records[0].Attempts)
		assert.GreaterOrEqual(t, records[0].Duration, time.Duration(0))
	})

	t.Run("exhausted retries are observed as failure", func(t *testing.T) {
		_, err := m.Execute(context.Background(), "op-bad", func(ctx context.Context) (any, error) {
			return nil, errors.New("backend unavailable")
		})
		require.Error(t, err)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, records, 2)
		assert.Equal(t, "failure", records[1].Outcome)
		assert.Equal(t, 3, records[1].Attempts)
	})

	t.Run("rejected calls are observed as circuit_open", func(t *testing.T) {
		breaker := m.Breaker("flaky")
		breaker.RecordFailure()
		breaker.RecordFailure()

		_, err := m.Execute(context.Background(), "op-guarded", func(ctx context.Context) (any, error) {
			return nil, nil
		}, WithBreaker("flaky"))
		require.ErrorIs(t, err, ErrCircuitOpen)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, records, 3)
		assert.Equal(t, "circuit_open", records[2].Outcome)
		assert.Zero(t, records[2].Attempts)
	})
}
