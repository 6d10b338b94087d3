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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
)

func newTestLogger(t *testing.T, config Config) *Logger {
	t.Helper()
	return NewLogger(config, nil, logging.New(logging.Config{Quiet: true}))
}

// stripChainHash removes an event's chain-hash field in place to
// simulate tampering.
func (l *Logger) stripChainHash(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].ID == eventID {
			delete(l.events[i].Details, chainHashKey)
			return true
		}
	}
	return false
}

func TestLogger_Log(t *testing.T) {
	ctx := context.Background()

	t.Run("events carry identity and chain hash", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		event := l.Log(ctx, CategorySecurity, "security.alert", "detector", "input",
			"detected", SeverityWarning, map[string]any{"threat_level": "high"})

		assert.NotEmpty(t, event.ID)
		assert.Equal(t, CategorySecurity, event.Category)
		assert.NotEmpty(t, event.ChainHash())
		assert.Equal(t, "high", event.Details["threat_level"])
	})

	t.Run("chain hash links consecutive events", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		first := l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		second := l.Log(ctx, CategorySystem, "b", "x", "r", "success", SeverityInfo, nil)

		assert.NotEqual(t, first.ChainHash(), second.ChainHash())
		// Recompute the link by hand.
		want := chainHash(first.ChainHash(), second)
		assert.Equal(t, want, second.ChainHash())
	})

	t.Run("tamper detection off leaves no hash", func(t *testing.T) {
		l := newTestLogger(t, Config{TamperDetection: false, RetentionDays: 30, MaxEvents: 100})
		event := l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		assert.Empty(t, event.ChainHash())
	})

	t.Run("log is bounded by MaxEvents", func(t *testing.T) {
		l := newTestLogger(t, Config{TamperDetection: true, RetentionDays: 30, MaxEvents: 5})
		for i := 0; i < 10; i++ {
			l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		}
		assert.Equal(t, 5, l.GetSummary().TotalEvents)
	})

	t.Run("details map is copied not aliased", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		details := map[string]any{"k": "v"}
		event := l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, details)
		details["k"] = "mutated"
		assert.Equal(t, "v", event.Details["k"])
	})

	t.Run("session and parent options", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		parent := l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		child := l.Log(ctx, CategorySystem, "b", "x", "r", "success", SeverityInfo, nil,
			WithSessionID("s-1"), WithParentEvent(parent.ID))
		assert.Equal(t, "s-1", child.SessionID)
		assert.Equal(t, parent.ID, child.ParentEventID)
	})
}

func TestLogger_Handlers(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, DefaultConfig())

	var mu sync.Mutex
	var seen []Event
	l.AddHandler(func(ctx context.Context, event Event) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
	})
	// A panicking handler must not break logging.
	l.AddHandler(func(ctx context.Context, event Event) {
		panic("boom")
	})

	event := l.Log(ctx, CategorySecurity, "security.alert", "detector", "input",
		"detected", SeverityCritical, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, event.ID, seen[0].ID)
}

func TestLogger_VerifyChainIntegrity(t *testing.T) {
	ctx := context.Background()

	t.Run("intact chain reports ok", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		for i := 0; i < 5; i++ {
			l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		}
		report := l.VerifyChainIntegrity()
		assert.Equal(t, "ok", report.Status)
		assert.Equal(t, 5, report.EventsChecked)
		assert.Empty(t, report.TamperedEventIDs)
	})

	t.Run("stripped hash reports tampered", func(t *testing.T) {
		l := newTestLogger(t, DefaultConfig())
		l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		victim := l.Log(ctx, CategorySystem, "b", "x", "r", "success", SeverityInfo, nil)
		l.Log(ctx, CategorySystem, "c", "x", "r", "success", SeverityInfo, nil)

		require.True(t, l.stripChainHash(victim.ID))

		report := l.VerifyChainIntegrity()
		assert.Equal(t, "tampered", report.Status)
		assert.Equal(t, []string{victim.ID}, report.TamperedEventIDs)
	})

	t.Run("detection disabled always reports ok", func(t *testing.T) {
		l := newTestLogger(t, Config{TamperDetection: false, RetentionDays: 30, MaxEvents: 100})
		l.Log(ctx, CategorySystem, "a", "x", "r", "success", SeverityInfo, nil)
		assert.Equal(t, "ok", l.VerifyChainIntegrity().Status)
	})
}

func TestLogger_QueryEvents(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, DefaultConfig())

	l.LogAuthentication(ctx, "alice", "success", nil)
	l.LogAuthentication(ctx, "mallory", "failure", nil)
	l.LogSecurityAlert(ctx, "detector", "input", SeverityCritical, nil)
	l.LogDataAccess(ctx, "alice", "dataset-7", "success", nil)

	t.Run("filters by category", func(t *testing.T) {
		got := l.QueryEvents(QueryFilter{Category: CategoryAuthentication})
		assert.Len(t, got, 2)
	})

	t.Run("filters by actor", func(t *testing.T) {
		got := l.QueryEvents(QueryFilter{Actor: "alice"})
		assert.Len(t, got, 2)
	})

	t.Run("returns newest first", func(t *testing.T) {
		got := l.QueryEvents(QueryFilter{})
		require.Len(t, got, 4)
		assert.Equal(t, CategoryDataAccess, got[0].Category)
	})

	t.Run("respects limit", func(t *testing.T) {
		got := l.QueryEvents(QueryFilter{Limit: 2})
		assert.Len(t, got, 2)
	})

	t.Run("time bounds", func(t *testing.T) {
		got := l.QueryEvents(QueryFilter{Since: time.Now().Add(time.Hour)})
		assert.Empty(t, got)
	})
}

func TestLogger_WrapperSeverities(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, DefaultConfig())

	assert.Equal(t, SeverityInfo, l.LogAuthentication(ctx, "alice", "success", nil).Severity)
	assert.Equal(t, SeverityWarning, l.LogAuthentication(ctx, "mallory", "failure", nil).Severity)
	assert.Equal(t, SeverityError, l.LogModelInference(ctx, "svc", "m1", "failure", nil).Severity)
	assert.Equal(t, SeverityWarning, l.LogConfigChange(ctx, "ops", "breaker", nil).Severity)
	assert.Equal(t, SeverityError, l.LogRecoveryAction(ctx, "ops", "model", "failure", nil).Severity)
	assert.Equal(t, SeverityInfo, l.LogRecoveryAction(ctx, "ops", "model", "success", nil).Severity)
}

func TestLogger_CleanupOldEvents(t *testing.T) {
	l := newTestLogger(t, Config{TamperDetection: true, RetentionDays: 30, MaxEvents: 100})
	ctx := context.Background()

	l.Log(ctx, CategorySystem, "fresh", "x", "r", "success", SeverityInfo, nil)
	assert.Zero(t, l.CleanupOldEvents(), "fresh events are retained")

	// Backdate the first event past retention.
	l.mu.Lock()
	l.events[0].Timestamp = time.Now().AddDate(0, 0, -31)
	l.mu.Unlock()

	assert.Equal(t, 1, l.CleanupOldEvents())
	assert.Zero(t, l.GetSummary().TotalEvents)
}

func TestEvent_MapRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, DefaultConfig())
	original := l.Log(ctx, CategorySecurity, "security.alert", "detector", "input",
		"detected", SeverityCritical, map[string]any{"threat_level": "high"},
		WithSessionID("s-1"))

	restored, err := EventFromMap(original.ToMap())
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Category, restored.Category)
	assert.Equal(t, original.Severity, restored.Severity)
	assert.Equal(t, original.Actor, restored.Actor)
	assert.Equal(t, original.Outcome, restored.Outcome)
	assert.Equal(t, original.SessionID, restored.SessionID)
	assert.Equal(t, original.ChainHash(), restored.ChainHash())
	assert.True(t, original.Timestamp.Equal(restored.Timestamp))
}

func TestEventFromMap_Errors(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := EventFromMap(map[string]any{"timestamp": time.Now().Format(time.RFC3339Nano)})
		assert.Error(t, err)
	})
	t.Run("bad timestamp", func(t *testing.T) {
		_, err := EventFromMap(map[string]any{"id": "evt-1", "timestamp": "yesterday"})
		assert.Error(t, err)
	})
}
