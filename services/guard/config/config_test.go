// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate(), "defaults must validate")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.True(t, cfg.Retry.Exponential)
	assert.True(t, cfg.Audit.TamperDetection)
	assert.Empty(t, cfg.Storage.Path, "persistence is opt-in")
}

func TestLoad(t *testing.T) {
	t.Run("file values overlay the defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
log_level: debug
breaker:
  failure_threshold: 7
  recovery_timeout: 45s
  half_open_requests: 3
retry:
  max_retries: 5
  base_delay: 500ms
  max_delay: 10s
  exponential: true
  jitter: false
storage:
  path: /var/lib/guard
  sync_writes: true
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
		assert.Equal(t, 45*time.Second, cfg.Breaker.RecoveryTimeout)
		assert.Equal(t, 5, cfg.Retry.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
		assert.False(t, cfg.Retry.Jitter)
		assert.Equal(t, "/var/lib/guard", cfg.Storage.Path)
		assert.True(t, cfg.Storage.SyncWrites)

		// Untouched sections keep their defaults.
		assert.Equal(t, time.Minute, cfg.Detector.RateLimitWindow)
		assert.Equal(t, 10, cfg.Recovery.MaxRollbackPoints)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := writeConfigFile(t, "log_level: [not a string")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := writeConfigFile(t, "log_level: verbose\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "validate config")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GuardConfig)
	}{
		{"zero failure threshold", func(c *GuardConfig) { c.Breaker.FailureThreshold = 0 }},
		{"negative retries", func(c *GuardConfig) { c.Retry.MaxRetries = -1 }},
		{"max delay below base delay", func(c *GuardConfig) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"zero rate limit window", func(c *GuardConfig) { c.Detector.RateLimitWindow = 0 }},
		{"drift threshold above one", func(c *GuardConfig) { c.Drift.AlertThreshold = 1.5 }},
		{"tiny audit log", func(c *GuardConfig) { c.Audit.MaxEvents = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
