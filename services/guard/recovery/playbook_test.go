// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaybookFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPlaybooks(t *testing.T) {
	t.Run("valid file parses in order", func(t *testing.T) {
		path := writePlaybookFile(t, `
playbooks:
  - name: model-degradation
    triggers: ["drift", "accuracy drop"]
    actions:
      - type: rollback
        target: model
      - type: notify
        target: ml-oncall
  - name: overload
    triggers: ["rate limit"]
    actions:
      - type: scale
        target: inference-pool
`)
		playbooks, err := LoadPlaybooks(path)
		require.NoError(t, err)
		require.Len(t, playbooks, 2)

		assert.Equal(t, "model-degradation", playbooks[0].Name)
		assert.Equal(t, []string{"drift", "accuracy drop"}, playbooks[0].Triggers)
		require.Len(t, playbooks[0].Actions, 2)
		assert.Equal(t, ActionRollback, playbooks[0].Actions[0].Type)
		assert.Equal(t, "model", playbooks[0].Actions[0].Target)
		assert.Equal(t, ActionScale, playbooks[1].Actions[0].Type)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadPlaybooks(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := writePlaybookFile(t, "playbooks: [unclosed")
		_, err := LoadPlaybooks(path)
		assert.Error(t, err)
	})

	t.Run("playbook without a name errors", func(t *testing.T) {
		path := writePlaybookFile(t, `
playbooks:
  - triggers: ["drift"]
    actions:
      - type: notify
        target: oncall
`)
		_, err := LoadPlaybooks(path)
		assert.ErrorContains(t, err, "has no name")
	})

	t.Run("playbook without triggers errors", func(t *testing.T) {
		path := writePlaybookFile(t, `
playbooks:
  - name: silent
    actions:
      - type: notify
        target: oncall
`)
		_, err := LoadPlaybooks(path)
		assert.ErrorContains(t, err, "has no triggers")
	})

	t.Run("playbook without actions errors", func(t *testing.T) {
		path := writePlaybookFile(t, `
playbooks:
  - name: toothless
    triggers: ["drift"]
`)
		_, err := LoadPlaybooks(path)
		assert.ErrorContains(t, err, "has no actions")
	})
}

func TestPlaybook_Matches(t *testing.T) {
	p := Playbook{
		Name:     "auth",
		Triggers: []string{"Credential Stuffing", "brute force"},
		Actions:  []PlaybookAction{{Type: ActionNotify, Target: "security"}},
	}

	tests := []struct {
		name        string
		title       string
		description string
		want        bool
	}{
		{"trigger in title", "credential stuffing wave", "", true},
		{"trigger in description", "login anomalies", "looks like BRUTE FORCE", true},
		{"no trigger anywhere", "disk full", "storage node wedged", false},
		{"empty incident", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.matches(tt.title, tt.description))
		})
	}

	t.Run("empty trigger never matches", func(t *testing.T) {
		empty := Playbook{Name: "x", Triggers: []string{""}}
		assert.False(t, empty.matches("anything", "at all"))
	})
}
