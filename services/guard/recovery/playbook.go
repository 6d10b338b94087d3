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
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxPlaybookFileSize caps playbook files to prevent resource
// exhaustion from a malformed or hostile file.
const MaxPlaybookFileSize = 1 << 20 // 1 MB

// PlaybookAction is one step a playbook dispatches when it fires.
type PlaybookAction struct {
	// Type selects the handler from the action registry.
	Type ActionType `yaml:"type" json:"type"`

	// Target is what the action acts upon.
	Target string `yaml:"target" json:"target"`
}

// Playbook maps an incident pattern to a sequence of recovery actions.
//
// A playbook fires when any of its trigger strings appears as a
// case-insensitive substring of the incident's title or description.
type Playbook struct {
	// Name identifies the playbook in logs and action details.
	Name string `yaml:"name" json:"name"`

	// Triggers are the substrings that fire the playbook.
	Triggers []string `yaml:"triggers" json:"triggers"`

	// Actions run in order when the playbook fires.
	Actions []PlaybookAction `yaml:"actions" json:"actions"`
}

// matches reports whether the playbook fires for the given incident
// title and description.
func (p Playbook) matches(title, description string) bool {
	haystack := strings.ToLower(title + " " + description)
	for _, t := range p.Triggers {
		if t == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// playbookFile is the on-disk YAML schema.
type playbookFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

// LoadPlaybooks reads playbooks from a YAML file.
//
// Inputs:
//   - path: Path to the playbook file.
//
// Outputs:
//   - []Playbook: The parsed playbooks.
//   - error: Non-nil when the file is missing, oversized, malformed,
//     or contains an invalid playbook.
func LoadPlaybooks(path string) ([]Playbook, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat playbook file: %w", err)
	}
	if info.Size() > MaxPlaybookFileSize {
		return nil, fmt.Errorf("playbook file %s exceeds %d bytes", path, MaxPlaybookFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook file: %w", err)
	}

	var file playbookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbook file %s: %w", path, err)
	}

	for i, p := range file.Playbooks {
		if p.Name == "" {
			return nil, fmt.Errorf("playbook %d in %s has no name", i, path)
		}
		if len(p.Triggers) == 0 {
			return nil, fmt.Errorf("playbook %q has no triggers", p.Name)
		}
		if len(p.Actions) == 0 {
			return nil, fmt.Errorf("playbook %q has no actions", p.Name)
		}
	}
	return file.Playbooks, nil
}
