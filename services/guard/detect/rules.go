// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
)

// MaxRuleFileSize caps rule file reads (1MB) to prevent memory issues
// from oversized files.
const MaxRuleFileSize = 1024 * 1024

// ValidationRule detects one injection or jailbreak phrasing.
//
// A rule carries either a regex Pattern or a Predicate closure. The
// rule tables are data, not code: operators extend coverage by loading
// additional rules from YAML without a rebuild.
//
// Thread Safety: Safe for concurrent use after construction; the regex
// is compiled lazily under sync.Once.
type ValidationRule struct {
	// Name is the unique rule identifier (e.g. inj-001).
	Name string `yaml:"name"`

	// Pattern is a regex evaluated case-insensitively against the text.
	Pattern string `yaml:"pattern"`

	// Predicate is an alternative programmatic check. Not loadable
	// from YAML; used for built-in structural rules.
	Predicate func(text string) bool `yaml:"-"`

	// AttackType is the attack category this rule detects.
	AttackType AttackType `yaml:"attack_type"`

	// Severity is the threat level assigned on match.
	Severity ThreatLevel `yaml:"-"`

	// SeverityName is the YAML-facing severity ("low".."critical").
	SeverityName string `yaml:"severity"`

	// Description explains what the rule catches.
	Description string `yaml:"description"`

	compiled *regexp.Regexp
	once     sync.Once
}

// Matches reports whether the rule matches the text.
//
// Regex rules compile lazily and are forced case-insensitive. A rule
// with a broken pattern never matches.
func (r *ValidationRule) Matches(text string) bool {
	if r.Predicate != nil {
		return r.Predicate(text)
	}
	if r.Pattern == "" {
		return false
	}
	r.once.Do(func() {
		pattern := r.Pattern
		if !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		r.compiled, _ = regexp.Compile(pattern)
	})
	if r.compiled == nil {
		return false
	}
	return r.compiled.MatchString(text)
}

// defaultRules is the built-in injection/jailbreak rule table.
//
// Patterns are matched case-insensitively. Keep ordering stable; rule
// names are referenced from detection details and dashboards.
func defaultRules() []*ValidationRule {
	return []*ValidationRule{
		{
			Name:        "inj-ignore-instructions",
			Pattern:     `ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
			AttackType:  AttackPromptInjection,
			Severity:    ThreatHigh,
			Description: "Attempts to discard the system instructions.",
		},
		{
			Name:        "inj-new-instructions",
			Pattern:     `new\s+instructions\s*:`,
			AttackType:  AttackPromptInjection,
			Severity:    ThreatHigh,
			Description: "Injects a replacement instruction block.",
		},
		{
			Name:        "inj-system-marker",
			Pattern:     `(\[system\]|<<sys>>|<\|im_start\|>system|system\s+prompt\s*:)`,
			AttackType:  AttackPromptInjection,
			Severity:    ThreatHigh,
			Description: "Embeds system-prompt markers in user content.",
		},
		{
			Name:        "inj-reveal-prompt",
			Pattern:     `(reveal|print|repeat|show)\s+(your|the)\s+(system\s+)?(prompt|instructions)`,
			AttackType:  AttackDataExfiltration,
			Severity:    ThreatMedium,
			Description: "Asks the model to disclose its instructions.",
		},
		{
			Name:        "jb-developer-mode",
			Pattern:     `developer\s+mode`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatHigh,
			Description: "Classic developer-mode jailbreak phrasing.",
		},
		{
			Name:        "jb-bypass-safety",
			Pattern:     `bypass\s+(the\s+)?(safety|content|moderation)`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatHigh,
			Description: "Explicitly asks to bypass safety systems.",
		},
		{
			Name:        "jb-roleplay",
			Pattern:     `(roleplay|role-play|act)\s+as\s+(dan|an?\s+(unrestricted|unfiltered|uncensored))`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatHigh,
			Description: "Persona-swap jailbreak (DAN and variants).",
		},
		{
			Name:        "jb-do-anything-now",
			Pattern:     `do\s+anything\s+now`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatHigh,
			Description: "DAN acronym expansion.",
		},
		{
			Name:        "jb-no-restrictions",
			Pattern:     `(without|free\s+of|no)\s+(any\s+)?(restrictions|limitations|filters|guidelines)`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatMedium,
			Description: "Requests unrestricted behavior.",
		},
		{
			Name:        "jb-pretend",
			Pattern:     `pretend\s+(you\s+are|to\s+be)\s+(not\s+an?\s+ai|evil|unrestricted)`,
			AttackType:  AttackJailbreak,
			Severity:    ThreatMedium,
			Description: "Pretend-persona jailbreak phrasing.",
		},
	}
}

// ruleFile is the YAML document shape for operator-supplied rules.
type ruleFile struct {
	Rules []*ValidationRule `yaml:"rules"`
}

// RuleSet is a concurrently readable, hot-reloadable rule table.
//
// # Description
//
// Holds the built-in rule table plus any operator-loaded rules. When
// watching is enabled, edits to the rule file are picked up via
// fsnotify without a restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type RuleSet struct {
	mu       sync.RWMutex
	builtin  []*ValidationRule
	loaded   []*ValidationRule
	rulePath string

	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *logging.Logger
}

// NewRuleSet creates a rule set seeded with the built-in table.
func NewRuleSet(logger *logging.Logger) *RuleSet {
	if logger == nil {
		logger = logging.Default()
	}
	return &RuleSet{
		builtin: defaultRules(),
		logger:  logger,
	}
}

// Rules returns a snapshot of all active rules, built-in first.
func (rs *RuleSet) Rules() []*ValidationRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*ValidationRule, 0, len(rs.builtin)+len(rs.loaded))
	out = append(out, rs.builtin...)
	out = append(out, rs.loaded...)
	return out
}

// Add registers an additional rule programmatically.
func (rs *RuleSet) Add(rule *ValidationRule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.loaded = append(rs.loaded, rule)
}

// LoadFile replaces the operator-loaded rules with the contents of a
// YAML rule file.
//
// Inputs:
//   - path: Path to the YAML rule file (capped at MaxRuleFileSize).
//
// Outputs:
//   - int: Number of rules loaded.
//   - error: Non-nil on read, size, parse, or severity errors.
func (rs *RuleSet) LoadFile(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat rule file: %w", err)
	}
	if info.Size() > MaxRuleFileSize {
		return 0, fmt.Errorf("rule file %s exceeds %d bytes", path, MaxRuleFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rule file: %w", err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse rule file: %w", err)
	}

	for _, rule := range doc.Rules {
		if rule.Name == "" || rule.Pattern == "" {
			return 0, fmt.Errorf("rule file %s: every rule needs name and pattern", path)
		}
		severity, err := ParseThreatLevel(rule.SeverityName)
		if err != nil {
			return 0, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		rule.Severity = severity
		if rule.AttackType == "" {
			rule.AttackType = AttackPromptInjection
		}
	}

	rs.mu.Lock()
	rs.loaded = doc.Rules
	rs.rulePath = path
	rs.mu.Unlock()

	rs.logger.Info("loaded detection rules", "path", path, "count", len(doc.Rules))
	return len(doc.Rules), nil
}

// Watch reloads the rule file whenever it changes on disk.
//
// Call Close to stop watching. Reload failures keep the previous rules
// and are logged, never fatal.
func (rs *RuleSet) Watch(path string) error {
	if _, err := rs.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rule file: %w", err)
	}

	rs.mu.Lock()
	rs.watcher = watcher
	rs.done = make(chan struct{})
	done := rs.done
	rs.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if _, err := rs.LoadFile(path); err != nil {
						rs.logger.Warn("rule reload failed, keeping previous rules",
							"path", path, "error", err.Error())
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				rs.logger.Warn("rule watcher error", "error", err.Error())
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if running.
func (rs *RuleSet) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done != nil {
		close(rs.done)
		rs.done = nil
	}
	if rs.watcher != nil {
		err := rs.watcher.Close()
		rs.watcher = nil
		return err
	}
	return nil
}
