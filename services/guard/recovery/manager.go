// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery manages rollback points, incidents, and automated
// recovery playbooks.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/storage"
)

// Sentinel errors for the recovery package.
var (
	// ErrRollbackPointNotFound indicates an unknown or evicted point.
	ErrRollbackPointNotFound = errors.New("rollback point not found")

	// ErrIncidentNotFound indicates an unknown incident ID.
	ErrIncidentNotFound = errors.New("incident not found")
)

var (
	recoveryActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_recovery_actions_total",
		Help: "Total recovery actions dispatched by type and outcome.",
	}, []string{"action_type", "outcome"})

	incidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_recovery_incidents_total",
		Help: "Total incidents opened by severity.",
	}, []string{"severity"})
)

// ActionHandler executes one recovery action. The action describes
// what to do; the handler returns a non-nil error on failure.
type ActionHandler func(ctx context.Context, action RecoveryAction) error

// RollbackHandler restores system state from a rollback point.
type RollbackHandler func(ctx context.Context, point RollbackPoint) error

// ActionHook receives every completed recovery action, e.g. to write
// an audit event. Hooks run outside the manager's lock.
type ActionHook func(action RecoveryAction)

// IncidentHook receives every newly opened incident, before its
// playbooks run. Hooks run outside the manager's lock.
type IncidentHook func(incident Incident)

// ManagerConfig configures the recovery manager.
type ManagerConfig struct {
	// MaxRollbackPoints bounds the rollback store. The oldest valid
	// point is invalidated and evicted on overflow. Default: 10
	MaxRollbackPoints int

	// ActionHistorySize bounds the retained action history used for
	// metrics. Default: 200
	ActionHistorySize int
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxRollbackPoints: 10,
		ActionHistorySize: 200,
	}
}

// Manager coordinates rollback points, recovery actions, and incident
// response.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers and hooks run outside the
// manager's lock; handlers must be safe for concurrent invocation.
type Manager struct {
	config ManagerConfig
	logger *logging.Logger
	store  storage.Store

	mu            sync.Mutex
	points        map[string]*RollbackPoint
	pointOrder    []string
	incidents     map[string]*Incident
	handlers      map[ActionType]ActionHandler
	rollback      RollbackHandler
	playbooks     []Playbook
	actions       *history.RingBuffer[RecoveryAction]
	hooks         []ActionHook
	incidentHooks []IncidentHook
}

// NewManager creates a recovery manager.
//
// Inputs:
//   - config: Manager configuration. Zero values fall back to defaults.
//   - logger: Structured logger. Nil falls back to the default logger.
//   - store: Optional persistence for rollback snapshots. Nil keeps
//     everything in memory.
//
// Outputs:
//   - *Manager: Ready-to-use manager.
func NewManager(config ManagerConfig, logger *logging.Logger, store storage.Store) *Manager {
	if config.MaxRollbackPoints <= 0 {
		config.MaxRollbackPoints = 10
	}
	if config.ActionHistorySize <= 0 {
		config.ActionHistorySize = 200
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		config:    config,
		logger:    logger,
		store:     store,
		points:    make(map[string]*RollbackPoint),
		incidents: make(map[string]*Incident),
		handlers:  make(map[ActionType]ActionHandler),
		actions:   history.NewRingBuffer[RecoveryAction](config.ActionHistorySize),
	}
}

// RegisterHandler installs the handler for an action type, replacing
// any previous handler.
func (m *Manager) RegisterHandler(actionType ActionType, handler ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[actionType] = handler
}

// RegisterRollbackHandler installs the handler invoked by
// ExecuteRollback.
func (m *Manager) RegisterRollbackHandler(handler RollbackHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollback = handler
}

// AddActionHook registers a hook invoked for every completed action.
func (m *Manager) AddActionHook(hook ActionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// AddIncidentHook registers a hook invoked for every opened incident.
func (m *Manager) AddIncidentHook(hook IncidentHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidentHooks = append(m.incidentHooks, hook)
}

// LoadPlaybookFile loads playbooks from a YAML file and installs them,
// replacing any previously installed set.
func (m *Manager) LoadPlaybookFile(path string) error {
	playbooks, err := LoadPlaybooks(path)
	if err != nil {
		return err
	}
	m.SetPlaybooks(playbooks)
	m.logger.Info("playbooks loaded", "path", path, "count", len(playbooks))
	return nil
}

// SetPlaybooks installs the given playbooks, replacing any previous set.
func (m *Manager) SetPlaybooks(playbooks []Playbook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playbooks = playbooks
}

// RollbackOption customizes a rollback point at creation.
type RollbackOption func(*RollbackPoint)

// WithModelVersion tags the point with the model version at capture.
func WithModelVersion(version string) RollbackOption {
	return func(p *RollbackPoint) { p.ModelVersion = version }
}

// WithConfigVersion tags the point with the config version at capture.
func WithConfigVersion(version string) RollbackOption {
	return func(p *RollbackPoint) { p.ConfigVersion = version }
}

// CreateRollbackPoint captures a named snapshot of system state.
//
// The store is bounded: when it already holds MaxRollbackPoints, the
// oldest point by creation time is invalidated and evicted before the
// new point is stored. When a storage collaborator is configured the
// snapshot is persisted best-effort; persistence failures are logged
// and do not fail the capture.
//
// Inputs:
//   - ctx: Context for snapshot persistence.
//   - name: Point label. Must not be empty.
//   - description: Why the point was captured.
//   - snapshot: Opaque caller-defined state.
//   - opts: Optional version tags.
//
// Outputs:
//   - RollbackPoint: The stored point.
//   - error: Non-nil when name is empty.
func (m *Manager) CreateRollbackPoint(ctx context.Context, name, description string, snapshot any, opts ...RollbackOption) (RollbackPoint, error) {
	if name == "" {
		return RollbackPoint{}, errors.New("rollback point name must not be empty")
	}

	now := time.Now()
	point := &RollbackPoint{
		ID:          rollbackPointID(name, now),
		Name:        name,
		CreatedAt:   now,
		Description: description,
		Snapshot:    snapshot,
		IsValid:     true,
	}
	for _, opt := range opts {
		opt(point)
	}

	var evicted *RollbackPoint
	m.mu.Lock()
	if len(m.pointOrder) >= m.config.MaxRollbackPoints {
		evicted = m.evictOldestLocked()
	}
	m.points[point.ID] = point
	m.pointOrder = append(m.pointOrder, point.ID)
	m.mu.Unlock()

	if evicted != nil {
		m.logger.Info("rollback point evicted", "id", evicted.ID, "name", evicted.Name)
		if m.store != nil {
			if err := m.store.Delete(ctx, snapshotKey(evicted.ID)); err != nil {
				m.logger.Warn("delete evicted snapshot", "id", evicted.ID, "error", err)
			}
		}
	}

	if m.store != nil {
		if data, err := json.Marshal(point); err == nil {
			if err := m.store.Save(ctx, snapshotKey(point.ID), data); err != nil {
				m.logger.Warn("persist rollback snapshot", "id", point.ID, "error", err)
			}
		} else {
			m.logger.Warn("marshal rollback snapshot", "id", point.ID, "error", err)
		}
	}

	m.logger.Info("rollback point created", "id", point.ID, "name", name)
	return *point, nil
}

// evictOldestLocked invalidates and removes the oldest point by
// creation time. Must be called with lock held.
func (m *Manager) evictOldestLocked() *RollbackPoint {
	oldestIdx := -1
	for i, id := range m.pointOrder {
		p := m.points[id]
		if p == nil {
			continue
		}
		if oldestIdx < 0 || p.CreatedAt.Before(m.points[m.pointOrder[oldestIdx]].CreatedAt) {
			oldestIdx = i
		}
	}
	if oldestIdx < 0 {
		return nil
	}

	id := m.pointOrder[oldestIdx]
	evicted := m.points[id]
	evicted.IsValid = false
	delete(m.points, id)
	m.pointOrder = append(m.pointOrder[:oldestIdx], m.pointOrder[oldestIdx+1:]...)
	return evicted
}

// GetRollbackPoint returns the stored point by ID.
func (m *Manager) GetRollbackPoint(id string) (RollbackPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	point, ok := m.points[id]
	if !ok {
		return RollbackPoint{}, fmt.Errorf("%w: %s", ErrRollbackPointNotFound, id)
	}
	return *point, nil
}

// ListRollbackPoints returns all stored points, oldest first.
func (m *Manager) ListRollbackPoints() []RollbackPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RollbackPoint, 0, len(m.pointOrder))
	for _, id := range m.pointOrder {
		if p, ok := m.points[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// ExecuteRollback restores the named rollback point through the
// registered rollback handler and records the outcome.
//
// The point is retained after a successful rollback so it can be
// rolled back to again. A missing or evicted point records a failed
// action; a missing rollback handler records success, matching the
// default dispatch semantics of ExecuteRecoveryAction.
//
// Inputs:
//   - ctx: Context passed to the rollback handler.
//   - pointID: The point to restore.
//   - initiator: Who or what triggered the rollback.
//
// Outputs:
//   - RecoveryAction: The recorded action with its outcome.
//   - error: Non-nil when the point is unknown or the handler failed.
func (m *Manager) ExecuteRollback(ctx context.Context, pointID, initiator string) (RecoveryAction, error) {
	m.mu.Lock()
	point, ok := m.points[pointID]
	var snapshot RollbackPoint
	if ok {
		snapshot = *point
	}
	handler := m.rollback
	m.mu.Unlock()

	action := RecoveryAction{
		ID:              "act-" + uuid.NewString(),
		ActionType:      ActionRollback,
		Target:          pointID,
		Initiator:       initiator,
		StartedAt:       time.Now(),
		RollbackPointID: pointID,
	}

	var execErr error
	switch {
	case !ok:
		execErr = fmt.Errorf("%w: %s", ErrRollbackPointNotFound, pointID)
	case handler != nil:
		execErr = handler(ctx, snapshot)
	}

	action.CompletedAt = time.Now()
	action.Success = execErr == nil
	if execErr != nil {
		action.Details = map[string]any{"error": execErr.Error()}
	}

	m.recordAction(action)
	if execErr != nil {
		m.logger.Error("rollback failed", "point_id", pointID, "error", execErr)
		return action, execErr
	}
	m.logger.Info("rollback executed", "point_id", pointID, "initiator", initiator)
	return action, nil
}

// ExecuteRecoveryAction dispatches one recovery action through the
// handler registry and records the outcome.
//
// An action type with no registered handler is recorded as a success:
// dispatch is advisory by default and callers opt into enforcement by
// registering a handler.
//
// Inputs:
//   - ctx: Context passed to the handler.
//   - actionType: The action class to dispatch.
//   - target: What the action acts upon.
//   - initiator: Who or what triggered the action.
//   - details: Optional structured context, merged into the record.
//
// Outputs:
//   - RecoveryAction: The recorded action with its outcome.
//   - error: The handler's error, if any.
func (m *Manager) ExecuteRecoveryAction(ctx context.Context, actionType ActionType, target, initiator string, details map[string]any) (RecoveryAction, error) {
	m.mu.Lock()
	handler := m.handlers[actionType]
	m.mu.Unlock()

	action := RecoveryAction{
		ID:         "act-" + uuid.NewString(),
		ActionType: actionType,
		Target:     target,
		Initiator:  initiator,
		StartedAt:  time.Now(),
	}
	if len(details) > 0 {
		action.Details = make(map[string]any, len(details))
		for k, v := range details {
			action.Details[k] = v
		}
	}

	var execErr error
	if handler != nil {
		execErr = handler(ctx, action)
	}

	action.CompletedAt = time.Now()
	action.Success = execErr == nil
	if execErr != nil {
		if action.Details == nil {
			action.Details = make(map[string]any, 1)
		}
		action.Details["error"] = execErr.Error()
	}

	m.recordAction(action)
	if execErr != nil {
		m.logger.Error("recovery action failed",
			"action_type", string(actionType), "target", target, "error", execErr)
	} else {
		m.logger.Info("recovery action executed",
			"action_type", string(actionType), "target", target, "initiator", initiator)
	}
	return action, execErr
}

// recordAction stores the completed action, updates metrics, and fans
// it out to hooks.
func (m *Manager) recordAction(action RecoveryAction) {
	m.mu.Lock()
	m.actions.Push(action)
	hooks := make([]ActionHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	outcome := "success"
	if !action.Success {
		outcome = "failure"
	}
	recoveryActionsTotal.WithLabelValues(string(action.ActionType), outcome).Inc()

	for _, hook := range hooks {
		hook(action)
	}
}

// CreateIncident opens an incident in the detected state and runs any
// matching playbooks.
//
// Every playbook whose triggers match the title or description runs
// once; its actions are dispatched through ExecuteRecoveryAction and
// appended to the incident.
//
// Inputs:
//   - ctx: Context passed to playbook action handlers.
//   - title: Short incident label.
//   - severity: Incident severity.
//   - description: What was observed.
//   - affectedSystems: Impacted components.
//
// Outputs:
//   - Incident: The opened incident including playbook actions.
func (m *Manager) CreateIncident(ctx context.Context, title string, severity IncidentSeverity, description string, affectedSystems []string) Incident {
	incident := &Incident{
		ID:              "inc-" + uuid.NewString(),
		Title:           title,
		Severity:        severity,
		Status:          StatusDetected,
		DetectedAt:      time.Now(),
		Description:     description,
		AffectedSystems: affectedSystems,
	}

	m.mu.Lock()
	m.incidents[incident.ID] = incident
	playbooks := make([]Playbook, len(m.playbooks))
	copy(playbooks, m.playbooks)
	incidentHooks := make([]IncidentHook, len(m.incidentHooks))
	copy(incidentHooks, m.incidentHooks)
	m.mu.Unlock()

	incidentsTotal.WithLabelValues(string(severity)).Inc()
	m.logger.Warn("incident opened",
		"incident_id", incident.ID, "title", title, "severity", string(severity))
	for _, hook := range incidentHooks {
		hook(*incident)
	}

	for _, pb := range playbooks {
		if !pb.matches(title, description) {
			continue
		}
		m.logger.Info("playbook triggered", "playbook", pb.Name, "incident_id", incident.ID)
		for _, step := range pb.Actions {
			action, _ := m.ExecuteRecoveryAction(ctx, step.Type, step.Target,
				"playbook:"+pb.Name, map[string]any{"incident_id": incident.ID})
			m.mu.Lock()
			incident.Actions = append(incident.Actions, action)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	out := *incident
	out.Actions = append([]RecoveryAction(nil), incident.Actions...)
	m.mu.Unlock()
	return out
}

// GetIncident returns the incident by ID.
func (m *Manager) GetIncident(id string) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	out := *incident
	out.Actions = append([]RecoveryAction(nil), incident.Actions...)
	return out, nil
}

// AttachAction appends an already-executed action to an incident.
func (m *Manager) AttachAction(incidentID string, action RecoveryAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[incidentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	incident.Actions = append(incident.Actions, action)
	return nil
}

// UpdateIncidentStatus moves an incident to a new lifecycle stage.
// Transitioning to resolved stamps ResolvedAt.
func (m *Manager) UpdateIncidentStatus(id string, status IncidentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	incident.Status = status
	if status == StatusResolved && incident.ResolvedAt == nil {
		now := time.Now()
		incident.ResolvedAt = &now
	}
	m.logger.Info("incident status updated", "incident_id", id, "status", string(status))
	return nil
}

// SetRootCause records the root cause and optional resolution notes.
func (m *Manager) SetRootCause(id, rootCause, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	incident.RootCause = rootCause
	if resolution != "" {
		incident.Resolution = resolution
	}
	return nil
}

// RecoveryMetrics summarizes the manager's state for dashboards.
type RecoveryMetrics struct {
	// RollbackPointCount is the number of stored valid points.
	RollbackPointCount int `json:"rollback_point_count"`

	// MaxRollbackPoints is the configured store bound.
	MaxRollbackPoints int `json:"max_rollback_points"`

	// StoreUtilization is RollbackPointCount / MaxRollbackPoints.
	StoreUtilization float64 `json:"store_utilization"`

	// IncidentsLast24h and IncidentsLast7d count incidents opened in
	// the trailing windows.
	IncidentsLast24h int `json:"incidents_last_24h"`
	IncidentsLast7d  int `json:"incidents_last_7d"`

	// ActiveIncidents counts incidents not yet resolved or closed.
	ActiveIncidents int `json:"active_incidents"`

	// MeanTimeToResolve averages detection-to-resolution over
	// incidents resolved in the last 7 days. Zero when none resolved.
	MeanTimeToResolve time.Duration `json:"mean_time_to_resolve"`

	// ActionSuccessRate is the success fraction over the retained
	// action history. 1.0 when no actions recorded.
	ActionSuccessRate float64 `json:"action_success_rate"`

	// GeneratedAt is when the metrics were computed.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetRecoveryMetrics computes a point-in-time summary of rollback
// store utilization, incident volume, and action outcomes.
func (m *Manager) GetRecoveryMetrics() RecoveryMetrics {
	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := RecoveryMetrics{
		RollbackPointCount: len(m.points),
		MaxRollbackPoints:  m.config.MaxRollbackPoints,
		StoreUtilization:   float64(len(m.points)) / float64(m.config.MaxRollbackPoints),
		GeneratedAt:        now,
	}

	var resolvedCount int
	var resolvedTotal time.Duration
	for _, incident := range m.incidents {
		if incident.DetectedAt.After(dayAgo) {
			metrics.IncidentsLast24h++
		}
		if incident.DetectedAt.After(weekAgo) {
			metrics.IncidentsLast7d++
		}
		if incident.IsActive() {
			metrics.ActiveIncidents++
		}
		if incident.ResolvedAt != nil && incident.ResolvedAt.After(weekAgo) {
			resolvedCount++
			resolvedTotal += incident.ResolvedAt.Sub(incident.DetectedAt)
		}
	}
	if resolvedCount > 0 {
		metrics.MeanTimeToResolve = resolvedTotal / time.Duration(resolvedCount)
	}

	total := m.actions.Len()
	if total == 0 {
		metrics.ActionSuccessRate = 1.0
	} else {
		succeeded := 0
		m.actions.ForEach(func(a RecoveryAction) bool {
			if a.Success {
				succeeded++
			}
			return true
		})
		metrics.ActionSuccessRate = float64(succeeded) / float64(total)
	}
	return metrics
}

// rollbackPointID derives the content-based point identifier.
func rollbackPointID(name string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", name, ts.UnixNano())))
	return "rbp-" + hex.EncodeToString(sum[:8])
}

// snapshotKey is the storage key for a persisted rollback point.
func snapshotKey(id string) string {
	return "recovery/rollback/" + id
}
