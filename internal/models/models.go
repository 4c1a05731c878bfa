// Package models defines the core data structures for the step-timer engine.
//
// It includes the workflow step definitions, durable timer records, derived
// snapshots, and the error taxonomy shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// EntityType identifies the kind of business object a workflow belongs to.
type EntityType string

const (
	// EntityTypeTender is a tender lifecycle workflow.
	EntityTypeTender EntityType = "TENDER"
	// EntityTypeTQ is a technical-query workflow.
	EntityTypeTQ EntityType = "TQ"
)

// TimerStatus represents the lifecycle state of a step timer.
type TimerStatus string

const (
	// TimerStatusNotStarted means the record exists but the clock has never run.
	TimerStatusNotStarted TimerStatus = "NOT_STARTED"
	// TimerStatusRunning means the SLA clock is currently accumulating time.
	TimerStatusRunning TimerStatus = "RUNNING"
	// TimerStatusPaused means the clock is stopped and may be resumed.
	TimerStatusPaused TimerStatus = "PAUSED"
	// TimerStatusCompleted means the step was finished by an operator.
	TimerStatusCompleted TimerStatus = "COMPLETED"
	// TimerStatusExpired means the SLA budget ran out before completion.
	TimerStatusExpired TimerStatus = "EXPIRED"
)

// IsValidTimerStatus checks if the given timer status is supported.
func IsValidTimerStatus(s TimerStatus) bool {
	switch s {
	case TimerStatusNotStarted, TimerStatusRunning, TimerStatusPaused, TimerStatusCompleted, TimerStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s TimerStatus) IsTerminal() bool {
	return s == TimerStatusCompleted || s == TimerStatusExpired
}

// Error variables for better error handling and testability
var (
	// ErrUnknownStep indicates a (entityType, stepKey) pair absent from the
	// registry. Configuration-class: surfaced immediately, never retried.
	ErrUnknownStep = errors.New("unknown workflow step")
	// ErrInvalidTransition indicates the requested transition is not legal
	// from the record's current state. Business-rule violation, not retried.
	ErrInvalidTransition = errors.New("invalid timer transition")
	// ErrConcurrentUpdate indicates optimistic-concurrency retries were
	// exhausted. The caller may retry the whole operation.
	ErrConcurrentUpdate = errors.New("concurrent timer update")
	// ErrStoreUnavailable indicates a storage I/O failure. Backoff policy is
	// the caller's concern.
	ErrStoreUnavailable = errors.New("timer store unavailable")
	// ErrVersionConflict is returned by a store when a compare-and-swap loses
	// the race. The engine retries; callers normally never see it.
	ErrVersionConflict = errors.New("timer record version conflict")
)

// WorkflowStepDefinition describes one ordered step of an entity type's
// workflow. Definitions are registry-owned and immutable after startup.
type WorkflowStepDefinition struct {
	EntityType         EntityType `json:"entity_type"`
	StepKey            string     `json:"step_key"`
	DisplayName        string     `json:"display_name"`
	DefaultAllocatedMs int64      `json:"default_allocated_ms"`
	SequenceIndex      int        `json:"sequence_index"`
}

// Validate performs validation on a WorkflowStepDefinition.
func (d *WorkflowStepDefinition) Validate() error {
	if d.EntityType == "" {
		return errors.New("entity_type is required")
	}
	if d.StepKey == "" {
		return errors.New("step_key is required")
	}
	if d.DisplayName == "" {
		return errors.New("display_name is required")
	}
	if d.DefaultAllocatedMs <= 0 {
		return errors.New("default_allocated_ms must be positive")
	}
	if d.SequenceIndex < 0 {
		return errors.New("sequence_index must not be negative")
	}
	return nil
}

// StepTimerRecord is the durable state of one step timer. One record exists
// per (entityType, entityID, stepKey) once a step has been started; records
// are never deleted so terminal rows double as the audit trail.
type StepTimerRecord struct {
	EntityType       EntityType  `json:"entity_type"`
	EntityID         string      `json:"entity_id"`
	StepKey          string      `json:"step_key"`
	Status           TimerStatus `json:"status"`
	TotalAllocatedMs int64       `json:"total_allocated_ms"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	LastResumedAt    *time.Time  `json:"last_resumed_at,omitempty"`
	AccumulatedRunMs int64       `json:"accumulated_run_ms"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Validate checks the record's state/field invariants.
func (r *StepTimerRecord) Validate() error {
	if r.EntityType == "" || r.EntityID == "" || r.StepKey == "" {
		return errors.New("record identity is incomplete")
	}
	if !IsValidTimerStatus(r.Status) {
		return fmt.Errorf("invalid timer status %q", r.Status)
	}
	if r.TotalAllocatedMs <= 0 {
		return errors.New("total_allocated_ms must be positive")
	}
	if r.AccumulatedRunMs < 0 {
		return errors.New("accumulated_run_ms must not be negative")
	}
	switch r.Status {
	case TimerStatusRunning:
		if r.LastResumedAt == nil {
			return errors.New("running record must have last_resumed_at")
		}
	case TimerStatusCompleted:
		if r.CompletedAt == nil {
			return errors.New("completed record must have completed_at")
		}
		if r.LastResumedAt != nil {
			return errors.New("completed record must not have last_resumed_at")
		}
	default:
		if r.LastResumedAt != nil {
			return fmt.Errorf("%s record must not have last_resumed_at", r.Status)
		}
	}
	return nil
}

// TimerSnapshot is the live view of a timer, derived from a record and a
// point in time. Snapshots are never persisted; callers own them.
type TimerSnapshot struct {
	HasTimer       bool        `json:"has_timer"`
	Status         TimerStatus `json:"status,omitempty"`
	AllocatedMs    int64       `json:"allocated_ms"`
	ElapsedMs      int64       `json:"elapsed_ms"`
	RemainingMs    int64       `json:"remaining_ms"`
	ScheduledEndAt *time.Time  `json:"scheduled_end_at,omitempty"`
	IsOverdue      bool        `json:"is_overdue"`
}

// WorkflowStep pairs a step definition with its current snapshot.
type WorkflowStep struct {
	Definition WorkflowStepDefinition `json:"definition"`
	Snapshot   TimerSnapshot          `json:"snapshot"`
}

// WorkflowStatus is the ordered step list for one entity's workflow.
type WorkflowStatus struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Steps      []WorkflowStep `json:"steps"`
}
