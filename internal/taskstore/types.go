// Package taskstore defines Torale's persistence port and domain entities:
// Task, Execution, and DeliveryRecord, plus the store-level error taxonomy.
package taskstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotifyBehavior is the three-valued policy governing delivery and
// self-pausing, per spec §4.5.
type NotifyBehavior string

const (
	NotifyOnce       NotifyBehavior = "once"
	NotifyAlways     NotifyBehavior = "always"
	NotifyTrackState NotifyBehavior = "track_state"
)

func (b NotifyBehavior) Valid() bool {
	switch b {
	case NotifyOnce, NotifyAlways, NotifyTrackState:
		return true
	default:
		return false
	}
}

// ExecutionStatus is an Execution's monotonic lifecycle state.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// DeliveryStatus is a DeliveryRecord's resolution state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Task is the user-declared monitoring intent (spec §3).
type Task struct {
	ID                   uuid.UUID
	UserID               string
	Name                 string
	Schedule             string
	SearchQuery          string
	ConditionDescription string
	NotifyBehavior       NotifyBehavior
	Config               map[string]string
	IsActive             bool
	LastExecutionID      *uuid.UUID
	LastKnownState       json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GroundingSource is one citation returned by the grounded-search port.
type GroundingSource struct {
	Title string
	URI   string
}

// ExecutionResult holds the LLM output captured by a successful execution.
type ExecutionResult struct {
	Answer       string
	Evaluation   string
	CurrentState json.RawMessage
	// StructuralDiff is an opaque, byte-deterministic diff between the
	// previous and current canonical state, attached purely as an operator
	// diagnostic -- never a substitute for ChangeSummary.
	StructuralDiff string
}

// Execution is one immutable run of a task (spec §3).
type Execution struct {
	ID               uuid.UUID
	TaskID           uuid.UUID
	Status           ExecutionStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	Result           *ExecutionResult
	ConditionMet     bool
	ChangeSummary    *string
	GroundingSources []GroundingSource
	ErrorMessage     *string
}

// DeliveryRecord is the idempotency token + audit row for one notification
// attempt, keyed by (ExecutionID, Channel).
type DeliveryRecord struct {
	ExecutionID       uuid.UUID
	Channel           string
	Status            DeliveryStatus
	DeliveredAt       *time.Time
	ProviderMessageID *string
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	UserID   string
	IsActive *bool
}

// TaskPatch carries the fields UpdateTask may change; nil means "leave
// unchanged."
type TaskPatch struct {
	Name                 *string
	Schedule             *string
	SearchQuery          *string
	ConditionDescription *string
	NotifyBehavior       *NotifyBehavior
	Config               map[string]string
	IsActive             *bool
}

// ExecutionUpdate is the atomic "record an execution, and optionally refresh
// the task's last-known state" request taken by RecordExecution.
type ExecutionUpdate struct {
	Execution         Execution
	NewLastKnownState json.RawMessage // written only when HasNewState is true
	HasNewState       bool
}
