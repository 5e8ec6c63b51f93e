// Package storesql is a gorm.io/gorm + postgres Store implementation: real
// ACID transactions for RecordExecution's combined execution-insert +
// task-update, and a unique composite index on (execution_id, channel) so
// RecordDelivery's idempotency guarantee is a schema-level constraint
// rather than an application-level check-then-write race.
package storesql

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"torale/internal/taskstore"
)

// taskRow is the tasks table, indexed on user_id per spec §6.
type taskRow struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID               string    `gorm:"index;not null"`
	Name                 string
	Schedule             string
	SearchQuery          string
	ConditionDescription string
	NotifyBehavior       string
	Config               []byte `gorm:"type:jsonb"`
	IsActive             bool
	LastExecutionID      *uuid.UUID `gorm:"type:uuid"`
	LastKnownState       []byte `gorm:"type:jsonb"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (taskRow) TableName() string { return "tasks" }

// executionRow is the executions table, indexed on (task_id, started_at
// desc) per spec §6.
type executionRow struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskID           uuid.UUID `gorm:"type:uuid;index:idx_executions_task_started,priority:1"`
	Status           string
	StartedAt        time.Time `gorm:"index:idx_executions_task_started,priority:2,sort:desc"`
	CompletedAt      *time.Time
	Answer           string
	Evaluation       string
	CurrentState     []byte `gorm:"type:jsonb"`
	StructuralDiff   string
	ConditionMet     bool
	ChangeSummary    *string
	GroundingSources []byte `gorm:"type:jsonb"`
	ErrorMessage     *string
}

func (executionRow) TableName() string { return "executions" }

// deliveryRow is the delivery_records table; the unique index on
// (execution_id, channel) is the schema-level enforcement of spec
// invariant 6 ("at most one delivered record per (execution, channel)").
type deliveryRow struct {
	ExecutionID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_delivery_exec_channel,priority:1"`
	Channel           string    `gorm:"uniqueIndex:idx_delivery_exec_channel,priority:2"`
	Status            string
	DeliveredAt       *time.Time
	ProviderMessageID *string
}

func (deliveryRow) TableName() string { return "delivery_records" }

func toTaskRow(t taskstore.Task) (taskRow, error) {
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return taskRow{}, err
	}
	return taskRow{
		ID:                   t.ID,
		UserID:               t.UserID,
		Name:                 t.Name,
		Schedule:             t.Schedule,
		SearchQuery:          t.SearchQuery,
		ConditionDescription: t.ConditionDescription,
		NotifyBehavior:       string(t.NotifyBehavior),
		Config:               cfg,
		IsActive:             t.IsActive,
		LastExecutionID:      t.LastExecutionID,
		LastKnownState:       []byte(t.LastKnownState),
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}, nil
}

func fromTaskRow(r taskRow) (taskstore.Task, error) {
	var cfg map[string]string
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &cfg); err != nil {
			return taskstore.Task{}, err
		}
	}
	return taskstore.Task{
		ID:                   r.ID,
		UserID:               r.UserID,
		Name:                 r.Name,
		Schedule:             r.Schedule,
		SearchQuery:          r.SearchQuery,
		ConditionDescription: r.ConditionDescription,
		NotifyBehavior:       taskstore.NotifyBehavior(r.NotifyBehavior),
		Config:               cfg,
		IsActive:             r.IsActive,
		LastExecutionID:      r.LastExecutionID,
		LastKnownState:       json.RawMessage(r.LastKnownState),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

func toExecutionRow(e taskstore.Execution) (executionRow, error) {
	sources, err := json.Marshal(e.GroundingSources)
	if err != nil {
		return executionRow{}, err
	}
	row := executionRow{
		ID:               e.ID,
		TaskID:           e.TaskID,
		Status:           string(e.Status),
		StartedAt:        e.StartedAt,
		CompletedAt:      e.CompletedAt,
		ConditionMet:     e.ConditionMet,
		ChangeSummary:    e.ChangeSummary,
		GroundingSources: sources,
		ErrorMessage:     e.ErrorMessage,
	}
	if e.Result != nil {
		row.Answer = e.Result.Answer
		row.Evaluation = e.Result.Evaluation
		row.CurrentState = []byte(e.Result.CurrentState)
		row.StructuralDiff = e.Result.StructuralDiff
	}
	return row, nil
}

func fromExecutionRow(r executionRow) (taskstore.Execution, error) {
	var sources []taskstore.GroundingSource
	if len(r.GroundingSources) > 0 {
		if err := json.Unmarshal(r.GroundingSources, &sources); err != nil {
			return taskstore.Execution{}, err
		}
	}
	exec := taskstore.Execution{
		ID:               r.ID,
		TaskID:           r.TaskID,
		Status:           taskstore.ExecutionStatus(r.Status),
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		ConditionMet:     r.ConditionMet,
		ChangeSummary:    r.ChangeSummary,
		GroundingSources: sources,
		ErrorMessage:     r.ErrorMessage,
	}
	if r.Status == string(taskstore.ExecutionSuccess) {
		exec.Result = &taskstore.ExecutionResult{
			Answer:         r.Answer,
			Evaluation:     r.Evaluation,
			CurrentState:   json.RawMessage(r.CurrentState),
			StructuralDiff: r.StructuralDiff,
		}
	}
	return exec, nil
}
