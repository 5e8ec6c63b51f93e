// Package workflowruntime is the durable, cron-driven scheduling port: it
// decides when a task's workflow body fires and guarantees at-least-once
// invocation per tick, leaving the workflow body itself to the
// taskworkflow package.
package workflowruntime

import (
	"context"

	"github.com/google/uuid"
)

// WorkflowFunc is the body a registered schedule invokes on every tick (and
// on RunNow). It returns the execution id the workflow produced so callers
// can correlate the fire with its result.
type WorkflowFunc func(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)

// ScheduleState is one task's observed state inside the runtime, used only
// by the reconciliation loop (never the hot path) to detect drift against
// the store's is_active column.
type ScheduleState struct {
	TaskID     uuid.UUID
	Registered bool
	Paused     bool
}

// WorkflowRuntime abstracts the durable scheduler.
type WorkflowRuntime interface {
	// RegisterSchedule arranges for fn to run on every cronExpr tick for
	// taskID. Re-registering an existing taskID replaces its schedule.
	RegisterSchedule(taskID uuid.UUID, cronExpr string, fn WorkflowFunc) error
	// Pause stops a registered schedule from firing without forgetting it.
	Pause(taskID uuid.UUID) error
	// Resume resumes a previously paused schedule.
	Resume(taskID uuid.UUID) error
	// Unregister stops firing and forgets taskID entirely.
	Unregister(taskID uuid.UUID) error
	// RunNow invokes the registered workflow body out of band, once,
	// regardless of the schedule's paused state. It blocks until the
	// workflow body returns.
	RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)
	// Diagnostics reports every schedule the runtime currently knows
	// about, for the reconciliation loop to compare against the store.
	Diagnostics() ([]ScheduleState, error)
}
