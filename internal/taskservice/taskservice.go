// Package taskservice is Torale's façade: the one entry point that wires
// TaskStore and WorkflowRuntime together behind the create/update/delete/run
// sequencing rules from the task lifecycle. Callers (the HTTP API, the CLI)
// never touch the store or the runtime directly.
package taskservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"torale/internal/logging"
	toraleerrors "torale/internal/shared/errors"
	"torale/internal/taskstore"
	"torale/internal/workflowruntime"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunFunc executes one task's tick; satisfied by (*taskworkflow.Workflow).Run.
type RunFunc func(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)

// Service sequences TaskStore and WorkflowRuntime operations per the task
// lifecycle rules: on create and update the store write happens first and
// the runtime follows, a failed runtime registration is compensated by
// deleting the just-created row, and on delete the runtime is unregistered
// before the row is removed.
type Service struct {
	store       taskstore.Store
	runtime     workflowruntime.WorkflowRuntime
	runFn       RunFunc
	minInterval time.Duration
	logger      logging.Logger
}

func New(store taskstore.Store, runtime workflowruntime.WorkflowRuntime, runFn RunFunc, minInterval time.Duration, logger logging.Logger) *Service {
	return &Service{store: store, runtime: runtime, runFn: runFn, minInterval: minInterval, logger: logging.OrNop(logger)}
}

// ValidateSchedule reports whether expr parses as a standard five-field cron
// expression whose next two fire times after now are at least minInterval
// apart. Only that one gap is checked, not every gap in the schedule.
func ValidateSchedule(expr string, minInterval time.Duration) error {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return toraleerrors.NewPermanentError(fmt.Errorf("invalid schedule %q: %w", expr, err), "schedule expression is invalid")
	}
	if minInterval <= 0 {
		return nil
	}
	first := schedule.Next(time.Now())
	second := schedule.Next(first)
	if second.Sub(first) < minInterval {
		return toraleerrors.NewPermanentError(
			fmt.Errorf("schedule %q fires more often than the minimum interval %s", expr, minInterval),
			fmt.Sprintf("schedule fires more often than the minimum allowed interval of %s", minInterval),
		)
	}
	return nil
}

// CreateTask validates the schedule, writes the task, and registers it with
// the runtime. If registration fails, the just-created row is deleted
// (compensating action) and the registration error is surfaced.
func (s *Service) CreateTask(ctx context.Context, task taskstore.Task) (taskstore.Task, error) {
	if err := ValidateSchedule(task.Schedule, s.minInterval); err != nil {
		return taskstore.Task{}, err
	}
	if !task.NotifyBehavior.Valid() {
		return taskstore.Task{}, toraleerrors.NewPermanentError(fmt.Errorf("invalid notify_behavior %q", task.NotifyBehavior), "notify_behavior must be once, always, or track_state")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.IsActive = true

	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return taskstore.Task{}, fmt.Errorf("taskservice: create task: %w", err)
	}

	if err := s.registerSchedule(created); err != nil {
		s.logger.Warn("taskservice: registration failed for task=%s, deleting: %v", created.ID, err)
		if delErr := s.store.DeleteTask(ctx, created.ID); delErr != nil {
			s.logger.Warn("taskservice: compensating delete failed for task=%s: %v", created.ID, delErr)
		}
		return taskstore.Task{}, fmt.Errorf("taskservice: register schedule: %w", err)
	}

	return created, nil
}

// GetTask returns a single task by id.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (taskstore.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns tasks matching filter.
func (s *Service) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	return s.store.ListTasks(ctx, filter)
}

// ListExecutions returns the most recent executions for a task, newest first.
func (s *Service) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]taskstore.Execution, error) {
	return s.store.ListExecutions(ctx, taskID, limit)
}

// UpdateTask applies patch, then re-registers the schedule if the cron
// expression changed, and pauses/resumes the runtime if is_active flipped.
func (s *Service) UpdateTask(ctx context.Context, id uuid.UUID, patch taskstore.TaskPatch) (taskstore.Task, error) {
	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule, s.minInterval); err != nil {
			return taskstore.Task{}, err
		}
	}
	if patch.NotifyBehavior != nil && !patch.NotifyBehavior.Valid() {
		return taskstore.Task{}, toraleerrors.NewPermanentError(fmt.Errorf("invalid notify_behavior %q", *patch.NotifyBehavior), "notify_behavior must be once, always, or track_state")
	}

	updated, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return taskstore.Task{}, fmt.Errorf("taskservice: update task: %w", err)
	}

	if patch.Schedule != nil {
		if err := s.registerSchedule(updated); err != nil {
			return taskstore.Task{}, fmt.Errorf("taskservice: re-register schedule: %w", err)
		}
	}

	if patch.IsActive != nil {
		if err := s.applyActiveState(updated); err != nil {
			return taskstore.Task{}, fmt.Errorf("taskservice: apply active state: %w", err)
		}
	}

	return updated, nil
}

// DeleteTask unregisters the schedule first, then deletes the task row, so a
// crash mid-delete leaves an orphaned row rather than a dangling schedule.
func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if s.runtime != nil {
		if err := s.runtime.Unregister(id); err != nil {
			return fmt.Errorf("taskservice: unregister schedule: %w", err)
		}
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("taskservice: delete task: %w", err)
	}
	return nil
}

// RunTask triggers an out-of-band execution via the runtime, bypassing the
// cron schedule entirely.
func (s *Service) RunTask(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	if s.runtime == nil {
		return uuid.Nil, toraleerrors.NewPermanentError(fmt.Errorf("no workflow runtime configured"), "manual run is unavailable")
	}
	return s.runtime.RunNow(ctx, id)
}

func (s *Service) registerSchedule(task taskstore.Task) error {
	if s.runtime == nil {
		return nil
	}
	if err := s.runtime.RegisterSchedule(task.ID, task.Schedule, s.runFn); err != nil {
		return err
	}
	if !task.IsActive {
		return s.runtime.Pause(task.ID)
	}
	return nil
}

func (s *Service) applyActiveState(task taskstore.Task) error {
	if s.runtime == nil {
		return nil
	}
	if task.IsActive {
		return s.runtime.Resume(task.ID)
	}
	return s.runtime.Pause(task.ID)
}
