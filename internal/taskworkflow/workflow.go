// Package taskworkflow sequences one task's per-tick run: load the task,
// run the executor, persist the result, decide whether to notify and
// whether to pause, and act on that decision. The execution is written to
// the store once, after the executor returns; no pending or running record
// is written before that. Each external side effect is a
// separately-retryable activity.
package taskworkflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"torale/internal/executor"
	"torale/internal/logging"
	"torale/internal/notifier"
	toraleerrors "torale/internal/shared/errors"
	"torale/internal/taskstore"
	"torale/internal/workflowruntime"
)

// storageRetryConfig governs every activity that hits TaskStore: up to 5
// attempts with the pack's standard backoff shape, retried only on
// StorageUnavailable-classified (transient) failures.
func storageRetryConfig() toraleerrors.RetryConfig {
	return toraleerrors.DefaultRetryConfig(5)
}

// deliverRetryConfig governs the Deliver activity's NotifierUnavailable
// retries: same backoff shape as storage, capped lower since a delivery
// failure is already reflected on the DeliveryRecord and the next cron
// tick will not retry it on the caller's behalf.
func deliverRetryConfig() toraleerrors.RetryConfig {
	return toraleerrors.DefaultRetryConfig(3)
}

// Timeouts bounds each activity's wall-clock budget. The zero value for
// any field means "no deadline," which is what tests default to.
type Timeouts struct {
	Load    time.Duration
	Execute time.Duration
	Persist time.Duration
	Deliver time.Duration
}

// RunOptions customizes one workflow run. The zero value is the normal
// cron-tick behavior: notifications deliver per ApplyNotifyBehavior.
type RunOptions struct {
	// SuppressNotifications skips the Deliver activity for manual runs
	// while still computing and logging the notify decision.
	SuppressNotifications bool
}

// Workflow sequences one task's execution and its downstream effects.
type Workflow struct {
	store    taskstore.Store
	executor *executor.Executor
	notifier notifier.Notifier
	runtime  workflowruntime.WorkflowRuntime
	timeouts Timeouts
	logger   logging.Logger
}

func New(store taskstore.Store, exec *executor.Executor, notif notifier.Notifier, runtime workflowruntime.WorkflowRuntime, timeouts Timeouts, logger logging.Logger) *Workflow {
	return &Workflow{store: store, executor: exec, notifier: notif, runtime: runtime, timeouts: timeouts, logger: logging.OrNop(logger)}
}

// withTimeout derives a child context bounded by d, or parent unchanged
// (still cancelable) if d is zero.
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// Run is the WorkflowFunc registered with the WorkflowRuntime: it fires on
// every cron tick with default options (notifications never suppressed).
func (w *Workflow) Run(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	return w.RunWithOptions(ctx, taskID, RunOptions{})
}

// RunWithOptions runs the full loading -> executing -> persisting ->
// notifying -> done sequence for taskID.
func (w *Workflow) RunWithOptions(ctx context.Context, taskID uuid.UUID, opts RunOptions) (uuid.UUID, error) {
	loadCtx, cancelLoad := withTimeout(ctx, w.timeouts.Load)
	defer cancelLoad()

	task, err := w.loadTask(loadCtx, taskID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("taskworkflow: load task: %w", err)
	}

	lastExecutedAt, err := w.lastExecutedAt(loadCtx, task)
	if err != nil {
		return uuid.Nil, fmt.Errorf("taskworkflow: load last execution: %w", err)
	}

	execCtx, cancelExec := withTimeout(ctx, w.timeouts.Execute)
	execution := w.executor.Execute(execCtx, task, lastExecutedAt)
	cancelExec()

	persistCtx, cancelPersist := withTimeout(ctx, w.timeouts.Persist)
	err = w.persistResult(persistCtx, task, execution)
	cancelPersist()
	if err != nil {
		return execution.ID, fmt.Errorf("taskworkflow: persist result: %w", err)
	}

	decision := ApplyNotifyBehavior(task, execution)
	w.logger.Debug("taskworkflow: task=%s execution=%s decision=%+v", taskID, execution.ID, decision)

	if decision.ShouldDeliver && !opts.SuppressNotifications {
		deliverCtx, cancelDeliver := withTimeout(ctx, w.timeouts.Deliver)
		err := w.deliver(deliverCtx, task, execution)
		cancelDeliver()
		if err != nil {
			w.logger.Warn("taskworkflow: task=%s execution=%s delivery failed: %v", taskID, execution.ID, err)
		}
	}

	if decision.ShouldPause {
		if err := w.pauseSchedule(ctx, taskID); err != nil {
			w.logger.Warn("taskworkflow: task=%s pause failed: %v", taskID, err)
		}
	}

	return execution.ID, nil
}

func (w *Workflow) loadTask(ctx context.Context, taskID uuid.UUID) (taskstore.Task, error) {
	return toraleerrors.RetryWithResultAndLog(ctx, storageRetryConfig(), w.logger.Debug, toraleerrors.IsTransient,
		func(ctx context.Context) (taskstore.Task, error) {
			return w.store.GetTask(ctx, taskID)
		})
}

// lastExecutedAt reports when the task's last recorded execution started,
// used to build the executor's temporal-context prefix. Returns nil for a
// task that has never executed.
func (w *Workflow) lastExecutedAt(ctx context.Context, task taskstore.Task) (*time.Time, error) {
	if task.LastExecutionID == nil {
		return nil, nil
	}
	last, err := toraleerrors.RetryWithResultAndLog(ctx, storageRetryConfig(), w.logger.Debug, toraleerrors.IsTransient,
		func(ctx context.Context) (taskstore.Execution, error) {
			return w.store.GetExecution(ctx, *task.LastExecutionID)
		})
	if err != nil {
		if taskstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &last.StartedAt, nil
}

func (w *Workflow) persistResult(ctx context.Context, task taskstore.Task, execution taskstore.Execution) error {
	update := taskstore.ExecutionUpdate{Execution: execution}
	if execution.Status == taskstore.ExecutionSuccess {
		update.HasNewState = true
		update.NewLastKnownState = execution.Result.CurrentState
	}

	_, err := toraleerrors.RetryWithResultAndLog(ctx, storageRetryConfig(), w.logger.Debug, toraleerrors.IsTransient,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.store.RecordExecution(ctx, update)
		})
	return err
}

func (w *Workflow) deliver(ctx context.Context, task taskstore.Task, execution taskstore.Execution) error {
	channel := task.Config["notify_channel"]
	if channel == "" {
		channel = "webhook"
	}

	record := taskstore.DeliveryRecord{ExecutionID: execution.ID, Channel: channel, Status: taskstore.DeliveryPending}
	if err := w.store.RecordDelivery(ctx, record); err != nil {
		if taskstore.IsAlreadyDelivered(err) {
			return nil
		}
		return fmt.Errorf("record pending delivery: %w", err)
	}

	payload := notifier.Payload{
		ExecutionID:      execution.ID.String(),
		TaskName:         task.Name,
		UserID:           task.UserID,
		SearchQuery:      task.SearchQuery,
		ConditionMet:     execution.ConditionMet,
		GroundingSources: execution.GroundingSources,
	}
	if execution.Result != nil {
		payload.Answer = execution.Result.Answer
	}
	if execution.ChangeSummary != nil {
		payload.ChangeSummary = *execution.ChangeSummary
	}

	result, deliverErr := toraleerrors.RetryWithResultAndLog(ctx, deliverRetryConfig(), w.logger.Debug,
		func(err error) bool { return !notifier.IsRejected(err) },
		func(ctx context.Context) (notifier.DeliveryResult, error) {
			return w.notifier.Deliver(ctx, channel, payload)
		})

	status := taskstore.DeliveryDelivered
	var providerMessageID *string
	if deliverErr != nil {
		status = taskstore.DeliveryFailed
		if !notifier.IsRejected(deliverErr) {
			// Transient channel failure: leave the record pending-turned-failed
			// for observability but surface the error so callers can see it.
			_ = w.store.UpdateDeliveryStatus(ctx, execution.ID, channel, status, nil)
			return fmt.Errorf("deliver notification: %w", deliverErr)
		}
	} else if result.ProviderMessageID != "" {
		providerMessageID = &result.ProviderMessageID
	}

	return w.store.UpdateDeliveryStatus(ctx, execution.ID, channel, status, providerMessageID)
}

func (w *Workflow) pauseSchedule(ctx context.Context, taskID uuid.UUID) error {
	if w.runtime != nil {
		if err := w.runtime.Pause(taskID); err != nil {
			return fmt.Errorf("pause runtime schedule: %w", err)
		}
	}
	inactive := false
	_, err := toraleerrors.RetryWithResultAndLog(ctx, storageRetryConfig(), w.logger.Debug, toraleerrors.IsTransient,
		func(ctx context.Context) (taskstore.Task, error) {
			return w.store.UpdateTask(ctx, taskID, taskstore.TaskPatch{IsActive: &inactive})
		})
	return err
}
