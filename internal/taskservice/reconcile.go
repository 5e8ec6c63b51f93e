package taskservice

import (
	"context"
	"time"

	"torale/internal/taskstore"
	"torale/internal/workflowruntime"
)

// Reconciler periodically diffs the store's view of active tasks against the
// runtime's registered schedules and repairs any divergence, trusting the
// store as ground truth. This heals a runtime that restarted without the
// store's knowledge. A runtime in standby stays in standby: reconciliation
// records its schedules but does not make it fire ticks.
type Reconciler struct {
	svc      *Service
	interval time.Duration
}

func NewReconciler(svc *Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{svc: svc, interval: interval}
}

// Run blocks, reconciling on each tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.svc.logger.Warn("taskservice: reconcile pass failed: %v", err)
			}
		}
	}
}

// ReconcileOnce runs a single reconciliation pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	if r.svc.runtime == nil {
		return nil
	}

	tasks, err := r.svc.store.ListTasks(ctx, taskstore.TaskFilter{})
	if err != nil {
		return err
	}
	diagnostics, err := r.svc.runtime.Diagnostics()
	if err != nil {
		return err
	}

	registered := make(map[string]workflowruntime.ScheduleState, len(diagnostics))
	for _, d := range diagnostics {
		registered[d.TaskID.String()] = d
	}

	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		seen[task.ID.String()] = true
		state, known := registered[task.ID.String()]

		switch {
		case !known:
			r.svc.logger.Info("taskservice: reconcile registering missing schedule task=%s", task.ID)
			if err := r.svc.registerSchedule(task); err != nil {
				r.svc.logger.Warn("taskservice: reconcile failed to register task=%s: %v", task.ID, err)
			}
		case task.IsActive && state.Paused:
			r.svc.logger.Info("taskservice: reconcile resuming task=%s", task.ID)
			if err := r.svc.runtime.Resume(task.ID); err != nil {
				r.svc.logger.Warn("taskservice: reconcile failed to resume task=%s: %v", task.ID, err)
			}
		case !task.IsActive && !state.Paused:
			r.svc.logger.Info("taskservice: reconcile pausing task=%s", task.ID)
			if err := r.svc.runtime.Pause(task.ID); err != nil {
				r.svc.logger.Warn("taskservice: reconcile failed to pause task=%s: %v", task.ID, err)
			}
		}
	}

	for _, d := range diagnostics {
		if !seen[d.TaskID.String()] {
			r.svc.logger.Info("taskservice: reconcile unregistering orphaned schedule task=%s", d.TaskID)
			if err := r.svc.runtime.Unregister(d.TaskID); err != nil {
				r.svc.logger.Warn("taskservice: reconcile failed to unregister task=%s: %v", d.TaskID, err)
			}
		}
	}

	return nil
}
