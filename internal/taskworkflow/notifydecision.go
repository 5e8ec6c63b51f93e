package taskworkflow

import "torale/internal/taskstore"

// NotifyDecision is the pure output of evaluating a task's notify_behavior
// against one execution's outcome.
type NotifyDecision struct {
	ShouldDeliver bool
	ShouldPause   bool
}

// ApplyNotifyBehavior is a pure function: given a task's configured
// behavior and one execution's outcome, it decides whether to deliver a
// notification and whether to pause the task's schedule afterward. Failed
// executions never deliver and never pause, regardless of behavior.
func ApplyNotifyBehavior(task taskstore.Task, execution taskstore.Execution) NotifyDecision {
	if execution.Status != taskstore.ExecutionSuccess {
		return NotifyDecision{}
	}

	switch task.NotifyBehavior {
	case taskstore.NotifyOnce:
		if execution.ConditionMet {
			return NotifyDecision{ShouldDeliver: true, ShouldPause: true}
		}
	case taskstore.NotifyAlways:
		if execution.ConditionMet {
			return NotifyDecision{ShouldDeliver: true}
		}
	case taskstore.NotifyTrackState:
		if execution.ChangeSummary != nil && *execution.ChangeSummary != "" {
			return NotifyDecision{ShouldDeliver: true}
		}
	}
	return NotifyDecision{}
}
