// Package leaderlock gates WorkflowRuntime's active scheduling to a single
// process across a fleet of toraled replicas, so a cron trigger fires once
// per tick regardless of how many instances are running.
package leaderlock

import "context"

// LeaderLock is held by at most one process at a time. WorkflowRuntime
// registers real triggers only while held and runs in standby (triggers
// accepted but not scheduled) otherwise.
type LeaderLock interface {
	// Acquire attempts to take the lock, blocking until ctx is canceled or
	// the lock is obtained. It returns (true, nil) once held; calling
	// Acquire again while already held is a no-op that returns (true, nil)
	// immediately.
	Acquire(ctx context.Context) (bool, error)
	// Release gives up the lock. It is safe to call when not held.
	Release(ctx context.Context) error
	// Name identifies the lock for logging.
	Name() string
}
