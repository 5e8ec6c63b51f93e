package workflowruntime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"torale/internal/leaderlock"
	"torale/internal/logging"
)

// entry is the runtime's bookkeeping for one registered task schedule.
type entry struct {
	cronExpr string
	fn       WorkflowFunc
	entryID  cron.EntryID
	added    bool // whether entryID refers to a live cron.Cron entry
	paused   bool
	runLock  *sync.Mutex // serializes concurrent invocations of fn for this task
}

// CronRuntime is the production WorkflowRuntime: one robfig/cron/v3 engine
// per process, gated by an optional leader lock so only one replica in a
// fleet actually fires ticks. Unlike the teacher's scheduler, which skips
// or delays an overlapping tick via cron.SkipIfStillRunning /
// cron.DelayIfStillRunning, every task here gets its own mutex so a slow
// run never causes a tick to be silently dropped -- the next tick queues
// behind it and still executes once the first finishes.
type CronRuntime struct {
	cron   *cron.Cron
	parser cron.Parser
	lock   leaderlock.LeaderLock
	logger logging.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	standby bool

	stopOnce sync.Once
	stopped  chan struct{}

	onTick func(taskID string)
}

// SetTickRecorder wires a callback invoked once per dispatched tick (paused
// ticks excluded), e.g. metrics.Metrics.RecordTick. Nil clears it.
func (r *CronRuntime) SetTickRecorder(fn func(taskID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTick = fn
}

// NewCronRuntime builds a CronRuntime. lock may be nil, meaning this
// process always considers itself leader (single-instance deployments).
func NewCronRuntime(lock leaderlock.LeaderLock, logger logging.Logger) *CronRuntime {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronRuntime{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		lock:    lock,
		logger:  logging.OrNop(logger),
		entries: make(map[uuid.UUID]*entry),
		stopped: make(chan struct{}),
	}
}

// Start acquires the leader lock (if configured) and starts the cron
// engine. If the lock cannot be acquired, the runtime enters standby: it
// still accepts RegisterSchedule calls for bookkeeping, but schedules
// zero cron.Cron entries, so no tick ever fires from this process.
func (r *CronRuntime) Start(ctx context.Context) error {
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("workflowruntime: leader lock: %w", err)
		}
		if !acquired {
			r.mu.Lock()
			r.standby = true
			r.mu.Unlock()
			r.logger.Info("workflowruntime: standby, leader lock %q not held", r.lock.Name())
		}
	}

	r.cron.Start()
	r.logger.Info("workflowruntime: started")

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop releases the leader lock and stops the cron engine. Safe to call
// more than once.
func (r *CronRuntime) Stop() {
	r.stopOnce.Do(func() {
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		if r.lock != nil {
			if err := r.lock.Release(context.Background()); err != nil {
				r.logger.Warn("workflowruntime: release leader lock: %v", err)
			}
		}
		close(r.stopped)
		r.logger.Info("workflowruntime: stopped")
	})
}

// Done returns a channel closed once Stop has fully completed.
func (r *CronRuntime) Done() <-chan struct{} { return r.stopped }

func (r *CronRuntime) RegisterSchedule(taskID uuid.UUID, cronExpr string, fn WorkflowFunc) error {
	if _, err := r.parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("workflowruntime: invalid cron expression %q: %w", cronExpr, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[taskID]; ok && existing.added {
		r.cron.Remove(existing.entryID)
	}

	e := &entry{cronExpr: cronExpr, fn: fn, runLock: &sync.Mutex{}}
	if !r.standby {
		entryID, err := r.cron.AddFunc(cronExpr, r.wrap(taskID, e))
		if err != nil {
			return fmt.Errorf("workflowruntime: register schedule: %w", err)
		}
		e.entryID = entryID
		e.added = true
	}
	r.entries[taskID] = e
	return nil
}

// wrap builds the func cron.Cron invokes on each tick: it serializes
// overlapping runs of the same task and skips firing entirely while the
// task is paused.
func (r *CronRuntime) wrap(taskID uuid.UUID, e *entry) func() {
	return func() {
		r.mu.Lock()
		paused := e.paused
		onTick := r.onTick
		r.mu.Unlock()
		if paused {
			return
		}
		if onTick != nil {
			onTick(taskID.String())
		}

		e.runLock.Lock()
		defer e.runLock.Unlock()

		if _, err := e.fn(context.Background(), taskID); err != nil {
			r.logger.Warn("workflowruntime: task %s workflow returned error: %v", taskID, err)
		}
	}
}

func (r *CronRuntime) Pause(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return fmt.Errorf("workflowruntime: task %s is not registered", taskID)
	}
	e.paused = true
	return nil
}

func (r *CronRuntime) Resume(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return fmt.Errorf("workflowruntime: task %s is not registered", taskID)
	}
	e.paused = false
	return nil
}

func (r *CronRuntime) Unregister(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return nil
	}
	if e.added {
		r.cron.Remove(e.entryID)
	}
	delete(r.entries, taskID)
	return nil
}

func (r *CronRuntime) RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	r.mu.Unlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("workflowruntime: task %s is not registered", taskID)
	}

	e.runLock.Lock()
	defer e.runLock.Unlock()
	return e.fn(ctx, taskID)
}

func (r *CronRuntime) Diagnostics() ([]ScheduleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]ScheduleState, 0, len(r.entries))
	for taskID, e := range r.entries {
		states = append(states, ScheduleState{TaskID: taskID, Registered: e.added, Paused: e.paused})
	}
	return states, nil
}

var _ WorkflowRuntime = (*CronRuntime)(nil)

// nextScheduleCheckInterval is the default poll period callers should use
// when waiting on a newly registered schedule's first tick in tests.
const nextScheduleCheckInterval = 10 * time.Millisecond
