package workflowruntime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockLeaderLock struct {
	mu           sync.Mutex
	acquireOK    bool
	acquireErr   error
	releaseErr   error
	acquireCalls int
	releaseCalls int
}

func (m *mockLeaderLock) Acquire(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireCalls++
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	return m.acquireOK, nil
}

func (m *mockLeaderLock) Release(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	return m.releaseErr
}

func (m *mockLeaderLock) Name() string { return "mock-leader-lock" }

func (m *mockLeaderLock) stats() (acquireCalls, releaseCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireCalls, m.releaseCalls
}

func waitFor(t *testing.T, timeout time.Duration, pollFn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pollFn() {
			return
		}
		time.Sleep(nextScheduleCheckInterval)
	}
	t.Fatal("timed out waiting for condition")
}

func TestCronRuntimeStandbyWhenLockNotAcquired(t *testing.T) {
	lock := &mockLeaderLock{acquireOK: false}
	rt := NewCronRuntime(lock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	taskID := uuid.New()
	var calls int
	fn := func(context.Context, uuid.UUID) (uuid.UUID, error) {
		calls++
		return uuid.New(), nil
	}
	if err := rt.RegisterSchedule(taskID, "* * * * *", fn); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	states, err := rt.Diagnostics()
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if len(states) != 1 || states[0].Registered {
		t.Fatalf("expected standby schedule to be tracked but not registered, got %+v", states)
	}

	acquireCalls, releaseCalls := lock.stats()
	if acquireCalls != 1 {
		t.Fatalf("expected acquire called once, got %d", acquireCalls)
	}
	if releaseCalls != 0 {
		t.Fatalf("expected release not called while standby, got %d", releaseCalls)
	}
}

func TestCronRuntimeLeaderLockAcquireError(t *testing.T) {
	lock := &mockLeaderLock{acquireErr: errors.New("lock unavailable")}
	rt := NewCronRuntime(lock, nil)

	err := rt.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to return the leader lock error")
	}
	if !strings.Contains(err.Error(), "leader lock") {
		t.Fatalf("expected leader lock error context, got %v", err)
	}
}

func TestCronRuntimeLeaderLockReleasedOnStop(t *testing.T) {
	lock := &mockLeaderLock{acquireOK: true}
	rt := NewCronRuntime(lock, nil)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.Stop()
	rt.Stop() // idempotent

	acquireCalls, releaseCalls := lock.stats()
	if acquireCalls != 1 {
		t.Fatalf("expected acquire called once, got %d", acquireCalls)
	}
	if releaseCalls != 1 {
		t.Fatalf("expected release called once, got %d", releaseCalls)
	}
}

func TestCronRuntimeRunNowInvokesRegisteredWorkflow(t *testing.T) {
	rt := NewCronRuntime(nil, nil)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	taskID := uuid.New()
	wantExecID := uuid.New()
	if err := rt.RegisterSchedule(taskID, "0 0 1 1 *", func(context.Context, uuid.UUID) (uuid.UUID, error) {
		return wantExecID, nil
	}); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	gotExecID, err := rt.RunNow(context.Background(), taskID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if gotExecID != wantExecID {
		t.Fatalf("expected execution id %s, got %s", wantExecID, gotExecID)
	}
}

func TestCronRuntimeRunNowUnknownTaskErrors(t *testing.T) {
	rt := NewCronRuntime(nil, nil)
	if _, err := rt.RunNow(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unregistered task")
	}
}

func TestCronRuntimePausedTaskDoesNotFire(t *testing.T) {
	rt := NewCronRuntime(nil, nil)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	taskID := uuid.New()
	var mu sync.Mutex
	calls := 0
	if err := rt.RegisterSchedule(taskID, "* * * * *", func(context.Context, uuid.UUID) (uuid.UUID, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return uuid.New(), nil
	}); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}
	if err := rt.Pause(taskID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Fire the registered cron job directly; a paused task skips it.
	rt.cron.Entry(rt.entries[taskID].entryID).Job.Run()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Fatalf("expected 0 calls while paused, got %d", got)
	}
}

func TestCronRuntimeConcurrentTicksQueueRatherThanSkip(t *testing.T) {
	rt := NewCronRuntime(nil, nil)

	taskID := uuid.New()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	fn := func(context.Context, uuid.UUID) (uuid.UUID, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return uuid.New(), nil
	}
	if err := rt.RegisterSchedule(taskID, "0 0 1 1 *", fn); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = rt.RunNow(context.Background(), taskID)
		close(done)
	}()
	<-started

	second := make(chan struct{})
	go func() {
		_, _ = rt.RunNow(context.Background(), taskID)
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("expected second RunNow to block while the first is in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	<-second

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 2 {
		t.Fatalf("expected both invocations to eventually run, got %d", got)
	}
}
