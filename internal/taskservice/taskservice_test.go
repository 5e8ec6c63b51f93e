package taskservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"torale/internal/taskstore"
	"torale/internal/workflowruntime"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]taskstore.Task
	createErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[uuid.UUID]taskstore.Task)}
}

func (s *fakeStore) CreateTask(ctx context.Context, task taskstore.Task) (taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return taskstore.Task{}, s.createErr
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *fakeStore) GetTask(ctx context.Context, id uuid.UUID) (taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return taskstore.Task{}, taskstore.NotFoundTask(id.String())
	}
	return task, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, id uuid.UUID, patch taskstore.TaskPatch) (taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return taskstore.Task{}, taskstore.NotFoundTask(id.String())
	}
	if patch.Schedule != nil {
		task.Schedule = *patch.Schedule
	}
	if patch.IsActive != nil {
		task.IsActive = *patch.IsActive
	}
	if patch.NotifyBehavior != nil {
		task.NotifyBehavior = *patch.NotifyBehavior
	}
	s.tasks[id] = task
	return task, nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]taskstore.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) RecordExecution(ctx context.Context, update taskstore.ExecutionUpdate) error {
	return nil
}

func (s *fakeStore) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]taskstore.Execution, error) {
	return nil, nil
}

func (s *fakeStore) GetExecution(ctx context.Context, id uuid.UUID) (taskstore.Execution, error) {
	return taskstore.Execution{}, taskstore.NotFoundExecution(id.String())
}

func (s *fakeStore) RecordDelivery(ctx context.Context, record taskstore.DeliveryRecord) error {
	return nil
}

func (s *fakeStore) UpdateDeliveryStatus(ctx context.Context, executionID uuid.UUID, channel string, status taskstore.DeliveryStatus, providerMessageID *string) error {
	return nil
}

type fakeRuntime struct {
	mu              sync.Mutex
	registered      map[uuid.UUID]workflowruntime.ScheduleState
	registerErr     error
	pauseCalls      int
	resumeCalls     int
	unregisterCalls int
	runNowTaskID    uuid.UUID
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{registered: make(map[uuid.UUID]workflowruntime.ScheduleState)}
}

func (r *fakeRuntime) RegisterSchedule(taskID uuid.UUID, cronExpr string, fn workflowruntime.WorkflowFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered[taskID] = workflowruntime.ScheduleState{TaskID: taskID, Registered: true}
	return nil
}

func (r *fakeRuntime) Pause(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseCalls++
	state := r.registered[taskID]
	state.Paused = true
	r.registered[taskID] = state
	return nil
}

func (r *fakeRuntime) Resume(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeCalls++
	state := r.registered[taskID]
	state.Paused = false
	r.registered[taskID] = state
	return nil
}

func (r *fakeRuntime) Unregister(taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterCalls++
	delete(r.registered, taskID)
	return nil
}

func (r *fakeRuntime) RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runNowTaskID = taskID
	return uuid.New(), nil
}

func (r *fakeRuntime) Diagnostics() ([]workflowruntime.ScheduleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflowruntime.ScheduleState, 0, len(r.registered))
	for _, s := range r.registered {
		out = append(out, s)
	}
	return out, nil
}

func noopRunFn(context.Context, uuid.UUID) (uuid.UUID, error) { return uuid.New(), nil }

func TestCreateTaskRegistersSchedule(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task := taskstore.Task{Name: "watch", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce}
	created, err := svc.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected a generated task id")
	}
	if !rt.registered[created.ID].Registered {
		t.Fatal("expected schedule to be registered")
	}
}

func TestCreateTaskRejectsTooFrequentSchedule(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Hour, nil)

	task := taskstore.Task{Name: "watch", Schedule: "* * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce}
	if _, err := svc.CreateTask(context.Background(), task); err == nil {
		t.Fatal("expected an error for a schedule below the minimum interval")
	}
}

func TestCreateTaskCompensatesOnRegistrationFailure(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	rt.registerErr = errors.New("runtime unavailable")
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task := taskstore.Task{ID: uuid.New(), Name: "watch", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce}
	_, err := svc.CreateTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected an error from registration failure")
	}
	if _, getErr := store.GetTask(context.Background(), task.ID); getErr == nil {
		t.Fatal("expected the compensating delete to remove the task")
	}
}

func TestUpdateTaskReRegistersOnScheduleChange(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task, err := svc.CreateTask(context.Background(), taskstore.Task{Name: "watch", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	newSchedule := "*/10 * * * *"
	if _, err := svc.UpdateTask(context.Background(), task.ID, taskstore.TaskPatch{Schedule: &newSchedule}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !rt.registered[task.ID].Registered {
		t.Fatal("expected schedule to remain registered after re-registration")
	}
}

func TestUpdateTaskPausesOnIsActiveFalse(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task, err := svc.CreateTask(context.Background(), taskstore.Task{Name: "watch", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	inactive := false
	if _, err := svc.UpdateTask(context.Background(), task.ID, taskstore.TaskPatch{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if rt.pauseCalls != 1 {
		t.Fatalf("expected 1 pause call, got %d", rt.pauseCalls)
	}
}

func TestDeleteTaskUnregistersBeforeDeletingRow(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task, err := svc.CreateTask(context.Background(), taskstore.Task{Name: "watch", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := svc.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if rt.unregisterCalls != 1 {
		t.Fatalf("expected 1 unregister call, got %d", rt.unregisterCalls)
	}
	if _, err := store.GetTask(context.Background(), task.ID); err == nil {
		t.Fatal("expected task row to be deleted")
	}
}

func TestRunTaskDelegatesToRuntime(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	taskID := uuid.New()
	if _, err := svc.RunTask(context.Background(), taskID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if rt.runNowTaskID != taskID {
		t.Fatalf("expected RunNow delegated for task %s, got %s", taskID, rt.runNowTaskID)
	}
}

func TestReconcileRegistersMissingAndPausesInactive(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	registeredTask, err := svc.CreateTask(context.Background(), taskstore.Task{Name: "a", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Simulate a task row that exists in the store but was never registered
	// (e.g. the runtime restarted).
	orphanID := uuid.New()
	store.tasks[orphanID] = taskstore.Task{ID: orphanID, Name: "b", Schedule: "*/5 * * * *", SearchQuery: "q2", NotifyBehavior: taskstore.NotifyAlways, IsActive: true}

	// Mark the first task inactive in the store without telling the runtime.
	inactive := false
	store.tasks[registeredTask.ID] = func() taskstore.Task {
		tk := store.tasks[registeredTask.ID]
		tk.IsActive = inactive
		return tk
	}()

	r := NewReconciler(svc, time.Minute)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}

	if !rt.registered[orphanID].Registered {
		t.Fatal("expected the orphaned task to be registered by reconciliation")
	}
	if rt.pauseCalls != 1 {
		t.Fatalf("expected 1 pause call for the inactive task, got %d", rt.pauseCalls)
	}
}

func TestReconcileUnregistersOrphanedSchedule(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	svc := New(store, rt, noopRunFn, time.Minute, nil)

	task, err := svc.CreateTask(context.Background(), taskstore.Task{Name: "a", Schedule: "*/5 * * * *", SearchQuery: "q", NotifyBehavior: taskstore.NotifyOnce})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	r := NewReconciler(svc, time.Minute)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if rt.unregisterCalls != 1 {
		t.Fatalf("expected 1 unregister call for the deleted task's dangling schedule, got %d", rt.unregisterCalls)
	}
}
