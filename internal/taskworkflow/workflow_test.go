package taskworkflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"torale/internal/clock"
	"torale/internal/executor"
	"torale/internal/groundedsearch"
	"torale/internal/notifier"
	"torale/internal/taskstore"
)

type mockStore struct {
	mu sync.Mutex

	task              taskstore.Task
	lastExecution     *taskstore.Execution
	recordedUpdate    *taskstore.ExecutionUpdate
	deliveryRecords   []taskstore.DeliveryRecord
	deliveryStatus    map[string]taskstore.DeliveryStatus
	alreadyDelivered  bool
	updatedPatches    []taskstore.TaskPatch
	getTaskErr        error
	recordExecErr     error
	recordDeliveryErr error
}

func newMockStore(task taskstore.Task) *mockStore {
	return &mockStore{task: task, deliveryStatus: make(map[string]taskstore.DeliveryStatus)}
}

func (m *mockStore) CreateTask(ctx context.Context, task taskstore.Task) (taskstore.Task, error) {
	return task, nil
}

func (m *mockStore) GetTask(ctx context.Context, id uuid.UUID) (taskstore.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getTaskErr != nil {
		return taskstore.Task{}, m.getTaskErr
	}
	return m.task, nil
}

func (m *mockStore) UpdateTask(ctx context.Context, id uuid.UUID, patch taskstore.TaskPatch) (taskstore.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedPatches = append(m.updatedPatches, patch)
	if patch.IsActive != nil {
		m.task.IsActive = *patch.IsActive
	}
	return m.task, nil
}

func (m *mockStore) DeleteTask(ctx context.Context, id uuid.UUID) error { return nil }

func (m *mockStore) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	return nil, nil
}

func (m *mockStore) RecordExecution(ctx context.Context, update taskstore.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordExecErr != nil {
		return m.recordExecErr
	}
	u := update
	m.recordedUpdate = &u
	if update.HasNewState {
		m.task.LastKnownState = update.NewLastKnownState
	}
	execID := update.Execution.ID
	m.task.LastExecutionID = &execID
	return nil
}

func (m *mockStore) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]taskstore.Execution, error) {
	return nil, nil
}

func (m *mockStore) GetExecution(ctx context.Context, id uuid.UUID) (taskstore.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastExecution == nil || m.lastExecution.ID != id {
		return taskstore.Execution{}, taskstore.NotFoundExecution(id.String())
	}
	return *m.lastExecution, nil
}

func (m *mockStore) RecordDelivery(ctx context.Context, record taskstore.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alreadyDelivered {
		return taskstore.AlreadyDelivered(record.ExecutionID.String(), record.Channel)
	}
	if m.recordDeliveryErr != nil {
		return m.recordDeliveryErr
	}
	m.deliveryRecords = append(m.deliveryRecords, record)
	return nil
}

func (m *mockStore) UpdateDeliveryStatus(ctx context.Context, executionID uuid.UUID, channel string, status taskstore.DeliveryStatus, providerMessageID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryStatus[executionID.String()+":"+channel] = status
	return nil
}

type mockSearch struct {
	searchResult groundedsearch.SearchResult
	evalResult   groundedsearch.EvaluationResult
}

func (m *mockSearch) Search(ctx context.Context, query string, cfg groundedsearch.Config) (groundedsearch.SearchResult, error) {
	return m.searchResult, nil
}

func (m *mockSearch) EvaluateCondition(ctx context.Context, answer, conditionDescription string, cfg groundedsearch.Config) (groundedsearch.EvaluationResult, error) {
	return m.evalResult, nil
}

func (m *mockSearch) CompareStates(ctx context.Context, previousState, currentState json.RawMessage, searchQuery string, cfg groundedsearch.Config) (groundedsearch.ComparisonResult, error) {
	return groundedsearch.ComparisonResult{Changed: true, ChangeSummary: "state changed"}, nil
}

func baseTask() taskstore.Task {
	return taskstore.Task{
		ID:             uuid.New(),
		Name:           "watch prices",
		SearchQuery:    "current price of widget",
		NotifyBehavior: taskstore.NotifyOnce,
		IsActive:       true,
	}
}

func newTestWorkflow(store *mockStore, search *mockSearch, notif notifier.Notifier) *Workflow {
	exec := executor.New(search, clock.Fixed(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)), executor.Config{}, nil)
	return New(store, exec, notif, nil, Timeouts{}, nil)
}

func TestWorkflowOnceBehaviorDeliversAndPauses(t *testing.T) {
	task := baseTask()
	store := newMockStore(task)
	search := &mockSearch{
		searchResult: groundedsearch.SearchResult{Answer: "price is $10", CurrentState: json.RawMessage(`{"price":10}`)},
		evalResult:   groundedsearch.EvaluationResult{ConditionMet: true, Evaluation: "met"},
	}
	notif := &notifier.NopNotifier{}
	wf := newTestWorkflow(store, search, notif)

	execID, err := wf.Run(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if execID == uuid.Nil {
		t.Fatal("expected a non-nil execution id")
	}

	if len(notif.Calls()) != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", len(notif.Calls()))
	}
	if store.task.IsActive {
		t.Fatal("expected task to be paused after a once-behavior delivery")
	}
}

func TestWorkflowAlwaysBehaviorDoesNotPause(t *testing.T) {
	task := baseTask()
	task.NotifyBehavior = taskstore.NotifyAlways
	store := newMockStore(task)
	search := &mockSearch{
		searchResult: groundedsearch.SearchResult{Answer: "price is $10"},
		evalResult:   groundedsearch.EvaluationResult{ConditionMet: true},
	}
	notif := &notifier.NopNotifier{}
	wf := newTestWorkflow(store, search, notif)

	if _, err := wf.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(notif.Calls()) != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", len(notif.Calls()))
	}
	if !store.task.IsActive {
		t.Fatal("expected task to remain active for always-behavior")
	}
}

func TestWorkflowConditionNotMetSkipsDelivery(t *testing.T) {
	task := baseTask()
	store := newMockStore(task)
	search := &mockSearch{
		searchResult: groundedsearch.SearchResult{Answer: "price is $10"},
		evalResult:   groundedsearch.EvaluationResult{ConditionMet: false},
	}
	notif := &notifier.NopNotifier{}
	wf := newTestWorkflow(store, search, notif)

	if _, err := wf.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(notif.Calls()) != 0 {
		t.Fatalf("expected 0 notifications when condition is not met, got %d", len(notif.Calls()))
	}
}

func TestWorkflowSuppressNotificationsStillComputesDecision(t *testing.T) {
	task := baseTask()
	store := newMockStore(task)
	search := &mockSearch{
		searchResult: groundedsearch.SearchResult{Answer: "price is $10"},
		evalResult:   groundedsearch.EvaluationResult{ConditionMet: true},
	}
	notif := &notifier.NopNotifier{}
	wf := newTestWorkflow(store, search, notif)

	if _, err := wf.RunWithOptions(context.Background(), task.ID, RunOptions{SuppressNotifications: true}); err != nil {
		t.Fatalf("RunWithOptions: %v", err)
	}

	if len(notif.Calls()) != 0 {
		t.Fatalf("expected delivery to be suppressed, got %d calls", len(notif.Calls()))
	}
	if store.task.IsActive {
		t.Fatal("expected pause decision to still apply even when delivery is suppressed")
	}
}

func TestWorkflowAlreadyDeliveredIsTreatedAsSuccess(t *testing.T) {
	task := baseTask()
	task.NotifyBehavior = taskstore.NotifyAlways
	store := newMockStore(task)
	store.alreadyDelivered = true
	search := &mockSearch{
		searchResult: groundedsearch.SearchResult{Answer: "price is $10"},
		evalResult:   groundedsearch.EvaluationResult{ConditionMet: true},
	}
	notif := &notifier.NopNotifier{}
	wf := newTestWorkflow(store, search, notif)

	if _, err := wf.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notif.Calls()) != 0 {
		t.Fatalf("expected Notifier.Deliver not to be called on AlreadyDelivered, got %d", len(notif.Calls()))
	}
}

func TestApplyNotifyBehaviorFailedExecutionNeverDelivers(t *testing.T) {
	task := baseTask()
	task.NotifyBehavior = taskstore.NotifyAlways
	execution := taskstore.Execution{Status: taskstore.ExecutionFailed, ConditionMet: true}

	decision := ApplyNotifyBehavior(task, execution)
	if decision.ShouldDeliver || decision.ShouldPause {
		t.Fatalf("expected no delivery or pause for a failed execution, got %+v", decision)
	}
}

func TestApplyNotifyBehaviorTrackStateRequiresNonEmptySummary(t *testing.T) {
	task := baseTask()
	task.NotifyBehavior = taskstore.NotifyTrackState
	empty := ""
	execution := taskstore.Execution{Status: taskstore.ExecutionSuccess, ChangeSummary: &empty}

	decision := ApplyNotifyBehavior(task, execution)
	if decision.ShouldDeliver {
		t.Fatal("expected no delivery for an empty change summary")
	}

	summary := "price changed"
	execution.ChangeSummary = &summary
	decision = ApplyNotifyBehavior(task, execution)
	if !decision.ShouldDeliver || decision.ShouldPause {
		t.Fatalf("expected delivery without pause for a non-empty change summary, got %+v", decision)
	}
}
