package storefile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"torale/internal/taskstore"
)

func newTestTask() taskstore.Task {
	return taskstore.Task{
		UserID:               "user-1",
		Name:                 "iPhone watch",
		Schedule:             "*/1 * * * *",
		SearchQuery:          "Has Apple announced iPhone 17 release date?",
		ConditionDescription: "A specific release date is announced",
		NotifyBehavior:       taskstore.NotifyOnce,
		IsActive:             true,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	created, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := store.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Name, got.Name)
	require.Equal(t, created.ID, got.ID)
}

func TestGetTaskNotFound(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.GetTask(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestUpdateTaskPatchesAtomically(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	created, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	inactive := false
	updated, err := store.UpdateTask(ctx, created.ID, taskstore.TaskPatch{IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.Equal(t, created.Name, updated.Name) // untouched fields survive
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))
}

func TestDeleteTaskIsIdempotent(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	created, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	require.NoError(t, store.DeleteTask(ctx, created.ID))
	require.NoError(t, store.DeleteTask(ctx, created.ID)) // second delete: still no error

	_, err = store.GetTask(ctx, created.ID)
	require.Error(t, err)
}

func TestListTasksOrderedByCreatedAtDesc(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	first, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)
	second, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	list, err := store.ListTasks(ctx, taskstore.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	// second was created at the same or later timestamp; desc order means
	// it should not appear after first when timestamps differ.
	ids := map[uuid.UUID]bool{first.ID: true, second.ID: true}
	require.True(t, ids[list[0].ID])
	require.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
	if !first.CreatedAt.Equal(second.CreatedAt) {
		require.Equal(t, second.ID, list[0].ID)
	}
}

func TestRecordExecutionUpdatesLastKnownState(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	task, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	execID := uuid.New()
	state := json.RawMessage(`{"announced":true}`)
	err = store.RecordExecution(ctx, taskstore.ExecutionUpdate{
		Execution: taskstore.Execution{
			ID:     execID,
			TaskID: task.ID,
			Status: taskstore.ExecutionSuccess,
		},
		NewLastKnownState: state,
		HasNewState:       true,
	})
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecutionID)
	require.Equal(t, execID, *got.LastExecutionID)
	require.JSONEq(t, string(state), string(got.LastKnownState))

	exec, err := store.GetExecution(ctx, execID)
	require.NoError(t, err)
	require.Equal(t, taskstore.ExecutionSuccess, exec.Status)
}

func TestRecordExecutionWithoutStateLeavesTaskUntouched(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	task, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	err = store.RecordExecution(ctx, taskstore.ExecutionUpdate{
		Execution: taskstore.Execution{ID: uuid.New(), TaskID: task.ID, Status: taskstore.ExecutionFailed},
	})
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastExecutionID)
}

func TestRecordDeliveryIdempotent(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	execID := uuid.New()

	record := taskstore.DeliveryRecord{ExecutionID: execID, Channel: "email", Status: taskstore.DeliveryPending}
	require.NoError(t, store.RecordDelivery(ctx, record))

	require.NoError(t, store.UpdateDeliveryStatus(ctx, execID, "email", taskstore.DeliveryDelivered, nil))

	err := store.RecordDelivery(ctx, record)
	require.ErrorIs(t, err, taskstore.ErrAlreadyDelivered)
}

func TestListExecutionsOrderedAndLimited(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	task, err := store.CreateTask(ctx, newTestTask())
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.RecordExecution(ctx, taskstore.ExecutionUpdate{
			Execution: taskstore.Execution{ID: uuid.New(), TaskID: task.ID, Status: taskstore.ExecutionSuccess, StartedAt: base.Add(time.Duration(i) * time.Minute)},
		})
		require.NoError(t, err)
	}

	execs, err := store.ListExecutions(ctx, task.ID, 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	require.True(t, execs[0].StartedAt.Equal(base.Add(2*time.Minute)))
	require.True(t, execs[1].StartedAt.Equal(base.Add(time.Minute)))
}
