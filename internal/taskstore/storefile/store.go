// Package storefile is a single-process, file-backed Store implementation:
// one JSON document per task under <dir>/tasks, one per execution under
// <dir>/executions/<task_id>, one per delivery record under
// <dir>/deliveries. Grounded on the pack's atomic-write-to-JSON scheduler
// job store: every write goes through atomicWrite so a crash mid-write
// never corrupts a record; a process-wide RWMutex stands in for the
// transactional guarantee RecordExecution requires (there is only one
// process touching this directory).
package storefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"torale/internal/taskstore"
)

type Store struct {
	dir string
	mu  sync.RWMutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) taskPath(id uuid.UUID) string {
	return filepath.Join(s.dir, "tasks", id.String()+".json")
}

func (s *Store) executionPath(taskID, execID uuid.UUID) string {
	return filepath.Join(s.dir, "executions", taskID.String(), execID.String()+".json")
}

func (s *Store) deliveryPath(execID uuid.UUID, channel string) string {
	return filepath.Join(s.dir, "deliveries", fmt.Sprintf("%s__%s.json", execID.String(), channel))
}

func (s *Store) CreateTask(ctx context.Context, task taskstore.Task) (taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return taskstore.Task{}, fmt.Errorf("generating task id: %w", err)
		}
		task.ID = id
	}

	if _, err := os.Stat(s.taskPath(task.ID)); err == nil {
		return taskstore.Task{}, taskstore.AlreadyExists(task.ID.String())
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.writeTask(task); err != nil {
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	return task, nil
}

func (s *Store) writeTask(task taskstore.Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.taskPath(task.ID), data, 0o644)
}

func (s *Store) readTaskLocked(id uuid.UUID) (taskstore.Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return taskstore.Task{}, taskstore.NotFoundTask(id.String())
		}
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	var task taskstore.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return taskstore.Task{}, fmt.Errorf("corrupt task record %s: %w", id, err)
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (taskstore.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readTaskLocked(id)
}

func (s *Store) UpdateTask(ctx context.Context, id uuid.UUID, patch taskstore.TaskPatch) (taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.readTaskLocked(id)
	if err != nil {
		return taskstore.Task{}, err
	}

	if patch.Name != nil {
		task.Name = *patch.Name
	}
	if patch.Schedule != nil {
		task.Schedule = *patch.Schedule
	}
	if patch.SearchQuery != nil {
		task.SearchQuery = *patch.SearchQuery
	}
	if patch.ConditionDescription != nil {
		task.ConditionDescription = *patch.ConditionDescription
	}
	if patch.NotifyBehavior != nil {
		task.NotifyBehavior = *patch.NotifyBehavior
	}
	if patch.Config != nil {
		task.Config = patch.Config
	}
	if patch.IsActive != nil {
		task.IsActive = *patch.IsActive
	}
	task.UpdatedAt = time.Now().UTC()

	if err := s.writeTask(task); err != nil {
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	return task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.taskPath(id))
	if err != nil && !os.IsNotExist(err) {
		return taskstore.StorageUnavailable(err)
	}
	return nil // idempotent: missing file is not an error
}

func (s *Store) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.dir, "tasks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, taskstore.StorageUnavailable(err)
	}

	tasks := make([]taskstore.Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // skip a file that vanished between ReadDir and ReadFile
		}
		var task taskstore.Task
		if err := json.Unmarshal(data, &task); err != nil {
			continue // skip a corrupt record rather than fail the whole list
		}
		if filter.UserID != "" && task.UserID != filter.UserID {
			continue
		}
		if filter.IsActive != nil && task.IsActive != *filter.IsActive {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *Store) RecordExecution(ctx context.Context, update taskstore.ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec := update.Execution
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(s.executionPath(exec.TaskID, exec.ID), data, 0o644); err != nil {
		return taskstore.StorageUnavailable(err)
	}

	if !update.HasNewState {
		return nil
	}

	task, err := s.readTaskLocked(exec.TaskID)
	if err != nil {
		return err
	}
	task.LastExecutionID = &exec.ID
	task.LastKnownState = update.NewLastKnownState
	task.UpdatedAt = time.Now().UTC()
	if err := s.writeTask(task); err != nil {
		return taskstore.StorageUnavailable(err)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]taskstore.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.dir, "executions", taskID.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, taskstore.StorageUnavailable(err)
	}

	execs := make([]taskstore.Execution, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var exec taskstore.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			continue
		}
		execs = append(execs, exec)
	}

	sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (taskstore.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := filepath.Join(s.dir, "executions")
	taskDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return taskstore.Execution{}, taskstore.NotFoundExecution(id.String())
		}
		return taskstore.Execution{}, taskstore.StorageUnavailable(err)
	}
	for _, td := range taskDirs {
		path := filepath.Join(root, td.Name(), id.String()+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var exec taskstore.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			continue
		}
		return exec, nil
	}
	return taskstore.Execution{}, taskstore.NotFoundExecution(id.String())
}

func (s *Store) RecordDelivery(ctx context.Context, record taskstore.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.deliveryPath(record.ExecutionID, record.Channel)
	if existing, err := os.ReadFile(path); err == nil {
		var prior taskstore.DeliveryRecord
		if err := json.Unmarshal(existing, &prior); err == nil && prior.Status == taskstore.DeliveryDelivered {
			return taskstore.AlreadyDelivered(record.ExecutionID.String(), record.Channel)
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(path, data, 0o644); err != nil {
		return taskstore.StorageUnavailable(err)
	}
	return nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, executionID uuid.UUID, channel string, status taskstore.DeliveryStatus, providerMessageID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.deliveryPath(executionID, channel)
	data, err := os.ReadFile(path)
	if err != nil {
		return taskstore.StorageUnavailable(fmt.Errorf("no pending delivery record: %w", err))
	}
	var record taskstore.DeliveryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("corrupt delivery record: %w", err)
	}

	record.Status = status
	record.ProviderMessageID = providerMessageID
	if status == taskstore.DeliveryDelivered {
		now := time.Now().UTC()
		record.DeliveredAt = &now
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(path, out, 0o644); err != nil {
		return taskstore.StorageUnavailable(err)
	}
	return nil
}

var _ taskstore.Store = (*Store)(nil)
