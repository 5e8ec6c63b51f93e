package storesql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"torale/internal/taskstore"
)

type Store struct {
	db *gorm.DB
}

// Open connects to dsn and runs AutoMigrate for the three logical tables
// plus their required indices (spec §6).
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.AutoMigrate(&taskRow{}, &executionRow{}, &deliveryRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *gorm.DB without going through Open's DSN
// parsing or AutoMigrate.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection so LeaderLock's postgres advisory
// lock adapter can share it rather than opening a second pool.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) CreateTask(ctx context.Context, task taskstore.Task) (taskstore.Task, error) {
	if task.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return taskstore.Task{}, fmt.Errorf("generating task id: %w", err)
		}
		task.ID = id
	}

	row, err := toTaskRow(task)
	if err != nil {
		return taskstore.Task{}, err
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return taskstore.Task{}, taskstore.AlreadyExists(task.ID.String())
		}
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	return fromTaskRow(row)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (taskstore.Task, error) {
	var row taskRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return taskstore.Task{}, taskstore.NotFoundTask(id.String())
	}
	if err != nil {
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	return fromTaskRow(row)
}

func (s *Store) UpdateTask(ctx context.Context, id uuid.UUID, patch taskstore.TaskPatch) (taskstore.Task, error) {
	var result taskstore.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return taskstore.NotFoundTask(id.String())
			}
			return err
		}

		if patch.Name != nil {
			row.Name = *patch.Name
		}
		if patch.Schedule != nil {
			row.Schedule = *patch.Schedule
		}
		if patch.SearchQuery != nil {
			row.SearchQuery = *patch.SearchQuery
		}
		if patch.ConditionDescription != nil {
			row.ConditionDescription = *patch.ConditionDescription
		}
		if patch.NotifyBehavior != nil {
			row.NotifyBehavior = string(*patch.NotifyBehavior)
		}
		if patch.Config != nil {
			task, err := fromTaskRow(row)
			if err != nil {
				return err
			}
			task.Config = patch.Config
			updated, err := toTaskRow(task)
			if err != nil {
				return err
			}
			row.Config = updated.Config
		}
		if patch.IsActive != nil {
			row.IsActive = *patch.IsActive
		}

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		var convErr error
		result, convErr = fromTaskRow(row)
		return convErr
	})
	if err != nil {
		if taskstore.IsNotFound(err) {
			return taskstore.Task{}, err
		}
		return taskstore.Task{}, taskstore.StorageUnavailable(err)
	}
	return result, nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Delete(&taskRow{}, "id = ?", id).Error
	if err != nil {
		return taskstore.StorageUnavailable(err)
	}
	return nil // Delete on a missing row is not an error: idempotent by contract
}

func (s *Store) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, taskstore.StorageUnavailable(err)
	}

	tasks := make([]taskstore.Task, 0, len(rows))
	for _, r := range rows {
		t, err := fromTaskRow(r)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Store) RecordExecution(ctx context.Context, update taskstore.ExecutionUpdate) error {
	row, err := toExecutionRow(update.Execution)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if !update.HasNewState {
			return nil
		}
		return tx.Model(&taskRow{}).Where("id = ?", update.Execution.TaskID).Updates(map[string]interface{}{
			"last_execution_id": update.Execution.ID,
			"last_known_state":  []byte(update.NewLastKnownState),
		}).Error
	})
}

func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]taskstore.Execution, error) {
	q := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []executionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, taskstore.StorageUnavailable(err)
	}
	execs := make([]taskstore.Execution, 0, len(rows))
	for _, r := range rows {
		e, err := fromExecutionRow(r)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (taskstore.Execution, error) {
	var row executionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return taskstore.Execution{}, taskstore.NotFoundExecution(id.String())
	}
	if err != nil {
		return taskstore.Execution{}, taskstore.StorageUnavailable(err)
	}
	return fromExecutionRow(row)
}

func (s *Store) RecordDelivery(ctx context.Context, record taskstore.DeliveryRecord) error {
	row := deliveryRow{
		ExecutionID:       record.ExecutionID,
		Channel:           record.Channel,
		Status:            string(record.Status),
		DeliveredAt:       record.DeliveredAt,
		ProviderMessageID: record.ProviderMessageID,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return taskstore.AlreadyDelivered(record.ExecutionID.String(), record.Channel)
		}
		return taskstore.StorageUnavailable(err)
	}
	return nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, executionID uuid.UUID, channel string, status taskstore.DeliveryStatus, providerMessageID *string) error {
	updates := map[string]interface{}{"status": string(status), "provider_message_id": providerMessageID}
	err := s.db.WithContext(ctx).Model(&deliveryRow{}).
		Where("execution_id = ? AND channel = ?", executionID, channel).
		Updates(updates).Error
	if err != nil {
		return taskstore.StorageUnavailable(err)
	}
	return nil
}

var _ taskstore.Store = (*Store)(nil)
