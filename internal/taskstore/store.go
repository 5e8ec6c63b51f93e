package taskstore

import (
	"context"

	"github.com/google/uuid"
)

// Store is the transactional persistence port consumed by the rest of the
// core (spec §4.2). Implementations: storefile (single-process, JSON on
// disk) and storesql (gorm + postgres, real transactions).
type Store interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// RecordExecution inserts an execution and, when update.HasNewState is
	// true, atomically updates the owning task's last_execution_id and
	// last_known_state in the same transaction.
	RecordExecution(ctx context.Context, update ExecutionUpdate) error

	ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]Execution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (Execution, error)

	// RecordDelivery inserts a DeliveryRecord. If a delivered record already
	// exists for (record.ExecutionID, record.Channel), it returns
	// ErrAlreadyDelivered and performs no write.
	RecordDelivery(ctx context.Context, record DeliveryRecord) error

	// UpdateDeliveryStatus resolves a previously-pending delivery record to
	// delivered or failed.
	UpdateDeliveryStatus(ctx context.Context, executionID uuid.UUID, channel string, status DeliveryStatus, providerMessageID *string) error
}
