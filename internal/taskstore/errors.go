package taskstore

import (
	"errors"
	"fmt"

	toraleerrors "torale/internal/shared/errors"
)

// Sentinel-ish error constructors. Callers compare with errors.Is against
// the wrapped sentinel values below; the human message carries the id.

// ErrTaskNotFound is the sentinel wrapped by NotFoundTask.
var ErrTaskNotFound = fmt.Errorf("task not found")

// ErrExecutionNotFound is the sentinel wrapped by NotFoundExecution.
var ErrExecutionNotFound = fmt.Errorf("execution not found")

func NotFoundTask(id string) error {
	return toraleerrors.NewPermanentError(fmt.Errorf("%w: %s", ErrTaskNotFound, id), fmt.Sprintf("task not found: %s", id))
}

func NotFoundExecution(id string) error {
	return toraleerrors.NewPermanentError(fmt.Errorf("%w: %s", ErrExecutionNotFound, id), fmt.Sprintf("execution not found: %s", id))
}

// ErrAlreadyExists is returned by CreateTask on an id collision (practically
// unreachable with uuid.NewRandom ids, but enforced for contract clarity).
var ErrAlreadyExists = fmt.Errorf("task already exists")

func AlreadyExists(id string) error {
	return toraleerrors.NewPermanentError(fmt.Errorf("%w: %s", ErrAlreadyExists, id), fmt.Sprintf("task already exists: %s", id))
}

// ErrAlreadyDelivered is returned by RecordDelivery when a delivered record
// already exists for (execution_id, channel). Callers treat this as success.
var ErrAlreadyDelivered = fmt.Errorf("already delivered")

func AlreadyDelivered(executionID, channel string) error {
	return fmt.Errorf("%w: execution=%s channel=%s", ErrAlreadyDelivered, executionID, channel)
}

// StorageUnavailable wraps a transient storage-layer failure (connection
// drop, disk full, etc); retried by the workflow's activity-level retry.
func StorageUnavailable(cause error) error {
	return toraleerrors.NewTransientError(cause, "storage is temporarily unavailable")
}

// IsNotFound reports whether err wraps ErrTaskNotFound or ErrExecutionNotFound,
// letting adapters distinguish a missing row from a genuine storage failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrExecutionNotFound)
}

// IsAlreadyDelivered reports whether err wraps ErrAlreadyDelivered, letting
// the workflow's Deliver activity treat a retried tick's duplicate record
// as success.
func IsAlreadyDelivered(err error) bool {
	return errors.Is(err, ErrAlreadyDelivered)
}
