package notifier

import (
	"errors"

	toraleerrors "torale/internal/shared/errors"
)

// ErrNotifierRejected is the sentinel wrapped when a channel permanently
// refuses a payload (bad recipient, malformed webhook URL). Fatal for the
// delivery attempt but never fails the surrounding workflow.
var ErrNotifierRejected = errors.New("notifier rejected payload")

// Unavailable wraps a transient channel failure (connection refused,
// upstream 5xx); retried by the workflow's delivery activity.
func Unavailable(cause error) error {
	return toraleerrors.NewTransientError(cause, "notification channel is temporarily unavailable")
}

// Rejected wraps a permanent channel failure.
func Rejected(cause error) error {
	return toraleerrors.NewPermanentError(errors.Join(ErrNotifierRejected, cause), "notification channel rejected the payload")
}

// IsRejected reports whether err is (or wraps) ErrNotifierRejected.
func IsRejected(err error) bool {
	return errors.Is(err, ErrNotifierRejected)
}
