// Package notifier is the delivery-channel port: one Deliver call per
// (execution, channel), routed to the concrete notifier configured for
// that channel.
package notifier

import (
	"context"

	"torale/internal/taskstore"
)

// Payload is everything a channel needs to render a notification.
type Payload struct {
	ExecutionID      string
	TaskName         string
	UserID           string
	SearchQuery      string
	Answer           string
	ConditionMet     bool
	ChangeSummary    string
	GroundingSources []taskstore.GroundingSource
}

// DeliveryResult reports what happened on one Deliver call.
type DeliveryResult struct {
	ProviderMessageID string
}

// Notifier is the delivery port. A channel name ("email", "lark",
// "webhook") identifies which Notifier an implementation speaks for; the
// core only ever calls Deliver, never inspects the channel string itself.
type Notifier interface {
	Deliver(ctx context.Context, channel string, payload Payload) (DeliveryResult, error)
}
