package notifier

import "context"

// CompositeNotifier hands each Deliver call to the one notifier registered
// for its channel name; a channel with no registered notifier is Rejected.
type CompositeNotifier struct {
	channels map[string]Notifier
}

// NewCompositeNotifier builds a composite that routes by channel name to
// the given concrete notifiers.
func NewCompositeNotifier(channels map[string]Notifier) *CompositeNotifier {
	return &CompositeNotifier{channels: channels}
}

func (c *CompositeNotifier) Deliver(ctx context.Context, channel string, payload Payload) (DeliveryResult, error) {
	target, ok := c.channels[channel]
	if !ok {
		return DeliveryResult{}, Rejected(errUnknownChannel(channel))
	}
	return target.Deliver(ctx, channel, payload)
}

type unknownChannelError string

func (e unknownChannelError) Error() string { return "no notifier registered for channel: " + string(e) }

func errUnknownChannel(channel string) error { return unknownChannelError(channel) }

var _ Notifier = (*CompositeNotifier)(nil)
