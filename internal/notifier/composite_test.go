package notifier

import (
	"context"
	"testing"
)

func TestCompositeNotifierRoutesByChannel(t *testing.T) {
	webhook := &NopNotifier{}
	lark := &NopNotifier{}
	composite := NewCompositeNotifier(map[string]Notifier{
		"webhook": webhook,
		"lark":    lark,
	})

	_, err := composite.Deliver(context.Background(), "lark", Payload{TaskName: "t1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(lark.Calls()) != 1 {
		t.Fatalf("expected lark notifier to receive 1 call, got %d", len(lark.Calls()))
	}
	if len(webhook.Calls()) != 0 {
		t.Fatalf("expected webhook notifier to receive 0 calls, got %d", len(webhook.Calls()))
	}
}

func TestCompositeNotifierRejectsUnknownChannel(t *testing.T) {
	composite := NewCompositeNotifier(map[string]Notifier{"webhook": &NopNotifier{}})

	_, err := composite.Deliver(context.Background(), "sms", Payload{})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if !IsRejected(err) {
		t.Fatalf("expected a rejected error, got %v", err)
	}
}
