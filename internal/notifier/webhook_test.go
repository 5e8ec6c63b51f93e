package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifierDeliversPayload(t *testing.T) {
	var gotPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	_, err := n.Deliver(context.Background(), "webhook", Payload{TaskName: "watch prices", Answer: "up 3%"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotPayload.TaskName != "watch prices" || gotPayload.Answer != "up 3%" {
		t.Fatalf("unexpected payload received: %+v", gotPayload)
	}
}

func TestWebhookNotifierClassifiesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	_, err := n.Deliver(context.Background(), "webhook", Payload{})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if IsRejected(err) {
		t.Fatal("a 5xx response should be transient, not permanently rejected")
	}
}

func TestWebhookNotifierClassifiesClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	_, err := n.Deliver(context.Background(), "webhook", Payload{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !IsRejected(err) {
		t.Fatal("a 4xx response should be permanently rejected")
	}
}

func TestWebhookNotifierTransportFailureIsUnavailable(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:0")
	_, err := n.Deliver(context.Background(), "webhook", Payload{})
	if err == nil {
		t.Fatal("expected error connecting to an unroutable address")
	}
	if IsRejected(err) {
		t.Fatal("a transport failure should be transient, not permanently rejected")
	}
}
