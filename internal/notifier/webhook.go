package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier POSTs the payload as JSON to a configured URL. It is the
// default channel for operators who just want a webhook rather than a
// specific chat-ops integration.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Deliver(ctx context.Context, channel string, payload Payload) (DeliveryResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{}, Rejected(fmt.Errorf("marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{}, Rejected(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return DeliveryResult{}, Unavailable(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return DeliveryResult{}, Unavailable(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return DeliveryResult{}, Rejected(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, respBody))
	}

	return DeliveryResult{}, nil
}

var _ Notifier = (*WebhookNotifier)(nil)
