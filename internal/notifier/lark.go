package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"torale/internal/logging"
)

// LarkNotifier delivers notifications as Lark chat messages to the single
// chat id given to NewLarkNotifier; the payload's UserID does not select
// the chat.
type LarkNotifier struct {
	client *lark.Client
	chatID string
	logger logging.Logger
}

// NewLarkNotifier creates a LarkNotifier with the given app credentials,
// delivering to a fixed chat.
func NewLarkNotifier(appID, appSecret, chatID string, logger logging.Logger) *LarkNotifier {
	return &LarkNotifier{
		client: lark.NewClient(appID, appSecret),
		chatID: chatID,
		logger: logging.OrNop(logger),
	}
}

func (n *LarkNotifier) Deliver(ctx context.Context, channel string, payload Payload) (DeliveryResult, error) {
	if n.client == nil {
		return DeliveryResult{}, Rejected(fmt.Errorf("lark client not initialized"))
	}

	content := formatPayload(payload)
	title, body := splitTitleBody(content)
	text := title
	if body != title {
		text = title + "\n" + body
	}

	textJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return DeliveryResult{}, Rejected(fmt.Errorf("marshal lark content: %w", err))
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType("text").
			Content(string(textJSON)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		return DeliveryResult{}, Unavailable(fmt.Errorf("lark send: %w", err))
	}
	if !resp.Success() {
		return DeliveryResult{}, classifyLarkError(resp.Code, resp.Msg)
	}

	n.logger.Debug("notifier: sent lark message to %s", n.chatID)
	return DeliveryResult{}, nil
}

// classifyLarkError maps a Lark API error code to transient (server-side,
// throttling) or permanent (bad request, auth) per the same convention the
// rest of the port's ports use for HTTP-status classification.
func classifyLarkError(code int, msg string) error {
	cause := fmt.Errorf("lark send error: code=%d msg=%s", code, msg)
	if code >= 99991400 && code < 99991500 {
		// Auth/permission error range used by the Lark open platform.
		return Rejected(cause)
	}
	if code == 9499 || code == 11232 {
		// Rate-limited / too many requests.
		return Unavailable(cause)
	}
	return Rejected(cause)
}

// formatPayload renders a Payload as a short text message: the task name as
// a title line, followed by the answer and, when present, the change
// summary.
func formatPayload(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.TaskName)
	fmt.Fprintf(&b, "%s\n", p.Answer)
	if p.ChangeSummary != "" {
		fmt.Fprintf(&b, "Change: %s\n", p.ChangeSummary)
	}
	for _, s := range p.GroundingSources {
		fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.URI)
	}
	return strings.TrimSpace(b.String())
}

// splitTitleBody splits content into a title (first line) and body (rest).
// If the content is a single line, it is used as both title and body.
func splitTitleBody(content string) (string, string) {
	content = strings.TrimSpace(content)
	if idx := strings.IndexByte(content, '\n'); idx > 0 {
		title := strings.TrimSpace(content[:idx])
		body := strings.TrimSpace(content[idx+1:])
		if title != "" && body != "" {
			return title, body
		}
	}
	title := content
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return title, content
}

var _ Notifier = (*LarkNotifier)(nil)
