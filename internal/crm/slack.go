package crm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// SlackNotifier posts notify_sales entries to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	HTTPClient *http.Client
}

// NewSlackNotifier creates a notifier for an incoming webhook URL.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) Send(ctx context.Context, e protocol.OutboxEntry) error {
	text, _ := e.Payload["text"].(string)
	if text == "" {
		phone, _ := e.Payload["lead_phone"].(string)
		text = "Qualified lead " + phone
	}
	msg := &slack.WebhookMessage{
		Channel: n.Channel,
		Text:    text,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.PlainTextType, "call "+e.CallID, false, false)),
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, n.HTTPClient, msg); err != nil {
		return fmt.Errorf("crm: slack %s: %w", e.IdempotencyKey, err)
	}
	return nil
}
