package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/config"
)

// SlackChannel mirrors audit notifications to a Slack incoming webhook.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
}

func NewSlackChannel(cfg config.SlackConfig, b *bus.EventBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: b},
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.subscribe(ctx, c)
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) Send(ctx context.Context, n *bus.Notification) error {
	url := strings.TrimSpace(c.config.WebhookURL)
	if url == "" {
		return nil
	}
	if err := slack.PostWebhookContext(ctx, url, c.webhookMessage(n)); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (c *SlackChannel) webhookMessage(n *bus.Notification) *slack.WebhookMessage {
	att := slack.Attachment{
		Color:    fmt.Sprintf("#%06x", n.Color),
		Title:    n.Title,
		Text:     toMrkdwn(n.Description),
		Fallback: n.Title,
		Footer:   n.Footer,
	}
	if !n.Timestamp.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(n.Timestamp.Unix(), 10))
	}
	for _, f := range n.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: f.Name,
			Value: toMrkdwn(f.Value),
			Short: f.Inline,
		})
	}
	return &slack.WebhookMessage{
		Username:    c.config.Username,
		Channel:     c.config.Channel,
		Text:        n.Title,
		Attachments: []slack.Attachment{att},
	}
}

var (
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)
)

// toMrkdwn rewrites the Discord markdown used in notifications into Slack mrkdwn.
func toMrkdwn(s string) string {
	s = boldPattern.ReplaceAllString(s, "*$1*")
	return linkPattern.ReplaceAllString(s, "<$2|$1>")
}
