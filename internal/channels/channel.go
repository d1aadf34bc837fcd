package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/KafClaw/guildkeeper/internal/bus"
)

// sendTimeout bounds a single notification delivery.
const sendTimeout = 10 * time.Second

// Channel defines the interface for notification transports (Discord, Slack, Kafka).
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel and subscribes it to outbound notifications.
	Start(ctx context.Context) error
	// Stop stops the channel.
	Stop() error
	// Send delivers a single notification.
	Send(ctx context.Context, n *bus.Notification) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.EventBus
}

// subscribe delivers every outbound notification through c. Failures are
// logged; a notification is never retried.
func (b BaseChannel) subscribe(ctx context.Context, c Channel) {
	b.Bus.Subscribe(c.Name(), func(n *bus.Notification) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := c.Send(sendCtx, n); err != nil {
			slog.Warn("Notification delivery failed", "channel", c.Name(), "kind", n.Kind, "id", n.ID, "error", err)
		}
	})
}
