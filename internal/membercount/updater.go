// Package membercount keeps a channel named after the guild's member count.
package membercount

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/platform"
	"github.com/KafClaw/guildkeeper/internal/scheduler"
)

// DefaultFormat renders the display name from the member count.
const DefaultFormat = "Members: %d"

// JobName is the scheduler job that refreshes the display periodically.
const JobName = "member-count"

// Platform is the subset of platform.Platform the updater needs.
type Platform interface {
	Channel(ctx context.Context, channelID string) (platform.Channel, error)
	GuildMemberCount(ctx context.Context, guildID string) (int, error)
	EditChannelName(ctx context.Context, channelID, name, reason string) error
}

// Updater renames the configured channel whenever the count it shows is stale.
type Updater struct {
	p         Platform
	channelID string
	format    string

	// Serializes read-compare-rename so concurrent joins never race a stale name in.
	mu sync.Mutex
}

// NewUpdater creates an updater for channelID. An empty format uses DefaultFormat.
func NewUpdater(p Platform, channelID, format string) *Updater {
	if format == "" {
		format = DefaultFormat
	}
	return &Updater{p: p, channelID: channelID, format: format}
}

// Name renders the display name for count.
func (u *Updater) Name(count int) string {
	return fmt.Sprintf(u.format, count)
}

// Update refreshes the display if guildID owns the configured channel.
// It reports whether the channel was renamed.
func (u *Updater) Update(ctx context.Context, guildID string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	ch, err := u.p.Channel(ctx, u.channelID)
	if err != nil {
		return false, fmt.Errorf("look up member count channel: %w", err)
	}
	if guildID != "" && ch.GuildID != guildID {
		return false, nil
	}

	count, err := u.p.GuildMemberCount(ctx, ch.GuildID)
	if err != nil {
		return false, fmt.Errorf("member count for guild %s: %w", ch.GuildID, err)
	}
	name := u.Name(count)
	if ch.Name == name {
		return false, nil
	}
	if err := u.p.EditChannelName(ctx, ch.ID, name, "member count changed"); err != nil {
		return false, fmt.Errorf("rename member count channel: %w", err)
	}
	slog.Info("Member count display updated", "guild", ch.GuildID, "channel", ch.ID, "count", count)
	return true, nil
}

// Refresh updates the display for whichever guild owns the channel.
func (u *Updater) Refresh(ctx context.Context) error {
	_, err := u.Update(ctx, "")
	return err
}

// Job returns the periodic refresh as a scheduler job.
func (u *Updater) Job(cron *scheduler.CronExpr) *scheduler.Job {
	return &scheduler.Job{
		Name:     JobName,
		Cron:     cron,
		Category: scheduler.CategoryGuild,
		Run:      u.Refresh,
	}
}

// HandleMembershipChange refreshes the display after a join or leave.
func (u *Updater) HandleMembershipChange(ctx context.Context, ev *bus.Event) {
	if _, err := u.Update(ctx, ev.GuildID); err != nil {
		logUpdateError(ev.GuildID, err)
	}
}

// HandleReady refreshes the display once the session is up.
func (u *Updater) HandleReady(ctx context.Context, ev *bus.Event) {
	if err := u.Refresh(ctx); err != nil {
		logUpdateError("", err)
	}
}

func logUpdateError(guildID string, err error) {
	switch {
	case platform.IsPermissionDenied(err):
		slog.Warn("Member count update denied: missing Manage Channels", "guild", guildID, "error", err)
	case platform.IsNotFound(err):
		slog.Warn("Member count channel not found", "guild", guildID, "error", err)
	default:
		slog.Error("Member count update failed", "guild", guildID, "error", err)
	}
}
