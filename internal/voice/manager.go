package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/platform"
)

// ErrCategoryMisconfigured means the target category is missing, belongs to
// another guild, or is not a category. No platform mutation happens.
var ErrCategoryMisconfigured = errors.New("voice: target category misconfigured")

// DefaultNameFormat names a created channel after its owner's display name.
const DefaultNameFormat = "%s's channel"

// maxChannelName is the platform's channel name limit, in characters.
const maxChannelName = 100

// Config selects the trigger channel and the category new channels go to.
type Config struct {
	TriggerChannelID string
	CategoryID       string
	NameFormat       string
}

// Reporter receives lifecycle outcomes for observability.
type Reporter interface {
	ChannelCreated(ctx context.Context, owner bus.Member, channelID, name string)
	ChannelDeleted(ctx context.Context, guildID, channelID, name string)
	ChannelRenamed(ctx context.Context, by bus.Member, channelID, oldName, newName string)
	ActionFailed(ctx context.Context, guildID, action string, err error)
}

type nopReporter struct{}

func (nopReporter) ChannelCreated(context.Context, bus.Member, string, string)         {}
func (nopReporter) ChannelDeleted(context.Context, string, string, string)             {}
func (nopReporter) ChannelRenamed(context.Context, bus.Member, string, string, string) {}
func (nopReporter) ActionFailed(context.Context, string, string, error)                {}

// Manager drives creation, teardown and rename of managed voice channels.
type Manager struct {
	cfg      Config
	platform platform.Platform
	registry *Registry
	reporter Reporter
}

// NewManager creates a lifecycle manager. Reporter may be nil.
func NewManager(cfg Config, p platform.Platform, reg *Registry, rep Reporter) *Manager {
	if strings.TrimSpace(cfg.NameFormat) == "" || !strings.Contains(cfg.NameFormat, "%s") {
		cfg.NameFormat = DefaultNameFormat
	}
	if rep == nil {
		rep = nopReporter{}
	}
	return &Manager{cfg: cfg, platform: p, registry: reg, reporter: rep}
}

// Registry returns the managed-channel registry.
func (m *Manager) Registry() *Registry { return m.registry }

// HandleVoiceState is the bus handler for voice-state changes. A member
// leaving any channel triggers a cleanup check of the vacated channel; a
// non-bot member entering the trigger channel gets a new channel.
func (m *Manager) HandleVoiceState(ctx context.Context, ev *bus.Event) {
	v, ok := ev.Payload.(*bus.VoiceStateChanged)
	if !ok {
		return
	}
	if v.Left() {
		if _, err := m.CheckEmpty(ctx, ev.GuildID, v.BeforeChannelID, v.BeforeChannelName); err != nil {
			slog.Warn("Managed channel cleanup failed",
				"guild", ev.GuildID, "channel", v.BeforeChannelID, "error", err)
		}
	}
	if v.Entered() && v.AfterChannelID == m.cfg.TriggerChannelID && !v.Member.Bot {
		if _, err := m.Create(ctx, ev.GuildID, v.Member); err != nil {
			slog.Error("Managed channel creation failed",
				"guild", ev.GuildID, "member", v.Member.ID, "error", err)
			m.reporter.ActionFailed(ctx, ev.GuildID, "create voice channel", err)
		}
	}
}

// Create makes a voice channel for member under the configured category,
// grants them management rights on it, registers it and moves them in.
// The returned ID is non-empty whenever the channel exists, even if the move
// failed; in that case the channel stays registered and the error is returned.
func (m *Manager) Create(ctx context.Context, guildID string, member bus.Member) (string, error) {
	cat, err := m.platform.Channel(ctx, m.cfg.CategoryID)
	switch {
	case err != nil && !platform.IsNotFound(err):
		return "", fmt.Errorf("resolve category %s: %w", m.cfg.CategoryID, err)
	case err != nil:
		return "", fmt.Errorf("%w: category %s not found", ErrCategoryMisconfigured, m.cfg.CategoryID)
	case cat.Kind != platform.KindCategory:
		return "", fmt.Errorf("%w: %s is a %s channel", ErrCategoryMisconfigured, cat.ID, cat.Kind)
	case cat.GuildID != "" && cat.GuildID != guildID:
		return "", fmt.Errorf("%w: category %s belongs to guild %s", ErrCategoryMisconfigured, cat.ID, cat.GuildID)
	}

	name := ChannelName(m.cfg.NameFormat, member)
	overwrites := []platform.Overwrite{{
		MemberID: member.ID,
		Allow:    platform.PermManageChannels | platform.PermManageWebhooks,
	}}
	reason := fmt.Sprintf("%s requested an auto voice channel", member.Username)
	channelID, err := m.platform.CreateVoiceChannel(ctx, guildID, cat.ID, name, overwrites, reason)
	if err != nil {
		return "", fmt.Errorf("create voice channel: %w", err)
	}
	m.registry.Add(channelID)
	slog.Info("Managed channel created", "guild", guildID, "channel", channelID, "name", name, "owner", member.ID)

	moveErr := m.platform.MoveMember(ctx, guildID, member.ID, channelID)
	m.reporter.ChannelCreated(ctx, member, channelID, name)
	if moveErr != nil {
		return channelID, fmt.Errorf("move member %s into %s: %w", member.ID, channelID, moveErr)
	}
	return channelID, nil
}

// CheckEmpty deletes a managed channel once nobody is connected to it.
// Unmanaged channels are ignored. A channel already gone counts as deleted.
// On permission or other failures the registry entry is kept so a later
// empty-check can retry.
func (m *Manager) CheckEmpty(ctx context.Context, guildID, channelID, name string) (bool, error) {
	if !m.registry.Contains(channelID) {
		return false, nil
	}
	n, err := m.platform.ChannelMemberCount(ctx, guildID, channelID)
	if err != nil {
		err = fmt.Errorf("count members of %s: %w", channelID, err)
		m.reporter.ActionFailed(ctx, guildID, "check voice channel", err)
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	err = m.platform.DeleteChannel(ctx, channelID, "auto voice channel: everyone left")
	switch {
	case err == nil:
		m.registry.Remove(channelID)
		slog.Info("Managed channel deleted", "guild", guildID, "channel", channelID, "name", name)
		m.reporter.ChannelDeleted(ctx, guildID, channelID, name)
		return true, nil
	case platform.IsNotFound(err):
		m.registry.Remove(channelID)
		slog.Debug("Managed channel already gone", "guild", guildID, "channel", channelID)
		return true, nil
	default:
		m.reporter.ActionFailed(ctx, guildID, "delete voice channel", err)
		return false, fmt.Errorf("delete %s: %w", channelID, err)
	}
}

// ChannelName renders the channel name for member, falling back to the
// username when no display name is set. The result fits the platform limit.
func ChannelName(format string, member bus.Member) string {
	display := strings.TrimSpace(member.DisplayName)
	if display == "" {
		display = member.Username
	}
	return truncateRunes(fmt.Sprintf(format, display), maxChannelName)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
