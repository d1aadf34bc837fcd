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

// CommandRename is the interactive command that renames a managed channel.
const CommandRename = "rename-channel"

// OptionName is the command's single string argument.
const OptionName = "name"

// Rename rejections, in the order the preconditions are checked.
var (
	ErrNotInVoice  = errors.New("voice: member is not connected to a voice channel")
	ErrNotManaged  = errors.New("voice: channel is not managed by this agent")
	ErrNotOwner    = errors.New("voice: member may not manage this channel")
	ErrInvalidName = errors.New("voice: invalid channel name")
)

// RenameResult is the outcome of a successful rename.
type RenameResult struct {
	ChannelID string
	OldName   string
	NewName   string
}

// Rename renames the managed channel member is connected to. Ownership is
// not stored: it is re-derived from the member's current permissions on the
// channel at call time.
func (m *Manager) Rename(ctx context.Context, guildID string, member bus.Member, newName string) (RenameResult, error) {
	channelID, ok, err := m.platform.MemberVoiceChannel(ctx, guildID, member.ID)
	if err != nil {
		return RenameResult{}, fmt.Errorf("resolve voice channel of %s: %w", member.ID, err)
	}
	if !ok {
		return RenameResult{}, ErrNotInVoice
	}
	if !m.registry.Contains(channelID) {
		return RenameResult{}, ErrNotManaged
	}
	canManage, err := m.platform.MemberCanManage(ctx, member.ID, channelID)
	if err != nil {
		return RenameResult{}, fmt.Errorf("check permissions on %s: %w", channelID, err)
	}
	if !canManage {
		return RenameResult{}, ErrNotOwner
	}

	newName = strings.TrimSpace(newName)
	if newName == "" || utf8.RuneCountInString(newName) > maxChannelName {
		return RenameResult{}, ErrInvalidName
	}

	ch, err := m.platform.Channel(ctx, channelID)
	if err != nil {
		return RenameResult{}, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	reason := fmt.Sprintf("%s requested a rename", member.Username)
	if err := m.platform.EditChannelName(ctx, channelID, newName, reason); err != nil {
		return RenameResult{}, fmt.Errorf("rename %s: %w", channelID, err)
	}

	res := RenameResult{ChannelID: channelID, OldName: ch.Name, NewName: newName}
	slog.Info("Managed channel renamed", "guild", guildID, "channel", channelID, "from", res.OldName, "to", res.NewName)
	m.reporter.ChannelRenamed(ctx, member, channelID, res.OldName, res.NewName)
	return res, nil
}

// HandleCommand is the bus handler for the rename command. Rejections are
// answered privately; a successful rename is confirmed publicly.
func (m *Manager) HandleCommand(ctx context.Context, ev *bus.Event) {
	cmd, ok := ev.Payload.(*bus.CommandInvoked)
	if !ok || cmd.Name != CommandRename {
		return
	}
	res, err := m.Rename(ctx, ev.GuildID, cmd.Member, cmd.Options[OptionName])
	reply := RenameReply(res, err)
	if err != nil && !isRejection(err) {
		slog.Error("Rename command failed", "guild", ev.GuildID, "member", cmd.Member.ID, "error", err)
	}
	if cmd.Reply == nil {
		return
	}
	if rerr := cmd.Reply(ctx, reply); rerr != nil {
		slog.Warn("Rename command reply failed", "guild", ev.GuildID, "member", cmd.Member.ID, "error", rerr)
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrNotInVoice) || errors.Is(err, ErrNotManaged) ||
		errors.Is(err, ErrNotOwner) || errors.Is(err, ErrInvalidName)
}

// RenameReply renders the command response for a rename outcome.
func RenameReply(res RenameResult, err error) bus.Reply {
	switch {
	case err == nil:
		return bus.Reply{Content: fmt.Sprintf("Channel renamed from '%s' to '%s'.", res.OldName, res.NewName)}
	case errors.Is(err, ErrNotInVoice):
		return bus.Reply{Content: "Join a voice channel first.", Ephemeral: true}
	case errors.Is(err, ErrNotManaged):
		return bus.Reply{Content: "This only works in voice channels created by the bot.", Ephemeral: true}
	case errors.Is(err, ErrNotOwner):
		return bus.Reply{Content: "You don't have permission to rename this channel. Only its owner can.", Ephemeral: true}
	case errors.Is(err, ErrInvalidName):
		return bus.Reply{Content: fmt.Sprintf("Channel names must be 1-%d characters.", maxChannelName), Ephemeral: true}
	case platform.IsPermissionDenied(err):
		return bus.Reply{Content: "Error: I don't have permission to rename this channel.", Ephemeral: true}
	default:
		return bus.Reply{Content: fmt.Sprintf("Something went wrong: %v", err), Ephemeral: true}
	}
}
