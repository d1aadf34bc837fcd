// Package audit turns agent outcomes and guild activity into human-facing
// notifications, records them in the timeline and publishes them for delivery.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/invites"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

// Notification kinds.
const (
	KindVoiceCreated   = "voice_created"
	KindVoiceDeleted   = "voice_deleted"
	KindVoiceRenamed   = "voice_renamed"
	KindActionFailed   = "action_failed"
	KindMemberJoined   = "member_joined"
	KindVoiceJoin      = "voice_join"
	KindVoiceLeave     = "voice_leave"
	KindVoiceMove      = "voice_move"
	KindMessageEdited  = "message_edited"
	KindMessageDeleted = "message_deleted"
)

// Embed colors.
const (
	ColorRed      = 0xE74C3C
	ColorOrange   = 0xE67E22
	ColorGreen    = 0x2ECC71
	ColorBlue     = 0x3498DB
	ColorDarkGrey = 0x607D8B
	ColorPurple   = 0x9B59B6
)

// maxFieldValue keeps field values under the platform's embed field limit.
const maxFieldValue = 1000

// Publisher queues notifications for delivery.
type Publisher interface {
	PublishOutbound(ctx context.Context, n *bus.Notification) bool
}

// Recorder persists notifications.
type Recorder interface {
	Record(e *timeline.Entry) error
}

// Sink is the agent's notification sink. Recorder may be nil.
type Sink struct {
	pub Publisher
	rec Recorder
}

// NewSink creates a sink publishing to pub and recording to rec.
func NewSink(pub Publisher, rec Recorder) *Sink {
	return &Sink{pub: pub, rec: rec}
}

// Emit records and publishes a notification.
func (s *Sink) Emit(ctx context.Context, n *bus.Notification) {
	if s.rec != nil {
		meta, _ := json.Marshal(n.Fields)
		entry := &timeline.Entry{
			EventID:   n.ID,
			Kind:      n.Kind,
			GuildID:   n.GuildID,
			Title:     n.Title,
			Body:      n.Description,
			Metadata:  string(meta),
			CreatedAt: n.Timestamp,
		}
		if err := s.rec.Record(entry); err != nil {
			slog.Warn("Audit record failed", "kind", n.Kind, "error", err)
		}
		// Keep the recorded ID so every delivery channel sees the same one.
		n.ID = entry.EventID
		n.Timestamp = entry.CreatedAt
	}
	s.pub.PublishOutbound(ctx, n)
}

func userFooter(id string) string {
	return "User ID: " + id
}

func channelMention(id string) string {
	return "<#" + id + ">"
}

func (s *Sink) ChannelCreated(ctx context.Context, owner bus.Member, channelID, name string) {
	s.Emit(ctx, &bus.Notification{
		Kind:        KindVoiceCreated,
		GuildID:     owner.GuildID,
		Title:       "Voice channel created",
		Description: fmt.Sprintf("Created **%s** (%s) for %s.", name, channelMention(channelID), owner.Mention()),
		Color:       ColorGreen,
		Footer:      userFooter(owner.ID),
	})
}

func (s *Sink) ChannelDeleted(ctx context.Context, guildID, channelID, name string) {
	desc := fmt.Sprintf("Deleted empty channel `%s`.", channelID)
	if name != "" {
		desc = fmt.Sprintf("Deleted empty channel **%s** (`%s`).", name, channelID)
	}
	s.Emit(ctx, &bus.Notification{
		Kind:        KindVoiceDeleted,
		GuildID:     guildID,
		Title:       "Voice channel deleted",
		Description: desc,
		Color:       ColorDarkGrey,
	})
}

func (s *Sink) ChannelRenamed(ctx context.Context, by bus.Member, channelID, oldName, newName string) {
	s.Emit(ctx, &bus.Notification{
		Kind:        KindVoiceRenamed,
		GuildID:     by.GuildID,
		Title:       "Voice channel renamed",
		Description: fmt.Sprintf("%s renamed %s.", by.Mention(), channelMention(channelID)),
		Color:       ColorBlue,
		Fields: []bus.Field{
			{Name: "Before", Value: oldName, Inline: true},
			{Name: "After", Value: newName, Inline: true},
		},
		Footer: userFooter(by.ID),
	})
}

func (s *Sink) ActionFailed(ctx context.Context, guildID, action string, err error) {
	s.Emit(ctx, &bus.Notification{
		Kind:        KindActionFailed,
		GuildID:     guildID,
		Title:       "Action failed",
		Description: fmt.Sprintf("Could not %s.", action),
		Color:       ColorRed,
		Fields:      []bus.Field{{Name: "Error", Value: codeBlock(err.Error())}},
	})
}

// MemberJoined reports a join with its invite attribution.
func (s *Sink) MemberJoined(ctx context.Context, member bus.Member, res invites.Result) {
	n := &bus.Notification{
		Kind:        KindMemberJoined,
		GuildID:     member.GuildID,
		Title:       "Member joined",
		Description: fmt.Sprintf("%s joined the server.", member.Mention()),
		Color:       ColorPurple,
		Footer:      userFooter(member.ID),
	}
	if res.Attributed {
		inviter := "unknown"
		if res.InviterID != "" {
			inviter = "<@" + res.InviterID + ">"
		}
		n.Fields = []bus.Field{
			{Name: "Invite", Value: "`" + res.Code + "`", Inline: true},
			{Name: "Invited by", Value: inviter, Inline: true},
			{Name: "Link", Value: res.URL},
		}
	} else {
		n.Fields = []bus.Field{{Name: "Invite", Value: unknownInvite(res.Reason)}}
	}
	s.Emit(ctx, n)
}

func unknownInvite(r invites.Reason) string {
	switch r {
	case invites.ReasonPermissionDenied:
		return "Unknown (missing permission to read invites)"
	case invites.ReasonNoCountIncrease:
		return "Unknown (no invite use count increased)"
	default:
		return "Unknown (invite list unavailable)"
	}
}

func codeBlock(s string) string {
	return "```" + truncate(strings.ReplaceAll(s, "```", "'''"), maxFieldValue) + "```"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
