package bus

import (
	"context"
	"time"
)

// Kind identifies the type of an inbound platform event.
type Kind string

const (
	KindVoiceStateChanged Kind = "voice_state_changed"
	KindMemberJoined      Kind = "member_joined"
	KindMemberLeft        Kind = "member_left"
	KindInviteCreated     Kind = "invite_created"
	KindInviteDeleted     Kind = "invite_deleted"
	KindConnectionReady   Kind = "connection_ready"
	KindMessageEdited     Kind = "message_edited"
	KindMessageDeleted    Kind = "message_deleted"
	KindCommandInvoked    Kind = "command_invoked"
)

// Event is a platform occurrence delivered by the gateway.
// Payload holds one of the typed payloads below, matching Kind.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	GuildID   string    `json:"guild_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Member is the subset of a guild member the agent reasons about.
type Member struct {
	ID          string `json:"id"`
	GuildID     string `json:"guild_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bot         bool   `json:"bot"`
}

// Mention renders the platform mention markup for the member.
func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

// VoiceStateChanged reports a member moving between voice channels.
// An empty channel ID means "not connected".
type VoiceStateChanged struct {
	Member            Member `json:"member"`
	BeforeChannelID   string `json:"before_channel_id,omitempty"`
	BeforeChannelName string `json:"before_channel_name,omitempty"`
	AfterChannelID    string `json:"after_channel_id,omitempty"`
	AfterChannelName  string `json:"after_channel_name,omitempty"`
}

// Left reports whether the member vacated a channel.
func (v *VoiceStateChanged) Left() bool {
	return v.BeforeChannelID != "" && v.BeforeChannelID != v.AfterChannelID
}

// Entered reports whether the member connected to a different channel.
func (v *VoiceStateChanged) Entered() bool {
	return v.AfterChannelID != "" && v.AfterChannelID != v.BeforeChannelID
}

// MemberJoined reports a new guild member.
type MemberJoined struct {
	Member Member `json:"member"`
}

// MemberLeft reports a member leaving or being removed from the guild.
type MemberLeft struct {
	Member Member `json:"member"`
}

// InviteChanged is the payload of both invite-created and invite-deleted events.
type InviteChanged struct {
	Code      string `json:"code"`
	ChannelID string `json:"channel_id,omitempty"`
}

// ConnectionReady reports the guilds known when the gateway session is ready.
type ConnectionReady struct {
	GuildIDs []string `json:"guild_ids"`
}

// MessageEdited reports a content change. BeforeKnown is false when the
// previous content was not cached by the gateway.
type MessageEdited struct {
	ChannelID   string `json:"channel_id"`
	MessageID   string `json:"message_id"`
	Author      Member `json:"author"`
	Before      string `json:"before,omitempty"`
	BeforeKnown bool   `json:"before_known"`
	After       string `json:"after"`
}

// MessageDeleted reports a deleted message. Author is nil when the message
// was not cached.
type MessageDeleted struct {
	ChannelID string  `json:"channel_id"`
	MessageID string  `json:"message_id"`
	Author    *Member `json:"author,omitempty"`
	Content   string  `json:"content,omitempty"`
}

// Reply is a response to an interactive command.
type Reply struct {
	Content   string
	Ephemeral bool
}

// CommandInvoked reports an interactive command. Reply must be called at most once.
type CommandInvoked struct {
	Name    string
	Member  Member
	Options map[string]string
	Reply   func(ctx context.Context, r Reply) error
}

// Field is a titled value inside a notification.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notification is a human-facing audit message produced by the agent.
type Notification struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	GuildID     string    `json:"guild_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Fields      []Field   `json:"fields,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
