// Package platform defines the chat-platform actions the agent invokes and
// the error taxonomy shared by every implementation.
package platform

import (
	"context"
	"errors"

	"github.com/KafClaw/guildkeeper/internal/bus"
)

var (
	// ErrNotFound means the target is already absent on the platform.
	ErrNotFound = errors.New("platform: not found")
	// ErrPermissionDenied means the platform rejected the action for missing permissions.
	ErrPermissionDenied = errors.New("platform: permission denied")
)

// ChannelKind classifies a guild channel.
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindText
	KindVoice
	KindCategory
)

func (k ChannelKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	case KindCategory:
		return "category"
	default:
		return "other"
	}
}

// Channel describes a guild channel.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Kind     ChannelKind
	ParentID string
}

// Permission is a bit set of channel permissions.
type Permission int64

const (
	PermManageChannels Permission = 1 << 4
	PermManageWebhooks Permission = 1 << 29
)

// Overwrite grants extra permissions to a single member on a channel.
type Overwrite struct {
	MemberID string
	Allow    Permission
}

// Invite is a guild invite and its cumulative use count.
type Invite struct {
	Code      string
	GuildID   string
	Uses      int
	InviterID string
	URL       string
}

// InviteURL returns the public link for an invite code.
func InviteURL(code string) string {
	return "https://discord.gg/" + code
}

// Platform is the set of request/response actions the agent invokes.
// Every call may block on a network round trip.
type Platform interface {
	CreateVoiceChannel(ctx context.Context, guildID, categoryID, name string, overwrites []Overwrite, reason string) (string, error)
	MoveMember(ctx context.Context, guildID, memberID, channelID string) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	EditChannelName(ctx context.Context, channelID, name, reason string) error
	ListInvites(ctx context.Context, guildID string) ([]Invite, error)
	FetchInvite(ctx context.Context, code string) (Invite, error)

	Channel(ctx context.Context, channelID string) (Channel, error)
	ChannelMemberCount(ctx context.Context, guildID, channelID string) (int, error)
	MemberVoiceChannel(ctx context.Context, guildID, memberID string) (string, bool, error)
	MemberCanManage(ctx context.Context, memberID, channelID string) (bool, error)
	GuildMemberCount(ctx context.Context, guildID string) (int, error)

	SendNotification(ctx context.Context, channelID string, n *bus.Notification) error
}

// IsNotFound reports whether err means the target is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPermissionDenied reports whether err is a platform permission rejection.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }
