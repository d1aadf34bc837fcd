package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/KafClaw/guildkeeper/internal/bus"
)

// Discord implements Platform on top of a discordgo session. Reads prefer the
// session state cache and fall back to REST.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an opened or unopened discordgo session.
func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func (d *Discord) CreateVoiceChannel(ctx context.Context, guildID, categoryID, name string, overwrites []Overwrite, reason string) (string, error) {
	perms := make([]*discordgo.PermissionOverwrite, 0, len(overwrites))
	for _, o := range overwrites {
		perms = append(perms, &discordgo.PermissionOverwrite{
			ID:    o.MemberID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: int64(o.Allow),
		})
	}
	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		ParentID:             categoryID,
		PermissionOverwrites: perms,
	}, requestOptions(ctx, reason)...)
	if err != nil {
		return "", classifyError(err)
	}
	return ch.ID, nil
}

func (d *Discord) MoveMember(ctx context.Context, guildID, memberID, channelID string) error {
	target := channelID
	if err := d.session.GuildMemberMove(guildID, memberID, &target, requestOptions(ctx, "")...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if _, err := d.session.ChannelDelete(channelID, requestOptions(ctx, reason)...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (d *Discord) EditChannelName(ctx context.Context, channelID, name, reason string) error {
	if _, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, requestOptions(ctx, reason)...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (d *Discord) ListInvites(ctx context.Context, guildID string) ([]Invite, error) {
	invites, err := d.session.GuildInvites(guildID, requestOptions(ctx, "")...)
	if err != nil {
		return nil, classifyError(err)
	}
	out := make([]Invite, 0, len(invites))
	for _, inv := range invites {
		out = append(out, convertInvite(guildID, inv))
	}
	return out, nil
}

func (d *Discord) FetchInvite(ctx context.Context, code string) (Invite, error) {
	inv, err := d.session.Invite(code, requestOptions(ctx, "")...)
	if err != nil {
		return Invite{}, classifyError(err)
	}
	guildID := ""
	if inv.Guild != nil {
		guildID = inv.Guild.ID
	}
	return convertInvite(guildID, inv), nil
}

func convertInvite(guildID string, inv *discordgo.Invite) Invite {
	out := Invite{
		Code:    inv.Code,
		GuildID: guildID,
		Uses:    inv.Uses,
		URL:     InviteURL(inv.Code),
	}
	if inv.Inviter != nil {
		out.InviterID = inv.Inviter.ID
	}
	return out
}

func (d *Discord) Channel(ctx context.Context, channelID string) (Channel, error) {
	ch, err := d.session.State.Channel(channelID)
	if err != nil {
		ch, err = d.session.Channel(channelID, requestOptions(ctx, "")...)
		if err != nil {
			return Channel{}, classifyError(err)
		}
	}
	return Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		Name:     ch.Name,
		Kind:     channelKind(ch.Type),
		ParentID: ch.ParentID,
	}, nil
}

func channelKind(t discordgo.ChannelType) ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildCategory:
		return KindCategory
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return KindVoice
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return KindText
	default:
		return KindOther
	}
}

// ChannelMemberCount counts connected members from the voice states tracked
// in the session state. Requires State.TrackVoice.
func (d *Discord) ChannelMemberCount(ctx context.Context, guildID, channelID string) (int, error) {
	g, err := d.session.State.Guild(guildID)
	if err != nil {
		return 0, classifyError(err)
	}
	d.session.State.RLock()
	defer d.session.State.RUnlock()

	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			n++
		}
	}
	return n, nil
}

func (d *Discord) MemberVoiceChannel(ctx context.Context, guildID, memberID string) (string, bool, error) {
	vs, err := d.session.State.VoiceState(guildID, memberID)
	if err != nil {
		if errors.Is(err, discordgo.ErrStateNotFound) {
			return "", false, nil
		}
		return "", false, classifyError(err)
	}
	if vs.ChannelID == "" {
		return "", false, nil
	}
	return vs.ChannelID, true, nil
}

func (d *Discord) MemberCanManage(ctx context.Context, memberID, channelID string) (bool, error) {
	perms, err := d.session.UserChannelPermissions(memberID, channelID, requestOptions(ctx, "")...)
	if err != nil {
		return false, classifyError(err)
	}
	return perms&discordgo.PermissionManageChannels != 0, nil
}

func (d *Discord) GuildMemberCount(ctx context.Context, guildID string) (int, error) {
	if g, err := d.session.State.Guild(guildID); err == nil && g.MemberCount > 0 {
		return g.MemberCount, nil
	}
	g, err := d.session.GuildWithCounts(guildID, requestOptions(ctx, "")...)
	if err != nil {
		return 0, classifyError(err)
	}
	return g.ApproximateMemberCount, nil
}

func (d *Discord) SendNotification(ctx context.Context, channelID string, n *bus.Notification) error {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
		Timestamp:   n.Timestamp.UTC().Format(time.RFC3339),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if n.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	if _, err := d.session.ChannelMessageSendEmbed(channelID, embed, requestOptions(ctx, "")...); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError maps discordgo failures onto the platform error taxonomy,
// keeping the original error in the chain.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownInvite,
			discordgo.ErrCodeUnknownMember:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return err
}
