package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/platform"
	"github.com/KafClaw/guildkeeper/internal/voice"
)

// Intents the agent needs: guild structure, member joins, voice states,
// invites, and message content for the edit/delete audit.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildInvites |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

// messageCacheSize is the per-channel message cache used to recover edited
// and deleted message content.
const messageCacheSize = 200

// DiscordChannel owns the gateway session. It publishes gateway events as
// inbound bus events and delivers notifications as embeds to the audit channel.
type DiscordChannel struct {
	BaseChannel
	cfg            config.DiscordConfig
	auditChannelID string
	session        *discordgo.Session
	platform       *platform.Discord

	mu     sync.Mutex
	guilds map[string]bool
	remove []func()
}

// NewDiscordChannel creates an unopened session for the configured bot token.
func NewDiscordChannel(cfg config.DiscordConfig, auditChannelID string, b *bus.EventBus) (*DiscordChannel, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.State.TrackVoice = true
	s.State.TrackMembers = true
	s.State.MaxMessageCount = messageCacheSize
	if cfg.RequestTimeout > 0 {
		s.Client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &DiscordChannel{
		BaseChannel:    BaseChannel{Bus: b},
		cfg:            cfg,
		auditChannelID: auditChannelID,
		session:        s,
		platform:       platform.NewDiscord(s),
		guilds:         make(map[string]bool),
	}, nil
}

func (c *DiscordChannel) Name() string { return "discord" }

// Platform returns the REST/state adapter backed by this session.
func (c *DiscordChannel) Platform() *platform.Discord { return c.platform }

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.remove = append(c.remove,
		c.session.AddHandler(c.onReady),
		c.session.AddHandler(c.onGuildCreate),
		c.session.AddHandler(c.onVoiceStateUpdate),
		c.session.AddHandler(c.onGuildMemberAdd),
		c.session.AddHandler(c.onGuildMemberRemove),
		c.session.AddHandler(c.onInviteCreate),
		c.session.AddHandler(c.onInviteDelete),
		c.session.AddHandler(c.onMessageUpdate),
		c.session.AddHandler(c.onMessageDelete),
		c.session.AddHandler(c.onInteractionCreate),
	)
	c.mu.Unlock()

	if c.auditChannelID != "" {
		c.subscribe(ctx, c)
	}
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	slog.Info("Discord gateway connected")
	return nil
}

func (c *DiscordChannel) Stop() error {
	c.mu.Lock()
	for _, rm := range c.remove {
		rm()
	}
	c.remove = nil
	c.mu.Unlock()
	return c.session.Close()
}

// Send posts the notification as an embed in the audit channel.
func (c *DiscordChannel) Send(ctx context.Context, n *bus.Notification) error {
	return c.platform.SendNotification(ctx, c.auditChannelID, n)
}

func (c *DiscordChannel) onReady(s *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	c.mu.Lock()
	for _, g := range r.Guilds {
		c.guilds[g.ID] = true
		ids = append(ids, g.ID)
	}
	c.mu.Unlock()

	slog.Info("Discord session ready", "user", r.User.Username, "guilds", len(ids))
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindConnectionReady, Payload: &bus.ConnectionReady{GuildIDs: ids}})
	for _, id := range ids {
		c.registerCommands(s, id)
	}
}

// onGuildCreate handles guilds joined after the session became ready.
func (c *DiscordChannel) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	c.mu.Lock()
	known := c.guilds[g.ID]
	c.guilds[g.ID] = true
	c.mu.Unlock()
	if known {
		return
	}
	slog.Info("Joined guild", "guild", g.ID, "name", g.Name)
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindConnectionReady, GuildID: g.ID, Payload: &bus.ConnectionReady{GuildIDs: []string{g.ID}}})
	c.registerCommands(s, g.ID)
}

func (c *DiscordChannel) registerCommands(s *discordgo.Session, guildID string) {
	if !c.cfg.RegisterCommands || s.State.User == nil {
		return
	}
	if _, err := s.ApplicationCommandCreate(s.State.User.ID, guildID, RenameCommand()); err != nil {
		slog.Warn("Command registration failed", "guild", guildID, "command", voice.CommandRename, "error", err)
	}
}

// RenameCommand describes the /rename-channel slash command.
func RenameCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        voice.CommandRename,
		Description: "Rename the voice channel you own",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        voice.OptionName,
			Description: "New channel name",
			Required:    true,
			MaxLength:   100,
		}},
	}
}

func (c *DiscordChannel) channelName(id string) string {
	if id == "" {
		return ""
	}
	if ch, err := c.session.State.Channel(id); err == nil {
		return ch.Name
	}
	return ""
}

func (c *DiscordChannel) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if ev := voiceEvent(v, c.channelName); ev != nil {
		c.Bus.PublishInbound(ev)
	}
}

func (c *DiscordChannel) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	member := memberFromDiscord(m.GuildID, m.Member, nil)
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindMemberJoined, GuildID: m.GuildID, Payload: &bus.MemberJoined{Member: member}})
}

func (c *DiscordChannel) onGuildMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	member := memberFromDiscord(m.GuildID, m.Member, nil)
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindMemberLeft, GuildID: m.GuildID, Payload: &bus.MemberLeft{Member: member}})
}

func (c *DiscordChannel) onInviteCreate(_ *discordgo.Session, i *discordgo.InviteCreate) {
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindInviteCreated, GuildID: i.GuildID, Payload: &bus.InviteChanged{Code: i.Code, ChannelID: i.ChannelID}})
}

func (c *DiscordChannel) onInviteDelete(_ *discordgo.Session, i *discordgo.InviteDelete) {
	c.Bus.PublishInbound(&bus.Event{Kind: bus.KindInviteDeleted, GuildID: i.GuildID, Payload: &bus.InviteChanged{Code: i.Code, ChannelID: i.ChannelID}})
}

func (c *DiscordChannel) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if ev := messageEditedEvent(m); ev != nil {
		c.Bus.PublishInbound(ev)
	}
}

func (c *DiscordChannel) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if ev := messageDeletedEvent(m); ev != nil {
		c.Bus.PublishInbound(ev)
	}
}

func (c *DiscordChannel) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ev := commandEvent(i, func(rctx context.Context, r bus.Reply) error {
		return s.InteractionRespond(i.Interaction, interactionReply(r), discordgo.WithContext(rctx))
	})
	if ev != nil {
		c.Bus.PublishInbound(ev)
	}
}

// memberFromDiscord converts a guild member; u is used when m carries no user.
func memberFromDiscord(guildID string, m *discordgo.Member, u *discordgo.User) bus.Member {
	if m != nil && m.User != nil {
		u = m.User
	}
	out := bus.Member{GuildID: guildID}
	if u != nil {
		out.ID = u.ID
		out.Username = u.Username
		out.Bot = u.Bot
		out.DisplayName = u.GlobalName
	}
	if m != nil && m.Nick != "" {
		out.DisplayName = m.Nick
	}
	if out.DisplayName == "" {
		out.DisplayName = out.Username
	}
	return out
}

func voiceEvent(v *discordgo.VoiceStateUpdate, names func(string) string) *bus.Event {
	if v.VoiceState == nil || v.GuildID == "" {
		return nil
	}
	var before string
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	if before == v.ChannelID {
		return nil
	}
	member := memberFromDiscord(v.GuildID, v.Member, nil)
	if member.ID == "" {
		member.ID = v.UserID
	}
	return &bus.Event{
		Kind:    bus.KindVoiceStateChanged,
		GuildID: v.GuildID,
		Payload: &bus.VoiceStateChanged{
			Member:            member,
			BeforeChannelID:   before,
			BeforeChannelName: names(before),
			AfterChannelID:    v.ChannelID,
			AfterChannelName:  names(v.ChannelID),
		},
	}
}

func messageEditedEvent(m *discordgo.MessageUpdate) *bus.Event {
	if m.Message == nil || m.GuildID == "" {
		return nil
	}
	author := m.Author
	if author == nil && m.BeforeUpdate != nil {
		author = m.BeforeUpdate.Author
	}
	if author == nil {
		return nil
	}
	edited := &bus.MessageEdited{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Author:    memberFromDiscord(m.GuildID, m.Member, author),
		After:     m.Content,
	}
	if m.BeforeUpdate != nil {
		edited.Before = m.BeforeUpdate.Content
		edited.BeforeKnown = true
	}
	return &bus.Event{Kind: bus.KindMessageEdited, GuildID: m.GuildID, Payload: edited}
}

func messageDeletedEvent(m *discordgo.MessageDelete) *bus.Event {
	if m.Message == nil || m.GuildID == "" {
		return nil
	}
	deleted := &bus.MessageDeleted{ChannelID: m.ChannelID, MessageID: m.ID}
	if prev := m.BeforeDelete; prev != nil && prev.Author != nil {
		author := memberFromDiscord(m.GuildID, prev.Member, prev.Author)
		deleted.Author = &author
		deleted.Content = prev.Content
	}
	return &bus.Event{Kind: bus.KindMessageDeleted, GuildID: m.GuildID, Payload: deleted}
}

func commandEvent(i *discordgo.InteractionCreate, reply func(context.Context, bus.Reply) error) *bus.Event {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" {
		return nil
	}
	data := i.ApplicationCommandData()
	opts := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		if o.Type == discordgo.ApplicationCommandOptionString {
			opts[o.Name] = o.StringValue()
		}
	}
	return &bus.Event{
		Kind:    bus.KindCommandInvoked,
		GuildID: i.GuildID,
		Payload: &bus.CommandInvoked{
			Name:    data.Name,
			Member:  memberFromDiscord(i.GuildID, i.Member, i.User),
			Options: opts,
			Reply:   reply,
		},
	}
}

func interactionReply(r bus.Reply) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: r.Content}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}
