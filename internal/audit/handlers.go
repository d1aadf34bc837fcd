package audit

import (
	"context"
	"fmt"

	"github.com/KafClaw/guildkeeper/internal/bus"
)

// MessageLink renders a jump link to a guild message.
func MessageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func channelLabel(id, name string) string {
	if name == "" {
		return channelMention(id)
	}
	return fmt.Sprintf("**%s** (%s)", name, channelMention(id))
}

// HandleVoiceState logs voice joins, leaves and moves of human members.
func (s *Sink) HandleVoiceState(ctx context.Context, ev *bus.Event) {
	vs, ok := ev.Payload.(*bus.VoiceStateChanged)
	if !ok || vs.Member.Bot || vs.BeforeChannelID == vs.AfterChannelID {
		return
	}

	n := &bus.Notification{GuildID: ev.GuildID, Footer: userFooter(vs.Member.ID)}
	switch {
	case vs.BeforeChannelID == "":
		n.Kind = KindVoiceJoin
		n.Title = "Voice join"
		n.Color = ColorGreen
		n.Description = fmt.Sprintf("%s joined %s.", vs.Member.Mention(), channelLabel(vs.AfterChannelID, vs.AfterChannelName))
	case vs.AfterChannelID == "":
		n.Kind = KindVoiceLeave
		n.Title = "Voice leave"
		n.Color = ColorRed
		n.Description = fmt.Sprintf("%s left %s.", vs.Member.Mention(), channelLabel(vs.BeforeChannelID, vs.BeforeChannelName))
	default:
		n.Kind = KindVoiceMove
		n.Title = "Voice move"
		n.Color = ColorBlue
		n.Description = fmt.Sprintf("%s moved channels.", vs.Member.Mention())
		n.Fields = []bus.Field{
			{Name: "From", Value: channelLabel(vs.BeforeChannelID, vs.BeforeChannelName), Inline: true},
			{Name: "To", Value: channelLabel(vs.AfterChannelID, vs.AfterChannelName), Inline: true},
		}
	}
	s.Emit(ctx, n)
}

// HandleMessageEdited logs content edits by human authors.
func (s *Sink) HandleMessageEdited(ctx context.Context, ev *bus.Event) {
	m, ok := ev.Payload.(*bus.MessageEdited)
	if !ok || m.Author.Bot {
		return
	}
	if m.BeforeKnown && m.Before == m.After {
		return
	}

	before := "*not cached*"
	if m.BeforeKnown {
		before = codeBlock(m.Before)
	}
	s.Emit(ctx, &bus.Notification{
		Kind:        KindMessageEdited,
		GuildID:     ev.GuildID,
		Title:       "Message edited",
		Description: fmt.Sprintf("%s edited a message in %s. [Jump](%s)", m.Author.Mention(), channelMention(m.ChannelID), MessageLink(ev.GuildID, m.ChannelID, m.MessageID)),
		Color:       ColorOrange,
		Fields: []bus.Field{
			{Name: "Before", Value: before},
			{Name: "After", Value: codeBlock(m.After)},
		},
		Footer: userFooter(m.Author.ID),
	})
}

// HandleMessageDeleted logs deleted messages. Uncached messages are logged
// without author or content.
func (s *Sink) HandleMessageDeleted(ctx context.Context, ev *bus.Event) {
	m, ok := ev.Payload.(*bus.MessageDeleted)
	if !ok {
		return
	}
	if m.Author != nil && m.Author.Bot {
		return
	}

	n := &bus.Notification{
		Kind:    KindMessageDeleted,
		GuildID: ev.GuildID,
		Title:   "Message deleted",
		Color:   ColorRed,
	}
	if m.Author == nil {
		n.Description = fmt.Sprintf("An uncached message was deleted in %s.", channelMention(m.ChannelID))
		n.Footer = "Message ID: " + m.MessageID
	} else {
		n.Description = fmt.Sprintf("A message by %s was deleted in %s.", m.Author.Mention(), channelMention(m.ChannelID))
		content := "*empty*"
		if m.Content != "" {
			content = codeBlock(m.Content)
		}
		n.Fields = []bus.Field{{Name: "Content", Value: content}}
		n.Footer = userFooter(m.Author.ID)
	}
	s.Emit(ctx, n)
}
