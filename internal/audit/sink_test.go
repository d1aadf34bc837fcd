package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/invites"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []*bus.Notification
}

func (c *capturePublisher) PublishOutbound(_ context.Context, n *bus.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return true
}

func (c *capturePublisher) last(t *testing.T) *bus.Notification {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("expected a notification")
	}
	return c.sent[len(c.sent)-1]
}

type captureRecorder struct {
	entries []*timeline.Entry
	err     error
}

func (c *captureRecorder) Record(e *timeline.Entry) error {
	if c.err != nil {
		return c.err
	}
	e.EventID = "evt-" + e.Kind
	c.entries = append(c.entries, e)
	return nil
}

var alice = bus.Member{ID: "u1", GuildID: "g1", Username: "alice"}

func TestChannelCreatedIsRecordedAndPublished(t *testing.T) {
	pub, rec := &capturePublisher{}, &captureRecorder{}
	s := NewSink(pub, rec)

	s.ChannelCreated(t.Context(), alice, "vc-1", "alice's channel")

	n := pub.last(t)
	if n.Kind != KindVoiceCreated || n.GuildID != "g1" || n.Footer != "User ID: u1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !strings.Contains(n.Description, "<#vc-1>") || !strings.Contains(n.Description, "<@u1>") {
		t.Fatalf("expected mentions, got %q", n.Description)
	}
	if len(rec.entries) != 1 || n.ID != "evt-voice_created" {
		t.Fatalf("expected recorded id to carry over, got %q (%d entries)", n.ID, len(rec.entries))
	}
}

func TestRecordFailureStillPublishes(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink(pub, &captureRecorder{err: errors.New("disk full")})

	s.ActionFailed(t.Context(), "g1", "delete channel vc-1", errors.New("boom"))

	n := pub.last(t)
	if n.Kind != KindActionFailed || n.Color != ColorRed {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(n.Fields) != 1 || !strings.Contains(n.Fields[0].Value, "boom") {
		t.Fatalf("expected error field, got %+v", n.Fields)
	}
}

func TestMemberJoinedRendersAttribution(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink(pub, nil)

	s.MemberJoined(t.Context(), alice, invites.Result{Attributed: true, Code: "B", InviterID: "u9", URL: "https://discord.gg/B"})
	n := pub.last(t)
	if len(n.Fields) != 3 || n.Fields[0].Value != "`B`" || n.Fields[1].Value != "<@u9>" {
		t.Fatalf("unexpected fields: %+v", n.Fields)
	}

	s.MemberJoined(t.Context(), alice, invites.Result{Reason: invites.ReasonPermissionDenied})
	n = pub.last(t)
	if len(n.Fields) != 1 || !strings.Contains(n.Fields[0].Value, "permission") {
		t.Fatalf("expected permission reason, got %+v", n.Fields)
	}
}

func TestHandleVoiceState(t *testing.T) {
	tests := []struct {
		name          string
		before, after string
		wantKind      string
	}{
		{name: "join", after: "c1", wantKind: KindVoiceJoin},
		{name: "leave", before: "c1", wantKind: KindVoiceLeave},
		{name: "move", before: "c1", after: "c2", wantKind: KindVoiceMove},
		{name: "mute toggle", before: "c1", after: "c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &capturePublisher{}
			s := NewSink(pub, nil)
			s.HandleVoiceState(t.Context(), &bus.Event{GuildID: "g1", Payload: &bus.VoiceStateChanged{
				Member: alice, BeforeChannelID: tt.before, AfterChannelID: tt.after,
			}})
			if tt.wantKind == "" {
				if len(pub.sent) != 0 {
					t.Fatalf("expected nothing, got %+v", pub.sent)
				}
				return
			}
			if got := pub.last(t).Kind; got != tt.wantKind {
				t.Fatalf("expected %s, got %s", tt.wantKind, got)
			}
		})
	}
}

func TestHandleVoiceStateIgnoresBots(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink(pub, nil)
	s.HandleVoiceState(t.Context(), &bus.Event{Payload: &bus.VoiceStateChanged{
		Member: bus.Member{ID: "b1", Bot: true}, AfterChannelID: "c1",
	}})
	if len(pub.sent) != 0 {
		t.Fatal("bot voice activity must not be logged")
	}
}

func TestHandleMessageEdited(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink(pub, nil)

	unchanged := &bus.MessageEdited{ChannelID: "c1", MessageID: "m1", Author: alice, Before: "hi", BeforeKnown: true, After: "hi"}
	s.HandleMessageEdited(t.Context(), &bus.Event{GuildID: "g1", Payload: unchanged})
	if len(pub.sent) != 0 {
		t.Fatal("unchanged content must not be logged")
	}

	edited := &bus.MessageEdited{ChannelID: "c1", MessageID: "m1", Author: alice, Before: "hi", BeforeKnown: true, After: "hello"}
	s.HandleMessageEdited(t.Context(), &bus.Event{GuildID: "g1", Payload: edited})
	n := pub.last(t)
	if !strings.Contains(n.Description, "https://discord.com/channels/g1/c1/m1") {
		t.Fatalf("expected jump link, got %q", n.Description)
	}
	if n.Fields[0].Value != "```hi```" || n.Fields[1].Value != "```hello```" {
		t.Fatalf("unexpected fields: %+v", n.Fields)
	}
}

func TestHandleMessageDeleted(t *testing.T) {
	pub := &capturePublisher{}
	s := NewSink(pub, nil)

	s.HandleMessageDeleted(t.Context(), &bus.Event{GuildID: "g1", Payload: &bus.MessageDeleted{ChannelID: "c1", MessageID: "m1"}})
	if n := pub.last(t); n.Footer != "Message ID: m1" || len(n.Fields) != 0 {
		t.Fatalf("unexpected uncached render: %+v", n)
	}

	s.HandleMessageDeleted(t.Context(), &bus.Event{GuildID: "g1", Payload: &bus.MessageDeleted{
		ChannelID: "c1", MessageID: "m2", Author: &alice, Content: "bye",
	}})
	if n := pub.last(t); n.Fields[0].Value != "```bye```" || n.Footer != "User ID: u1" {
		t.Fatalf("unexpected cached render: %+v", n)
	}

	bot := bus.Member{ID: "b1", Bot: true}
	before := len(pub.sent)
	s.HandleMessageDeleted(t.Context(), &bus.Event{Payload: &bus.MessageDeleted{ChannelID: "c1", MessageID: "m3", Author: &bot}})
	if len(pub.sent) != before {
		t.Fatal("bot messages must not be logged")
	}
}

func TestTruncateLongContent(t *testing.T) {
	got := codeBlock(strings.Repeat("é", 2000))
	if n := len([]rune(got)); n != maxFieldValue+6 {
		t.Fatalf("expected truncated block, got %d runes", n)
	}
}
