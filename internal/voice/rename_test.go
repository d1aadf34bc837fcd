package voice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/platform"
)

func ownedChannel(t *testing.T, m *Manager, mem *platform.Memory, owner bus.Member) string {
	t.Helper()
	move(t, m, mem, owner, "", testTrigger)
	created, _, _, _ := mem.Snapshot()
	if len(created) == 0 {
		t.Fatal("expected a managed channel")
	}
	return created[len(created)-1].ID
}

func TestRenameRejectsMemberWithoutChannel(t *testing.T) {
	m, mem, _ := newTestManager(t)

	_, err := m.Rename(t.Context(), testGuild, member("u1", "Alice"), "lounge")
	if !errors.Is(err, ErrNotInVoice) {
		t.Fatalf("expected ErrNotInVoice, got %v", err)
	}
	if _, _, _, renames := mem.Snapshot(); len(renames) != 0 {
		t.Fatalf("no mutation expected, got %v", renames)
	}
}

func TestRenameRejectsUnmanagedChannel(t *testing.T) {
	m, mem, _ := newTestManager(t)
	mem.AddChannel(platform.Channel{ID: "lobby", GuildID: testGuild, Kind: platform.KindVoice})
	mem.Connect("u1", "lobby")
	mem.Grant("u1", "lobby")

	_, err := m.Rename(t.Context(), testGuild, member("u1", "Alice"), "lounge")
	if !errors.Is(err, ErrNotManaged) {
		t.Fatalf("expected ErrNotManaged, got %v", err)
	}
}

func TestRenameRejectsNonOwner(t *testing.T) {
	m, mem, _ := newTestManager(t)
	id := ownedChannel(t, m, mem, member("u1", "Alice"))
	bob := member("u2", "Bob")
	move(t, m, mem, bob, "", id)

	_, err := m.Rename(t.Context(), testGuild, bob, "bob's now")
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, _, _, renames := mem.Snapshot(); len(renames) != 0 {
		t.Fatalf("no mutation expected, got %v", renames)
	}
}

func TestRenameByOwner(t *testing.T) {
	m, mem, rep := newTestManager(t)
	alice := member("u1", "Alice")
	id := ownedChannel(t, m, mem, alice)

	res, err := m.Rename(t.Context(), testGuild, alice, "  study room  ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if res.ChannelID != id || res.OldName != "Alice's channel" || res.NewName != "study room" {
		t.Fatalf("unexpected result: %+v", res)
	}
	ch, _ := mem.Channel(t.Context(), id)
	if ch.Name != "study room" {
		t.Fatalf("channel not renamed: %q", ch.Name)
	}
	if len(rep.renamed) != 1 {
		t.Fatalf("expected rename reported, got %v", rep.renamed)
	}
}

func TestRenameRejectsInvalidNames(t *testing.T) {
	m, mem, _ := newTestManager(t)
	alice := member("u1", "Alice")
	ownedChannel(t, m, mem, alice)

	for _, name := range []string{"", "   ", strings.Repeat("n", maxChannelName+1)} {
		if _, err := m.Rename(t.Context(), testGuild, alice, name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestRenamePermissionErrorIsReported(t *testing.T) {
	m, mem, _ := newTestManager(t)
	alice := member("u1", "Alice")
	ownedChannel(t, m, mem, alice)
	mem.Errors["edit"] = platform.ErrPermissionDenied

	_, err := m.Rename(t.Context(), testGuild, alice, "new")
	if !platform.IsPermissionDenied(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
	reply := RenameReply(RenameResult{}, err)
	if !reply.Ephemeral || !strings.Contains(reply.Content, "permission") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestHandleCommandReplies(t *testing.T) {
	m, mem, _ := newTestManager(t)
	alice := member("u1", "Alice")

	var got []bus.Reply
	invoke := func(who bus.Member, name string) {
		m.HandleCommand(t.Context(), &bus.Event{
			Kind:    bus.KindCommandInvoked,
			GuildID: testGuild,
			Payload: &bus.CommandInvoked{
				Name:    CommandRename,
				Member:  who,
				Options: map[string]string{OptionName: name},
				Reply: func(_ context.Context, r bus.Reply) error {
					got = append(got, r)
					return nil
				},
			},
		})
	}

	invoke(alice, "lounge")
	if len(got) != 1 || !got[0].Ephemeral || !strings.Contains(got[0].Content, "voice channel first") {
		t.Fatalf("expected private no-channel rejection, got %+v", got)
	}

	ownedChannel(t, m, mem, alice)
	invoke(alice, "lounge")
	if len(got) != 2 || got[1].Ephemeral || !strings.Contains(got[1].Content, "'lounge'") {
		t.Fatalf("expected public confirmation, got %+v", got)
	}
}

func TestHandleCommandIgnoresOtherCommands(t *testing.T) {
	m, _, _ := newTestManager(t)
	called := false
	m.HandleCommand(t.Context(), &bus.Event{
		Kind: bus.KindCommandInvoked,
		Payload: &bus.CommandInvoked{
			Name: "ping",
			Reply: func(context.Context, bus.Reply) error {
				called = true
				return nil
			},
		},
	})
	if called {
		t.Fatal("unrelated command must not be answered")
	}
}
