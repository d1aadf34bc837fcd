package invites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/platform"
)

func inv(code string, uses int) platform.Invite {
	return platform.Invite{Code: code, GuildID: "g1", Uses: uses, InviterID: "owner-" + code, URL: platform.InviteURL(code)}
}

func newTestEngine(live ...platform.Invite) (*Engine, *platform.Memory) {
	mem := platform.NewMemory()
	mem.SetInvites("g1", live)
	return NewEngine(mem, NewSnapshotStore(), nil), mem
}

func TestAttributeIncreasedCount(t *testing.T) {
	e, _ := newTestEngine(inv("A", 5), inv("B", 3))
	e.Store().Replace("g1", map[string]int{"A": 5, "B": 2})

	res := e.Attribute(t.Context(), "g1")
	if !res.Attributed || res.Code != "B" {
		t.Fatalf("expected B, got %+v", res)
	}
	if res.InviterID != "owner-B" || res.URL != "https://discord.gg/B" {
		t.Fatalf("expected resolved details, got %+v", res)
	}
	if got := e.Store().Get("g1"); got["B"] != 3 || got["A"] != 5 {
		t.Fatalf("snapshot not replaced with live list: %v", got)
	}
}

func TestAttributeUnknownGuildDefaultsToZero(t *testing.T) {
	e, _ := newTestEngine(inv("A", 1))

	res := e.Attribute(t.Context(), "g1")
	if !res.Attributed || res.Code != "A" {
		t.Fatalf("expected A, got %+v", res)
	}
}

func TestAttributeSimultaneousIncreasePicksExactlyOne(t *testing.T) {
	e, _ := newTestEngine(inv("A", 2), inv("B", 4))
	e.Store().Replace("g1", map[string]int{"A": 1, "B": 3})

	res := e.Attribute(t.Context(), "g1")
	if !res.Attributed {
		t.Fatalf("expected an attribution, got %+v", res)
	}
	if res.Code != "A" && res.Code != "B" {
		t.Fatalf("expected exactly one of A or B, got %q", res.Code)
	}
}

func TestAttributeNoCountIncrease(t *testing.T) {
	e, _ := newTestEngine(inv("A", 5))
	e.Store().Replace("g1", map[string]int{"A": 5, "gone": 9})

	res := e.Attribute(t.Context(), "g1")
	if res.Attributed || res.Reason != ReasonNoCountIncrease {
		t.Fatalf("expected NoCountIncrease, got %+v", res)
	}
	if _, ok := e.Store().Get("g1")["gone"]; ok {
		t.Fatal("vanished invite must drop out of the snapshot")
	}
}

func TestAttributePermissionDeniedLeavesSnapshot(t *testing.T) {
	e, mem := newTestEngine(inv("A", 7))
	e.Store().Replace("g1", map[string]int{"A": 5})
	mem.Errors["list_invites"] = fmt.Errorf("%w: manage guild required", platform.ErrPermissionDenied)

	res := e.Attribute(t.Context(), "g1")
	if res.Attributed || res.Reason != ReasonPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %+v", res)
	}
	if got := e.Store().Get("g1"); got["A"] != 5 {
		t.Fatalf("snapshot must stay stale on denial, got %v", got)
	}
}

func TestAttributeOtherListErrorIsUnavailable(t *testing.T) {
	e, mem := newTestEngine()
	mem.Errors["list_invites"] = errors.New("gateway timeout")

	res := e.Attribute(t.Context(), "g1")
	if res.Attributed || res.Reason != ReasonUnavailable || res.Err == nil {
		t.Fatalf("expected Unavailable, got %+v", res)
	}
	if e.Store().Known("g1") {
		t.Fatal("store must not be touched")
	}
}

func TestAttributeFallsBackToListedDetails(t *testing.T) {
	e, mem := newTestEngine(inv("A", 1))
	mem.Errors["fetch_invite"] = platform.ErrNotFound

	res := e.Attribute(t.Context(), "g1")
	if !res.Attributed || res.InviterID != "owner-A" || res.URL != "https://discord.gg/A" {
		t.Fatalf("expected listed details, got %+v", res)
	}
}

func TestSeedToleratesPermissionDenial(t *testing.T) {
	mem := platform.NewMemory()
	mem.SetInvites("g1", []platform.Invite{inv("A", 3)})
	mem.Errors["list_invites"] = platform.ErrPermissionDenied
	e := NewEngine(mem, NewSnapshotStore(), nil)

	e.Seed(t.Context(), []string{"g1", "g2"})

	if !e.Store().Known("g1") || !e.Store().Known("g2") {
		t.Fatal("every known guild must have a snapshot after seeding")
	}
	if len(e.Store().Get("g1")) != 0 {
		t.Fatal("denied guild must start empty")
	}
}

func TestHandleReadySeedsAllGuilds(t *testing.T) {
	mem := platform.NewMemory()
	mem.SetInvites("g1", []platform.Invite{inv("A", 3)})
	mem.SetInvites("g2", []platform.Invite{inv("B", 1)})
	e := NewEngine(mem, NewSnapshotStore(), nil)

	e.HandleReady(t.Context(), &bus.Event{
		Kind:    bus.KindConnectionReady,
		Payload: &bus.ConnectionReady{GuildIDs: []string{"g1", "g2"}},
	})

	if e.Store().Get("g1")["A"] != 3 || e.Store().Get("g2")["B"] != 1 {
		t.Fatalf("unexpected snapshots: %v %v", e.Store().Get("g1"), e.Store().Get("g2"))
	}
}

func TestInviteChangedRefreshes(t *testing.T) {
	e, mem := newTestEngine(inv("A", 1))
	e.Store().Replace("g1", map[string]int{"old": 4})
	mem.SetInvites("g1", []platform.Invite{inv("A", 1), inv("new", 0)})

	e.HandleInviteChanged(t.Context(), &bus.Event{Kind: bus.KindInviteCreated, GuildID: "g1", Payload: &bus.InviteChanged{Code: "new"}})

	got := e.Store().Get("g1")
	if _, ok := got["old"]; ok || got["A"] != 1 {
		t.Fatalf("expected wholesale replacement, got %v", got)
	}
	if _, ok := got["new"]; !ok {
		t.Fatalf("new invite missing: %v", got)
	}
}

type captureReporter struct {
	mu      sync.Mutex
	results []Result
}

func (c *captureReporter) MemberJoined(_ context.Context, _ bus.Member, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func TestHandleMemberJoinedReportsOncePerJoin(t *testing.T) {
	mem := platform.NewMemory()
	mem.SetInvites("g1", []platform.Invite{inv("A", 1)})
	rep := &captureReporter{}
	e := NewEngine(mem, NewSnapshotStore(), rep)

	join := &bus.Event{Kind: bus.KindMemberJoined, GuildID: "g1", Payload: &bus.MemberJoined{Member: bus.Member{ID: "u1"}}}
	e.HandleMemberJoined(t.Context(), join)
	e.HandleMemberJoined(t.Context(), join)

	if len(rep.results) != 2 {
		t.Fatalf("expected two results, got %d", len(rep.results))
	}
	if !rep.results[0].Attributed || rep.results[1].Attributed {
		t.Fatalf("second join without new uses must be unattributed: %+v", rep.results)
	}
}

func TestSnapshotStoreReturnsCopies(t *testing.T) {
	s := NewSnapshotStore()
	if got := s.Get("unknown"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	src := map[string]int{"A": 1}
	s.Replace("g1", src)
	src["A"] = 99
	got := s.Get("g1")
	got["A"] = 42
	if s.Get("g1")["A"] != 1 {
		t.Fatal("store must not alias caller maps")
	}
}
