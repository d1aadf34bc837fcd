package invites

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/platform"
)

// Reason explains why a join could not be attributed.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonNoCountIncrease  Reason = "no_count_increase"
	// ReasonUnavailable covers invite-list failures other than permission denial.
	ReasonUnavailable Reason = "unavailable"
)

// Result is the outcome of one attribution cycle. When Attributed is false,
// Reason says why.
type Result struct {
	Attributed bool
	Code       string
	InviterID  string
	URL        string
	Reason     Reason
	Err        error
}

// InviteSource is the subset of the platform the engine reads from.
type InviteSource interface {
	ListInvites(ctx context.Context, guildID string) ([]platform.Invite, error)
	FetchInvite(ctx context.Context, code string) (platform.Invite, error)
}

// Reporter receives one attribution result per member join.
type Reporter interface {
	MemberJoined(ctx context.Context, member bus.Member, res Result)
}

// seedConcurrency bounds parallel invite fetches on connection-ready.
const seedConcurrency = 4

// Engine attributes joins to invites and keeps the snapshot store fresh.
type Engine struct {
	source   InviteSource
	store    *SnapshotStore
	reporter Reporter
}

// NewEngine creates an attribution engine. Reporter may be nil.
func NewEngine(src InviteSource, store *SnapshotStore, rep Reporter) *Engine {
	return &Engine{source: src, store: store, reporter: rep}
}

// Store returns the snapshot store.
func (e *Engine) Store() *SnapshotStore { return e.store }

// Attribute runs one cycle for a join in guildID: read the live list, pick
// the first code (in list order) whose uses grew past the stored count, then
// replace the stored snapshot with the live list. When the list cannot be
// read the stored snapshot is left as is.
//
// Only one invite is attributed per join. If several invites were used
// between two refreshes, the one listed first wins; list order is not
// guaranteed stable, so such joins may be misattributed.
func (e *Engine) Attribute(ctx context.Context, guildID string) Result {
	live, err := e.source.ListInvites(ctx, guildID)
	if err != nil {
		if platform.IsPermissionDenied(err) {
			return Result{Reason: ReasonPermissionDenied, Err: err}
		}
		return Result{Reason: ReasonUnavailable, Err: err}
	}

	stored := e.store.Get(guildID)
	res := Result{Reason: ReasonNoCountIncrease}
	if inv, ok := firstIncreased(live, stored); ok {
		res = e.resolve(ctx, inv)
	}

	e.store.Replace(guildID, Counts(live))
	return res
}

func firstIncreased(live []platform.Invite, stored map[string]int) (platform.Invite, bool) {
	for _, inv := range live {
		if inv.Uses > stored[inv.Code] {
			return inv, true
		}
	}
	return platform.Invite{}, false
}

// resolve fills in inviter and URL for the chosen code, falling back to the
// listed entry when the lookup fails.
func (e *Engine) resolve(ctx context.Context, listed platform.Invite) Result {
	res := Result{
		Attributed: true,
		Code:       listed.Code,
		InviterID:  listed.InviterID,
		URL:        listed.URL,
	}
	full, err := e.source.FetchInvite(ctx, listed.Code)
	if err != nil {
		slog.Debug("Invite lookup failed, using listed details", "code", listed.Code, "error", err)
	} else {
		if full.InviterID != "" {
			res.InviterID = full.InviterID
		}
		if full.URL != "" {
			res.URL = full.URL
		}
	}
	if res.URL == "" {
		res.URL = platform.InviteURL(listed.Code)
	}
	return res
}

// Refresh replaces the guild's snapshot with a fresh full fetch.
func (e *Engine) Refresh(ctx context.Context, guildID string) error {
	live, err := e.source.ListInvites(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list invites for guild %s: %w", guildID, err)
	}
	e.store.Replace(guildID, Counts(live))
	return nil
}

// Seed refreshes every guild concurrently. Failures, permission denials
// included, are logged per guild and never abort the others; such guilds
// start from an empty snapshot.
func (e *Engine) Seed(ctx context.Context, guildIDs []string) {
	var g errgroup.Group
	g.SetLimit(seedConcurrency)
	for _, id := range guildIDs {
		e.store.Ensure(id)
		g.Go(func() error {
			if err := e.Refresh(ctx, id); err != nil {
				if platform.IsPermissionDenied(err) {
					slog.Warn("Invite snapshot seeding denied", "guild", id, "error", err)
				} else {
					slog.Error("Invite snapshot seeding failed", "guild", id, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("Invite snapshots seeded", "guilds", len(guildIDs))
}

// HandleReady seeds snapshots for every guild in a connection-ready event.
func (e *Engine) HandleReady(ctx context.Context, ev *bus.Event) {
	ready, ok := ev.Payload.(*bus.ConnectionReady)
	if !ok {
		return
	}
	e.Seed(ctx, ready.GuildIDs)
}

// HandleInviteChanged refreshes the guild's snapshot after an invite was
// created or deleted.
func (e *Engine) HandleInviteChanged(ctx context.Context, ev *bus.Event) {
	if err := e.Refresh(ctx, ev.GuildID); err != nil {
		slog.Warn("Invite snapshot refresh failed", "guild", ev.GuildID, "kind", ev.Kind, "error", err)
	}
}

// HandleMemberJoined attributes a join and hands the result to the reporter.
func (e *Engine) HandleMemberJoined(ctx context.Context, ev *bus.Event) {
	joined, ok := ev.Payload.(*bus.MemberJoined)
	if !ok {
		return
	}
	res := e.Attribute(ctx, ev.GuildID)
	switch {
	case res.Attributed:
		slog.Info("Join attributed", "guild", ev.GuildID, "member", joined.Member.ID, "code", res.Code, "inviter", res.InviterID)
	case res.Err != nil:
		slog.Warn("Join attribution unavailable", "guild", ev.GuildID, "member", joined.Member.ID, "reason", res.Reason, "error", res.Err)
	default:
		slog.Info("Join not attributed", "guild", ev.GuildID, "member", joined.Member.ID, "reason", res.Reason)
	}
	if e.reporter != nil {
		e.reporter.MemberJoined(ctx, joined.Member, res)
	}
}
