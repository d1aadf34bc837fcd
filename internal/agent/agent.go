// Package agent wires the guild automation components to the event bus.
package agent

import (
	"context"
	"log/slog"

	"github.com/KafClaw/guildkeeper/internal/audit"
	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/invites"
	"github.com/KafClaw/guildkeeper/internal/membercount"
	"github.com/KafClaw/guildkeeper/internal/platform"
	"github.com/KafClaw/guildkeeper/internal/scheduler"
	"github.com/KafClaw/guildkeeper/internal/timeline"
	"github.com/KafClaw/guildkeeper/internal/voice"
)

// Options contains everything the agent needs to run.
type Options struct {
	Bus      *bus.EventBus
	Platform platform.Platform
	Config   *config.Config
	Timeline *timeline.TimelineService // optional; notifications are not recorded without it
}

// Agent owns the voice lifecycle manager, the invite attribution engine,
// the audit sink and the member-count updater.
type Agent struct {
	bus      *bus.EventBus
	cfg      *config.Config
	voice    *voice.Manager
	invites  *invites.Engine
	sink     *audit.Sink
	updater  *membercount.Updater // nil when the display is disabled
	registry *voice.Registry
	snaps    *invites.SnapshotStore
}

// New builds the agent and registers its handlers on the bus.
func New(opts Options) *Agent {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	var rec audit.Recorder
	if opts.Timeline != nil {
		rec = opts.Timeline
	}
	sink := audit.NewSink(opts.Bus, rec)

	registry := voice.NewRegistry()
	snaps := invites.NewSnapshotStore()

	a := &Agent{
		bus:      opts.Bus,
		cfg:      cfg,
		sink:     sink,
		registry: registry,
		snaps:    snaps,
		voice: voice.NewManager(voice.Config{
			TriggerChannelID: cfg.Voice.TriggerChannelID,
			CategoryID:       cfg.Voice.CategoryID,
			NameFormat:       cfg.Voice.NameFormat,
		}, opts.Platform, registry, sink),
		invites: invites.NewEngine(opts.Platform, snaps, sink),
	}
	if cfg.MemberCount.Enabled() {
		a.updater = membercount.NewUpdater(opts.Platform, cfg.MemberCount.ChannelID, cfg.MemberCount.Format)
	}
	a.register()
	return a
}

func (a *Agent) register() {
	b := a.bus

	b.Handle(bus.KindVoiceStateChanged, a.voice.HandleVoiceState)
	b.Handle(bus.KindCommandInvoked, a.voice.HandleCommand)

	b.Handle(bus.KindConnectionReady, a.invites.HandleReady)
	b.Handle(bus.KindInviteCreated, a.invites.HandleInviteChanged)
	b.Handle(bus.KindInviteDeleted, a.invites.HandleInviteChanged)
	b.Handle(bus.KindMemberJoined, a.invites.HandleMemberJoined)

	if a.cfg.Audit.VoiceEvents {
		b.Handle(bus.KindVoiceStateChanged, a.sink.HandleVoiceState)
	}
	if a.cfg.Audit.MessageEvents {
		b.Handle(bus.KindMessageEdited, a.sink.HandleMessageEdited)
		b.Handle(bus.KindMessageDeleted, a.sink.HandleMessageDeleted)
	}

	if a.updater != nil {
		b.Handle(bus.KindConnectionReady, a.updater.HandleReady)
		b.Handle(bus.KindMemberJoined, a.updater.HandleMembershipChange)
		b.Handle(bus.KindMemberLeft, a.updater.HandleMembershipChange)
	}
}

// Jobs returns the periodic jobs the agent wants scheduled.
func (a *Agent) Jobs() ([]*scheduler.Job, error) {
	if a.updater == nil {
		return nil, nil
	}
	cron, err := scheduler.ParseCron(a.cfg.MemberCount.Schedule)
	if err != nil {
		return nil, err
	}
	return []*scheduler.Job{a.updater.Job(cron)}, nil
}

// Registry returns the managed voice channel registry.
func (a *Agent) Registry() *voice.Registry { return a.registry }

// Snapshots returns the invite snapshot store.
func (a *Agent) Snapshots() *invites.SnapshotStore { return a.snaps }

// Run dispatches inbound events until ctx is cancelled and in-flight
// handlers have returned.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("Agent started",
		"trigger", a.cfg.Voice.TriggerChannelID,
		"category", a.cfg.Voice.CategoryID,
		"member_count", a.updater != nil)
	err := a.bus.DispatchInbound(ctx)
	slog.Info("Agent stopped", "managed_channels", a.registry.Len(), "guild_snapshots", a.snaps.Len())
	if ctx.Err() != nil {
		return nil
	}
	return err
}
