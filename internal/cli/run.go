package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/guildkeeper/internal/agent"
	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/channels"
	"github.com/KafClaw/guildkeeper/internal/cliconfig"
	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/scheduler"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and run the guild agent",
	RunE:  runAgent,
}

// settingLastStart records when the agent last came up.
const settingLastStart = "last_start"

func runAgent(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// 1. Load and validate config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := cliconfig.ApplyStoredSecrets(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (run 'guildkeeper doctor'):\n%w", err)
	}
	slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))

	printHeader(out, "🎧 guildkeeper")
	fmt.Fprintln(out, "Starting guildkeeper...")

	// 2. Single instance per data directory
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := scheduler.NewFileLock(cfg.Paths.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another guildkeeper instance is running (lock %s)", lock.Path())
	}
	defer lock.Unlock()

	// 3. Timeline
	tl, err := timeline.NewTimelineService(cfg.Paths.TimelinePath())
	if err != nil {
		return fmt.Errorf("open timeline: %w", err)
	}
	defer tl.Close()
	_ = tl.SetSetting(settingLastStart, time.Now().UTC().Format(time.RFC3339))

	// 4. Bus, gateway and agent
	b := bus.NewEventBus()
	discord, err := channels.NewDiscordChannel(cfg.Discord, cfg.Audit.ChannelID, b)
	if err != nil {
		return err
	}
	ag := agent.New(agent.Options{
		Bus:      b,
		Platform: discord.Platform(),
		Config:   cfg,
		Timeline: tl,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Delivery channels. Discord goes last so its gateway only opens once
	// every sink is subscribed.
	transports := []channels.Channel{
		channels.NewSlackChannel(cfg.Slack, b),
		channels.NewKafkaChannel(cfg.Kafka, b),
		discord,
	}
	for _, ch := range transports {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s channel: %w", ch.Name(), err)
		}
		defer func() {
			if err := ch.Stop(); err != nil {
				slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
			}
		}()
	}

	// 6. Run group
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ag.Run(gctx) })
	g.Go(func() error { return ignoreCanceled(b.DispatchOutbound(gctx)) })

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			TickInterval:   cfg.Scheduler.TickInterval,
			MaxConcGuild:   cfg.Scheduler.MaxConcGuild,
			MaxConcDefault: cfg.Scheduler.MaxConcDefault,
			LockPath:       cfg.Paths.SchedulerLockPath(),
		}, tl)
		jobs, err := ag.Jobs()
		if err != nil {
			return fmt.Errorf("member count schedule: %w", err)
		}
		for _, job := range jobs {
			sched.Register(job)
		}
		g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	}

	fmt.Fprintln(out, "guildkeeper is running. Press Ctrl+C to stop.")
	err = g.Wait()
	fmt.Fprintln(out, "Shutting down...")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
