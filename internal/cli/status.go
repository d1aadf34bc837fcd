package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/guildkeeper/internal/cliconfig"
	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ guildkeeper Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 guildkeeper Status")
		fmt.Fprintf(out, "Version: %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Config:  %s Found (%s)\n", check(true), path)
			} else {
				fmt.Fprintf(out, "Config:  %s Not found (%s), using environment\n", check(false), path)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		src, err := cliconfig.ApplyStoredSecrets(cfg)
		if err != nil {
			slog.Warn("Secret store unreadable", "error", err)
		}
		printConfigSummary(out, cfg, src)

		if _, err := os.Stat(cfg.Paths.TimelinePath()); err != nil {
			fmt.Fprintln(out, "Timeline: no activity recorded yet")
			return nil
		}
		tl, err := timeline.NewTimelineService(cfg.Paths.TimelinePath())
		if err != nil {
			return fmt.Errorf("open timeline: %w", err)
		}
		defer tl.Close()
		return printActivity(out, tl)
	},
}

func printConfigSummary(w io.Writer, cfg *config.Config, tokenSource string) {
	fmt.Fprintf(w, "Token:   %s %s\n", check(cfg.Discord.Token != ""), orDash(tokenSource))
	fmt.Fprintf(w, "Trigger: %s\n", orDash(cfg.Voice.TriggerChannelID))
	fmt.Fprintf(w, "Category: %s\n", orDash(cfg.Voice.CategoryID))
	fmt.Fprintf(w, "Audit:   %s (voice events %s, message events %s)\n",
		orDash(cfg.Audit.ChannelID), check(cfg.Audit.VoiceEvents), check(cfg.Audit.MessageEvents))
	if cfg.MemberCount.Enabled() {
		fmt.Fprintf(w, "Members: %s every %q\n", cfg.MemberCount.ChannelID, cfg.MemberCount.Schedule)
	} else {
		fmt.Fprintf(w, "Members: %s disabled\n", check(false))
	}
	fmt.Fprintf(w, "Slack:   %s\n", check(cfg.Slack.Enabled))
	fmt.Fprintf(w, "Kafka:   %s", check(cfg.Kafka.Enabled))
	if cfg.Kafka.Enabled {
		fmt.Fprintf(w, " (%s)", cfg.Kafka.Topic)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Data:    %s\n", cfg.Paths.DataDir)
}

func printActivity(w io.Writer, tl *timeline.TimelineService) error {
	if v, err := tl.GetSetting(settingLastStart); err == nil && v != "" {
		fmt.Fprintf(w, "Last start: %s\n", v)
	}

	counts, err := tl.CountByKind()
	if err != nil {
		return fmt.Errorf("count audit entries: %w", err)
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	fmt.Fprintln(w, "\nAudit entries:")
	if len(kinds) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-16s %d\n", k, counts[k])
	}

	jobs, err := tl.ScheduledJobs()
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	if len(jobs) > 0 {
		fmt.Fprintln(w, "\nScheduled jobs:")
		for _, j := range jobs {
			fmt.Fprintf(w, "  %-16s %-20s %s\n", j.Name, j.LastStatus, j.LastTick.Local().Format(time.DateTime))
		}
	}
	return nil
}
