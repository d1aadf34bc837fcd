package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

var (
	historyLimit int
	historyGuild string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		limit := historyLimit
		if limit <= 0 {
			limit = cfg.Audit.HistoryLimit
		}

		if _, err := os.Stat(cfg.Paths.TimelinePath()); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit history yet.")
			return nil
		}
		tl, err := timeline.NewTimelineService(cfg.Paths.TimelinePath())
		if err != nil {
			return fmt.Errorf("open timeline: %w", err)
		}
		defer tl.Close()

		entries, err := tl.Recent(historyGuild, limit)
		if err != nil {
			return err
		}
		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if entries == nil {
				entries = []timeline.Entry{}
			}
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit history yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s %s  %s\n",
				e.CreatedAt.Local().Format(time.DateTime),
				e.Kind,
				color.New(color.Bold).Sprint(e.Title),
				oneLine(e.Body))
		}
		return nil
	},
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 100 {
		return string(r[:99]) + "…"
	}
	return s
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of entries to show (default audit.historyLimit)")
	historyCmd.Flags().StringVar(&historyGuild, "guild", "", "Only show entries for this guild id")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")
}
