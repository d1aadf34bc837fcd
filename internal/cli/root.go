package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/guildkeeper/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"              _ _     _ _\n" +
		"   __ _ _   _(_) | __| | | _____  ___ _ __   ___ _ __\n" +
		"  / _` | | | | | |/ _` | |/ / _ \\/ _ \\ '_ \\ / _ \\ '__|\n" +
		" | (_| | |_| | | | (_| |   <  __/  __/ |_) |  __/ |\n" +
		"  \\__, |\\__,_|_|_|\\__,_|_|\\_\\___|\\___| .__/ \\___|_|\n" +
		"  |___/                              |_|\n"
)

var rootCmd = &cobra.Command{
	Use:          "guildkeeper",
	Short:        "guildkeeper - Discord guild automation",
	Long:         color.CyanString(logo) + "\nTemporary voice channels, invite tracking and audit logging for a Discord guild.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}
