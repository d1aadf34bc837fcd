package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KafClaw/guildkeeper/internal/cliconfig"
)

var (
	doctorFix   bool
	doctorProbe bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run config and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := cliconfig.RunDoctorWithOptions(cliconfig.DoctorOptions{Fix: doctorFix, Probe: doctorProbe})
		if err != nil {
			return err
		}

		failures := 0
		for _, check := range report.Checks {
			symbol := "PASS"
			if check.Status == cliconfig.DoctorWarn {
				symbol = "WARN"
			}
			if check.Status == cliconfig.DoctorFail {
				symbol = "FAIL"
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", symbol, check.Name, check.Message)
		}

		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Create the data directory if it is missing")
	doctorCmd.Flags().BoolVar(&doctorProbe, "probe", false, "Dial the configured Kafka brokers")
	rootCmd.AddCommand(doctorCmd)
}
