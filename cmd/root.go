package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	httpcmd "github.com/Alijeyrad/simorq_calendar/cmd/http"
	jobscmd "github.com/Alijeyrad/simorq_calendar/cmd/jobs"
	systemcmd "github.com/Alijeyrad/simorq_calendar/cmd/system"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "simorq-calendar",
	Short: "Simorq practitioner calendar with Google Calendar sync.",
	Long: `Simorq Calendar serves practitioner availability, public booking and
appointment management, and keeps appointments in two-way sync with the
practitioner's Google Calendar.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global config flag, available for all commands.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	// Attach top-level command trees.
	rootCmd.AddCommand(systemcmd.NewSystemCommand())
	rootCmd.AddCommand(httpcmd.NewHTTPCommand())
	rootCmd.AddCommand(jobscmd.NewJobsCommand())
}
