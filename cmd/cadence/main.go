package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/cmd/cadence/commands"
	"github.com/teranos/cadence/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - calendar-aligned job scheduling",
	Long: `cadence - calendar-aligned, multi-tenant job scheduling.

cadence keeps one scheduler per stored job and reconciles that set against
the job store on a fixed sweep, so jobs that are added, changed or removed
converge without change notifications.

Available commands:
  run      - Run the coordinator until interrupted
  jobs     - Add, list, show, remove and apply job definitions
  preview  - Print upcoming run times for a schedule
  db       - Manage the job store database
  am       - Show configuration ("I am")
  version  - Show build information

Examples:
  cadence jobs add --tenant acme --period day --offset 2h --handler log
  cadence jobs apply -f jobs.yaml
  cadence preview --period week --count 4
  cadence run -v`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.DatabasePath, "db", "", "Job store path (overrides database.path)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PreviewCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// Cancelled on SIGINT or SIGTERM; run waits on it to shut down
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hints := commands.Hints(err); hints != "" {
			fmt.Fprintln(os.Stderr, hints)
		}
		os.Exit(1)
	}
}
