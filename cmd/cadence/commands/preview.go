package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/schedule"
)

// PreviewCmd prints upcoming run times without touching the job store
var PreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print upcoming run times for a schedule",
	Long: `Print the next run times a schedule would produce.

Without --from the schedule starts now. --last simulates a previous
successful run, which is how a running job advances.

Examples:
  cadence preview --period day --offset 12h --count 3
  cadence preview --period week --zone Europe/Berlin
  cadence preview --cron "0 9 * * MON-FRI" --from 2030-01-01
  cadence preview --period hour --last 2030-01-01T05:00:00Z`,
	RunE: runPreview,
}

var (
	previewSchedule scheduleFlags
	previewCount    int
	previewLast     string
)

func init() {
	previewSchedule.bind(PreviewCmd)
	PreviewCmd.Flags().IntVar(&previewCount, "count", 5, "Number of run times to print")
	PreviewCmd.Flags().StringVar(&previewLast, "last", "", "Previous successful run (RFC3339)")
}

func runPreview(cmd *cobra.Command, args []string) error {
	def, err := previewSchedule.definition()
	if err != nil {
		return err
	}
	lastRun := optional.None[time.Time]()
	if previewLast != "" {
		t, err := parseFlagTime("last", previewLast)
		if err != nil {
			return err
		}
		lastRun = optional.Some(t)
	}
	return preview(cmd.OutOrStdout(), def, lastRun, previewCount, time.Now())
}

// preview writes up to count upcoming runs of def, defaulting its lower bound to now.
func preview(w io.Writer, def schedule.Definition, lastRun optional.Option[time.Time], count int, now time.Time) error {
	if count < 1 {
		return errors.Configurationf("--count must be at least 1, got %d", count)
	}
	sched, err := def.WithDefaultLowerBound(now).Build()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", sched)
	runs := schedule.Upcoming(sched, lastRun, count)
	if len(runs) == 0 {
		fmt.Fprintln(w, "  no upcoming runs")
		return nil
	}

	loc := time.UTC
	if zoned, ok := sched.(interface{ Zone() *time.Location }); ok {
		loc = zoned.Zone()
	}
	for i, run := range runs {
		if loc == time.UTC {
			fmt.Fprintf(w, "  %2d  %s\n", i+1, run.Format(time.RFC3339))
		} else {
			fmt.Fprintf(w, "  %2d  %s  (%s)\n", i+1, run.In(loc).Format(time.RFC3339), run.Format(time.RFC3339))
		}
	}
	return nil
}
