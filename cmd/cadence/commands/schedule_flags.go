package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/schedule"
)

// scheduleFlags collects the flags that describe a schedule on the command line.
type scheduleFlags struct {
	period     string
	offset     string
	expression string
	at         string
	zone       string
	from       string
	until      string
}

func (f *scheduleFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.period, "period", "", "Repeat on a calendar grid: minute, hour, day, week, month")
	cmd.Flags().StringVar(&f.offset, "offset", "", "Phase offset into each period, e.g. 2h30m")
	cmd.Flags().StringVar(&f.expression, "cron", "", "Standard cron expression, e.g. \"0 9 * * MON-FRI\"")
	cmd.Flags().StringVar(&f.at, "at", "", "Run once at this instant (RFC3339)")
	cmd.Flags().StringVar(&f.zone, "zone", "", "IANA time zone for the grid (default UTC)")
	cmd.Flags().StringVar(&f.from, "from", "", "Earliest run time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "Latest run time (RFC3339 or YYYY-MM-DD)")
}

// definition turns the flags into a schedule definition. Exactly one of
// --period, --cron or --at must be given.
func (f *scheduleFlags) definition() (schedule.Definition, error) {
	var def schedule.Definition

	kinds := 0
	for _, set := range []bool{f.period != "", f.expression != "", f.at != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return def, errors.WithHint(
			errors.Configurationf("need exactly one of --period, --cron or --at"),
			"e.g. --period day --offset 12h, --cron \"*/15 * * * *\" or --at 2030-01-01T09:00:00Z")
	}

	switch {
	case f.period != "":
		def.Kind = schedule.KindPeriodic
		def.Period = f.period
		def.Offset = f.offset
		def.Zone = f.zone
	case f.expression != "":
		def.Kind = schedule.KindCron
		def.Expression = f.expression
		def.Zone = f.zone
	default:
		at, err := parseFlagTime("at", f.at)
		if err != nil {
			return def, err
		}
		def.Kind = schedule.KindOneOff
		def.At = &at
		def.RunAtAndAfter = &at
	}

	if f.from != "" {
		from, err := parseFlagTime("from", f.from)
		if err != nil {
			return def, err
		}
		def.RunAtAndAfter = &from
	}
	if f.until != "" {
		until, err := parseFlagTime("until", f.until)
		if err != nil {
			return def, err
		}
		def.RunUntil = &until
	}
	return def, nil
}

// parseFlagTime accepts RFC3339 instants and bare dates, read as UTC midnight.
func parseFlagTime(name, value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.WithHint(
		errors.Configurationf("--%s %q is not a time", name, value),
		"use RFC3339 (2030-01-01T09:00:00Z) or a date (2030-01-01)")
}
