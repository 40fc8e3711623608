package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/gosimple/slug"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/pulse/store"
)

// DefaultTenant is used when --tenant is not given
const DefaultTenant = "default"

// JobsCmd manages stored job definitions
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled job definitions",
	Long: `jobs - Manage scheduled job definitions

A running coordinator picks up changes on its next sweep.

Examples:
  cadence jobs add --tenant acme --name nightly --handler log --period day --offset 2h
  cadence jobs add --cron "*/15 * * * *" --handler noop
  cadence jobs list --tenant acme
  cadence jobs show <id> --tenant acme
  cadence jobs history <id> --tenant acme --limit 10
  cadence jobs apply -f jobs.yaml --prune
  cadence jobs rm <id> --tenant acme`,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a job",
	Args:  cobra.NoArgs,
	RunE:  runJobsAdd,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with their last and next runs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job definition and its upcoming runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a job and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var jobsApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update jobs from a YAML file",
	Long: `Create or update jobs from a YAML file.

  jobs:
    - id: nightly-report
      tenant: acme
      handler: log
      payload: "build the nightly report"
      timeout: 10m
      schedule:
        kind: periodic
        period: day
        offset: 2h
        zone: Europe/Berlin

Every job needs an id so repeated applies update rather than duplicate.
With --prune, jobs of the file's tenants that the file does not mention are removed.`,
	Args: cobra.NoArgs,
	RunE: runJobsApply,
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show recent executions of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsHistory,
}

var (
	jobsTenant     string
	jobsListTenant string
	jobsSchedule   scheduleFlags
	jobsID         string
	jobsName       string
	jobsHandler    string
	jobsPayload    string
	jobsTimeout    time.Duration
	jobsFile       string
	jobsPrune      bool
	jobsLimit      int
)

func init() {
	for _, c := range []*cobra.Command{jobsAddCmd, jobsShowCmd, jobsRmCmd, jobsHistoryCmd} {
		c.Flags().StringVar(&jobsTenant, "tenant", DefaultTenant, "Tenant the job belongs to")
	}
	jobsListCmd.Flags().StringVar(&jobsListTenant, "tenant", "", "Only list this tenant (default all)")

	jobsSchedule.bind(jobsAddCmd)
	jobsAddCmd.Flags().StringVar(&jobsID, "id", "", "Job id (default: slug of --name, or generated)")
	jobsAddCmd.Flags().StringVar(&jobsName, "name", "", "Human-readable name")
	jobsAddCmd.Flags().StringVar(&jobsHandler, "handler", "log", "Handler that runs the job")
	jobsAddCmd.Flags().StringVar(&jobsPayload, "payload", "", "Opaque payload passed to the handler")
	jobsAddCmd.Flags().DurationVar(&jobsTimeout, "timeout", 0, "Execution timeout (0 uses coordinator.default_timeout_seconds)")

	jobsApplyCmd.Flags().StringVarP(&jobsFile, "file", "f", "", "YAML file of jobs (- for stdin)")
	jobsApplyCmd.Flags().BoolVar(&jobsPrune, "prune", false, "Remove jobs of the file's tenants that the file does not list")
	_ = jobsApplyCmd.MarkFlagRequired("file")

	jobsHistoryCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Number of executions to show")

	JobsCmd.AddCommand(jobsAddCmd, jobsListCmd, jobsShowCmd, jobsRmCmd, jobsApplyCmd, jobsHistoryCmd)
}

// withStore loads config, opens the store and runs fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	return job.WithRepository(cmd.Context(), s, func(job.Repository) error {
		return fn(cmd.Context(), s)
	})
}

// jobID picks the id for a new job: the explicit id, else a slug of the
// name, else empty so the store assigns one.
func jobID(id, name string) string {
	if id != "" {
		return id
	}
	return slug.Make(name)
}

// tenantOrDefault applies DefaultTenant to commands addressing a single job.
func tenantOrDefault() string {
	if jobsTenant == "" {
		return DefaultTenant
	}
	return jobsTenant
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	def, err := jobsSchedule.definition()
	if err != nil {
		return err
	}
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		rec, err := s.CreateJob(ctx, store.Record{
			ID:       jobID(jobsID, jobsName),
			Tenant:   tenantOrDefault(),
			Name:     jobsName,
			Handler:  jobsHandler,
			Payload:  jobsPayload,
			Schedule: def,
			Timeout:  jobsTimeout,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s\n", pterm.Green("✓"), rec.Key())
		return nil
	})
}

func runJobsList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		tenants := []string{jobsListTenant}
		if jobsListTenant == "" {
			var err error
			if tenants, err = s.ListTenants(ctx); err != nil {
				return err
			}
		}

		var records []*store.Record
		for _, tenant := range tenants {
			for offset := 0; ; offset += listPageSize {
				page, err := s.ListRecords(ctx, tenant, offset, listPageSize)
				if err != nil {
					return err
				}
				records = append(records, page...)
				if len(page) < listPageSize {
					break
				}
			}
		}

		keys := make([]job.Key, 0, len(records))
		for _, rec := range records {
			keys = append(keys, rec.Key())
		}
		lastRuns, err := s.GetLastSuccessBatch(ctx, keys)
		if err != nil {
			return err
		}
		return writeJobTable(cmd.OutOrStdout(), records, lastRuns)
	})
}

const listPageSize = 500

// writeJobTable renders one row per job: identity, schedule, last and next run.
func writeJobTable(w io.Writer, records []*store.Record, lastRuns map[job.Key]time.Time) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No jobs")
		return nil
	}

	data := pterm.TableData{{"TENANT", "ID", "NAME", "HANDLER", "SCHEDULE", "LAST RUN", "NEXT RUN"}}
	for _, rec := range records {
		last, ok := lastRuns[rec.Key()]
		lastRun := optional.None[time.Time]()
		lastCell := "-"
		if ok {
			lastRun = optional.Some(last)
			lastCell = last.Format(time.RFC3339)
		}

		schedCell, nextCell := "invalid", "-"
		if sched, err := rec.Schedule.Build(); err == nil {
			schedCell = sched.String()
			if next, ok := sched.NextRun(lastRun).Get(); ok {
				nextCell = next.Format(time.RFC3339)
			}
		}
		data = append(data, []string{rec.Tenant, rec.ID, rec.Name, rec.Handler, schedCell, lastCell, nextCell})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render job table")
	}
	fmt.Fprintln(w, table)
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	key := job.Key{ID: args[0], Tenant: tenantOrDefault()}
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		rec, err := s.GetRecord(ctx, key)
		if err != nil {
			return err
		}
		lastRun, err := s.GetLastRun(ctx, key)
		if err != nil {
			return err
		}
		return writeJobDetail(cmd.OutOrStdout(), rec, lastRun)
	})
}

// writeJobDetail prints the definition as YAML followed by run information.
func writeJobDetail(w io.Writer, rec *store.Record, lastRun optional.Option[time.Time]) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job to YAML")
	}
	fmt.Fprintf(w, "%s", data)
	fmt.Fprintf(w, "etag: %s\ncreated: %s\nupdated: %s\n",
		rec.ETag, rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))

	if last, ok := lastRun.Get(); ok {
		fmt.Fprintf(w, "last run: %s\n", last.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "last run: never")
	}

	sched, err := rec.Schedule.Build()
	if err != nil {
		fmt.Fprintf(w, "schedule: %s\n", pterm.Red(err.Error()))
		return nil
	}
	runs := schedule.Upcoming(sched, lastRun, 5)
	if len(runs) == 0 {
		fmt.Fprintln(w, "upcoming: none")
		return nil
	}
	fmt.Fprintln(w, "upcoming:")
	for _, run := range runs {
		fmt.Fprintf(w, "  - %s\n", run.Format(time.RFC3339))
	}
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	key := job.Key{ID: args[0], Tenant: tenantOrDefault()}
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		if err := s.DeleteJob(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", pterm.Green("✓"), key)
		return nil
	})
}

func runJobsHistory(cmd *cobra.Command, args []string) error {
	key := job.Key{ID: args[0], Tenant: tenantOrDefault()}
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		if _, err := s.GetRecord(ctx, key); err != nil {
			return err
		}
		executions, err := s.ListExecutions(ctx, key, jobsLimit)
		if err != nil {
			return err
		}
		return writeHistory(cmd.OutOrStdout(), executions)
	})
}

func writeHistory(w io.Writer, executions []job.Execution) error {
	if len(executions) == 0 {
		fmt.Fprintln(w, "No executions")
		return nil
	}
	data := pterm.TableData{{"SCHEDULED FOR", "STATE", "STARTED", "DURATION", "DETAIL"}}
	for _, e := range executions {
		duration, detail := "-", e.Result
		if e.Done() {
			duration = e.Duration().Round(time.Millisecond).String()
		}
		state := string(e.State)
		switch e.State {
		case job.StateSucceeded:
			state = pterm.Green(state)
		case job.StateFailed:
			state = pterm.Red(state)
			detail = e.Error
		}
		data = append(data, []string{
			e.ScheduledFor.Format(time.RFC3339), state, e.StartedAt.Format(time.RFC3339), duration, detail,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render history table")
	}
	fmt.Fprintln(w, table)
	return nil
}

// jobFile is the document accepted by jobs apply.
type jobFile struct {
	Jobs []store.Record `yaml:"jobs"`
}

// parseJobFile decodes and checks a jobs document. Unknown fields are rejected.
func parseJobFile(r io.Reader) ([]store.Record, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc jobFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Mark(errors.Wrap(err, "parse jobs file"), errors.ErrInvalidConfiguration)
	}

	seen := make(map[job.Key]bool, len(doc.Jobs))
	for i := range doc.Jobs {
		rec := &doc.Jobs[i]
		if rec.ID == "" {
			return nil, errors.Configurationf("job %d has no id", i+1)
		}
		if rec.Tenant == "" {
			rec.Tenant = DefaultTenant
		}
		if seen[rec.Key()] {
			return nil, errors.Configurationf("job %s is listed twice", rec.Key())
		}
		seen[rec.Key()] = true
	}
	return doc.Jobs, nil
}

// applyResult counts what an apply changed.
type applyResult struct {
	Created, Updated, Unchanged, Removed int
}

// applyJobs creates missing jobs, updates existing ones and, with prune,
// removes jobs of the same tenants that records does not list.
func applyJobs(ctx context.Context, s *store.Store, records []store.Record, prune bool) (applyResult, error) {
	var res applyResult
	wanted := make(map[job.Key]bool, len(records))
	tenants := make(map[string]bool)

	for _, rec := range records {
		wanted[rec.Key()] = true
		tenants[rec.Tenant] = true

		existing, err := s.GetRecord(ctx, rec.Key())
		switch {
		case errors.IsNotFound(err):
			if _, err := s.CreateJob(ctx, rec); err != nil {
				return res, errors.Wrapf(err, "create %s", rec.Key())
			}
			res.Created++
		case err != nil:
			return res, err
		case sameDefinition(existing, rec):
			res.Unchanged++
		default:
			if _, err := s.UpdateJob(ctx, rec); err != nil {
				return res, errors.Wrapf(err, "update %s", rec.Key())
			}
			res.Updated++
		}
	}

	if !prune {
		return res, nil
	}
	names := make([]string, 0, len(tenants))
	for tenant := range tenants {
		names = append(names, tenant)
	}
	sort.Strings(names)
	for _, tenant := range names {
		existing, err := job.AllJobs(ctx, s, tenant, listPageSize)
		if err != nil {
			return res, err
		}
		for _, j := range existing {
			if wanted[j.Key()] {
				continue
			}
			if err := s.DeleteJob(ctx, j.Key()); err != nil {
				return res, errors.Wrapf(err, "remove %s", j.Key())
			}
			res.Removed++
		}
	}
	return res, nil
}

// sameDefinition reports whether applying want over have would change nothing,
// so an unchanged job keeps its ETag and its running scheduler.
func sameDefinition(have *store.Record, want store.Record) bool {
	want.Schedule = want.Schedule.WithDefaultLowerBound(have.CreatedAt)
	a, errA := json.Marshal(have.Schedule)
	b, errB := json.Marshal(want.Schedule)
	if errA != nil || errB != nil || !bytes.Equal(a, b) {
		return false
	}
	return have.Name == want.Name &&
		have.Handler == want.Handler &&
		have.Payload == want.Payload &&
		have.Timeout == want.Timeout
}

func runJobsApply(cmd *cobra.Command, args []string) error {
	in := io.Reader(os.Stdin)
	if jobsFile != "-" {
		f, err := os.Open(jobsFile)
		if err != nil {
			return errors.Wrapf(err, "open %s", jobsFile)
		}
		defer f.Close()
		in = f
	}

	records, err := parseJobFile(in)
	if err != nil {
		return err
	}

	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		res, err := applyJobs(ctx, s, records, jobsPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d created, %d updated, %d unchanged, %d removed\n",
			pterm.Green("✓"), res.Created, res.Updated, res.Unchanged, res.Removed)
		return nil
	})
}
