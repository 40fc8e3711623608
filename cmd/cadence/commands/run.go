package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/coordinator"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/ownership"
	"github.com/teranos/cadence/pulse/store"
)

// lockNamespace separates cadence's advisory locks from other users of the database
const lockNamespace = "cadence"

// shutdownTimeout bounds lock release on the way out
const shutdownTimeout = 10 * time.Second

// RunCmd runs the coordinator in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator until interrupted",
	Long: `Run the coordinator in the foreground.

The coordinator will:
- Sweep the job store every coordinator.sweep_interval_seconds
- Keep one scheduler per owned job and tick it on every sweep
- Wake a job between sweeps when its next run falls before the next sweep
- Apply sweep interval and default timeout changes from the config file live
- Run until interrupted (Ctrl+C), cancelling in-flight executions`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if cfg.Log.JSON && !cmd.Flags().Changed("json-logs") {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(true, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}
	log := logger.ComponentLogger(logger.Logger, "run")

	database, jobStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := store.NewGuarded(jobStore, store.BreakerConfig{
		Failures: uint32(cfg.Store.BreakerFailures),
		Cooldown: cfg.Store.BreakerCooldown(),
	}, logger.Logger)

	opts := []coordinator.Option{coordinator.WithLogger(logger.Logger)}
	var locks *ownership.AdvisoryLock
	if cfg.Cluster.Ownership == am.OwnershipPostgres {
		// Advisory locks live and die with one session, so a lost session is replaced by a new one
		dial := func(ctx context.Context) (ownership.Querier, error) {
			conn, err := pgx.Connect(ctx, cfg.Cluster.PostgresURL)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
		conn, err := dial(ctx)
		if err != nil {
			return errors.WithHint(
				errors.Wrap(err, "failed to connect to postgres for job ownership"),
				"check cluster.postgres_url, or set cluster.ownership = \"all\" on a single node")
		}
		locks = ownership.NewAdvisoryLock(conn, lockNamespace, logger.Logger).WithDialer(dial)
		opts = append(opts, coordinator.WithOwner(locks))
	}

	out := cmd.OutOrStdout()
	stats, err := serve(ctx, out, repo, coordinator.Config{
		SweepInterval:  cfg.Coordinator.SweepInterval(),
		DefaultTimeout: cfg.Coordinator.DefaultTimeout(),
		PageSize:       cfg.Coordinator.PageSize,
		TickSlop:       cfg.Coordinator.TickSlop(),
	}, cfg.Cluster.Ownership, log, opts...)

	if locks != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if relErr := locks.ReleaseAll(releaseCtx); relErr != nil {
			log.Warnw("Failed to release job locks", logger.FieldError, relErr)
		}
		if closeErr := locks.Close(releaseCtx); closeErr != nil {
			log.Debugw("Failed to close ownership session", logger.FieldError, closeErr)
		}
		cancel()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Stopped after %d sweeps (%d failed), %d succeeded, %d failed executions\n",
		stats.Sweeps, stats.FailedSweeps, stats.Succeeded, stats.Failed)
	return nil
}

// serve runs a coordinator over repo until ctx is done. The repository is
// opened first and closed after the coordinator has stopped.
func serve(ctx context.Context, out io.Writer, repo job.Repository, cfg coordinator.Config,
	ownershipMode string, log *zap.SugaredLogger, opts ...coordinator.Option) (coordinator.Stats, error) {
	var stats coordinator.Stats
	err := job.WithRepository(ctx, repo, func(repo job.Repository) error {
		coord := coordinator.NewWithContext(ctx, repo, cfg, opts...)
		coord.Start()

		watcher := watchConfig(coord, log)

		fmt.Fprintf(out, "cadence running (ownership %s, sweep every %s)\n", ownershipMode, cfg.SweepInterval)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		<-ctx.Done()
		fmt.Fprintln(out, "\nShutting down...")

		// Stop components in reverse order of startup
		if watcher != nil {
			_ = watcher.Stop()
		}
		coord.Stop()
		stats = coord.Stats()
		return nil
	})
	return stats, err
}

// watchConfig applies live-reloadable settings to coord when the highest
// precedence config file changes. It returns nil when there is no file to watch.
func watchConfig(coord *coordinator.Coordinator, log *zap.SugaredLogger) *am.ConfigWatcher {
	files := am.ConfigFilesUsed()
	if len(files) == 0 {
		log.Debugw("No config file to watch")
		return nil
	}
	path := files[len(files)-1]

	watcher, err := am.NewConfigWatcher(path, logger.Logger)
	if err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldPath, path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		coord.SetSweepInterval(cfg.Coordinator.SweepInterval())
		coord.SetDefaultTimeout(cfg.Coordinator.DefaultTimeout())
		log.Infow("Applied reloaded configuration",
			logger.FieldInterval, cfg.Coordinator.SweepInterval(),
			logger.FieldTimeout, cfg.Coordinator.DefaultTimeout())
		return nil
	})
	watcher.Start()
	return watcher
}
