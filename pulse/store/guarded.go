package store

import (
	"context"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/job"
)

// BreakerConfig controls when a Guarded repository stops calling through.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker
	Failures uint32
	// Cooldown is how long the breaker stays open before a trial call
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Cooldown: 30 * time.Second}
}

// Guarded wraps a repository in a circuit breaker so a failing store is
// not hammered by every scheduler tick. Open-breaker rejections surface as
// repository errors, which callers already treat as transient.
type Guarded struct {
	inner job.Repository
	cb    *gobreaker.CircuitBreaker
}

var (
	_ job.Repository   = (*Guarded)(nil)
	_ job.TenantLister = (*Guarded)(nil)
)

// NewGuarded wraps inner. A zero field in cfg takes its default.
func NewGuarded(inner job.Repository, cfg BreakerConfig, log *zap.SugaredLogger) *Guarded {
	def := DefaultBreakerConfig()
	if cfg.Failures == 0 {
		cfg.Failures = def.Failures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	log = logger.ComponentLogger(log, "breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "job-repository",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Repository breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A missing job is an answer, not a store failure.
		IsSuccessful: func(err error) bool {
			// A database closed by shutdown says nothing about the store's health
			return err == nil || errors.IsNotFound(err) || errors.IsConfiguration(err) ||
				errors.Is(err, db.ErrDatabaseClosed)
		},
	})
	return &Guarded{inner: inner, cb: cb}
}

// State reports the breaker state, for status output.
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func guard[T any](g *Guarded, op string, fn func() (T, error)) (T, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Repository(err, op)
		}
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func guardErr(g *Guarded, op string, fn func() error) error {
	_, err := guard(g, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Open and Close bypass the breaker so lifecycle calls always reach the store.
func (g *Guarded) Open(ctx context.Context) error  { return g.inner.Open(ctx) }
func (g *Guarded) Close(ctx context.Context) error { return g.inner.Close(ctx) }

func (g *Guarded) GetJob(ctx context.Context, key job.Key) (job.Job, error) {
	return guard(g, "get job", func() (job.Job, error) {
		return g.inner.GetJob(ctx, key)
	})
}

func (g *Guarded) QueryJobs(ctx context.Context, tenant string, offset, limit int) ([]job.Job, error) {
	return guard(g, "query jobs", func() ([]job.Job, error) {
		return g.inner.QueryJobs(ctx, tenant, offset, limit)
	})
}

func (g *Guarded) GetLastRun(ctx context.Context, key job.Key) (optional.Option[time.Time], error) {
	return guard(g, "read last run", func() (optional.Option[time.Time], error) {
		return g.inner.GetLastRun(ctx, key)
	})
}

func (g *Guarded) JobStarted(ctx context.Context, key job.Key, scheduled, startedAt time.Time) error {
	return guardErr(g, "record job start", func() error {
		return g.inner.JobStarted(ctx, key, scheduled, startedAt)
	})
}

func (g *Guarded) JobSucceeded(ctx context.Context, key job.Key, scheduled, completedAt time.Time, result string) error {
	return guardErr(g, "record job success", func() error {
		return g.inner.JobSucceeded(ctx, key, scheduled, completedAt, result)
	})
}

func (g *Guarded) JobFailed(ctx context.Context, key job.Key, scheduled, completedAt time.Time, cause error) error {
	return guardErr(g, "record job failure", func() error {
		return g.inner.JobFailed(ctx, key, scheduled, completedAt, cause)
	})
}

// ListTenants passes through the breaker when the inner repository can list tenants.
func (g *Guarded) ListTenants(ctx context.Context) ([]string, error) {
	lister, ok := g.inner.(job.TenantLister)
	if !ok {
		return nil, errors.Newf("%T cannot list tenants", g.inner)
	}
	return guard(g, "list tenants", func() ([]string, error) {
		return lister.ListTenants(ctx)
	})
}
