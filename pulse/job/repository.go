package job

import (
	"context"
	"time"

	"github.com/alecthomas/types/optional"

	"github.com/teranos/cadence/errors"
)

// Repository is the scheduling engine's view of a job store.
//
// Errors other than ErrNotFound are treated as transient: callers log them and
// retry on the next cycle. Implementations are expected to serialise
// conflicting writes themselves.
type Repository interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// GetJob returns errors.ErrNotFound when the job does not exist.
	GetJob(ctx context.Context, key Key) (Job, error)
	// QueryJobs pages through a tenant's jobs in a stable order.
	QueryJobs(ctx context.Context, tenant string, offset, limit int) ([]Job, error)

	// GetLastRun returns the latest scheduled instant that succeeded, if any.
	GetLastRun(ctx context.Context, key Key) (optional.Option[time.Time], error)

	JobStarted(ctx context.Context, key Key, scheduled time.Time, startedAt time.Time) error
	// JobSucceeded records success and advances the last run to scheduled.
	// It never moves the last run backwards.
	JobSucceeded(ctx context.Context, key Key, scheduled time.Time, completedAt time.Time, result string) error
	JobFailed(ctx context.Context, key Key, scheduled time.Time, completedAt time.Time, cause error) error
}

// TenantLister lists the tenants whose jobs a coordinator sweeps.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// BatchLastRunReader reads last runs for many jobs in one call.
type BatchLastRunReader interface {
	GetLastSuccessBatch(ctx context.Context, keys []Key) (map[Key]time.Time, error)
}

// WithRepository opens repo, runs fn, and closes repo on every exit path.
// A close failure is reported only when fn succeeded.
func WithRepository(ctx context.Context, repo Repository, fn func(Repository) error) (err error) {
	if err := repo.Open(ctx); err != nil {
		return errors.Repository(err, "open repository")
	}
	defer func() {
		if r := recover(); r != nil {
			_ = repo.Close(ctx)
			panic(r)
		}
		if closeErr := repo.Close(ctx); closeErr != nil && err == nil {
			err = errors.Repository(closeErr, "close repository")
		}
	}()
	return fn(repo)
}

// AllJobs pages through every job of tenant, pageSize at a time.
// The first error aborts the walk.
func AllJobs(ctx context.Context, repo Repository, tenant string, pageSize int) ([]Job, error) {
	if pageSize < 1 {
		return nil, errors.Configurationf("page size %d must be positive", pageSize)
	}
	var jobs []Job
	for offset := 0; ; offset += pageSize {
		page, err := repo.QueryJobs(ctx, tenant, offset, pageSize)
		if err != nil {
			return nil, errors.Repository(err, "query jobs")
		}
		jobs = append(jobs, page...)
		if len(page) < pageSize {
			return jobs, nil
		}
	}
}
