// Package jobtest provides an in-memory Repository and function-backed jobs
// for exercising schedulers and coordinators without a database.
package jobtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/types/optional"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/schedule"
)

// Func is a Job whose body is a function.
type Func struct {
	JobKey job.Key
	Sched  schedule.Schedule
	Limit  time.Duration
	Tag    string
	Run    func(ctx context.Context, scheduled time.Time) (string, error)
}

func (f *Func) Key() job.Key                { return f.JobKey }
func (f *Func) Schedule() schedule.Schedule { return f.Sched }
func (f *Func) Timeout() time.Duration      { return f.Limit }
func (f *Func) ETag() string                { return f.Tag }

func (f *Func) Execute(ctx context.Context, scheduled time.Time) (string, error) {
	if f.Run == nil {
		return "", nil
	}
	return f.Run(ctx, scheduled)
}

// Repository is a goroutine-safe in-memory job.Repository and job.TenantLister.
type Repository struct {
	mu         sync.Mutex
	jobs       map[job.Key]job.Job
	order      []job.Key
	lastRuns   map[job.Key]time.Time
	executions []job.Execution

	// Injected failures, returned until cleared
	queryErr   error
	lastRunErr error
	startedErr error
	successErr error

	opens  int
	closes int
}

var _ job.Repository = (*Repository)(nil)
var _ job.TenantLister = (*Repository)(nil)

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		jobs:     make(map[job.Key]job.Job),
		lastRuns: make(map[job.Key]time.Time),
	}
}

// Put adds or replaces a job.
func (r *Repository) Put(j job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.Key()]; !ok {
		r.order = append(r.order, j.Key())
	}
	r.jobs[j.Key()] = j
}

// Remove deletes a job.
func (r *Repository) Remove(key job.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetLastRun seeds the last successful run of a job.
func (r *Repository) SetLastRun(key job.Key, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRuns[key] = t
}

// SetQueryErr makes QueryJobs and ListTenants fail with err until cleared with nil.
func (r *Repository) SetQueryErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryErr = err
}

// SetLastRunErr makes GetLastRun fail with err until cleared with nil.
func (r *Repository) SetLastRunErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRunErr = err
}

// SetStartedErr makes JobStarted fail with err until cleared with nil.
func (r *Repository) SetStartedErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedErr = err
}

// SetSuccessErr makes JobSucceeded fail with err until cleared with nil.
func (r *Repository) SetSuccessErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successErr = err
}

// Executions returns a copy of every recorded execution state change.
func (r *Repository) Executions() []job.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.Execution(nil), r.executions...)
}

// LastRun returns the stored last run without error injection.
func (r *Repository) LastRun(key job.Key) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastRuns[key]
	return t, ok
}

// Brackets reports how many times the repository was opened and closed.
func (r *Repository) Brackets() (opens, closes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens, r.closes
}

func (r *Repository) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	return nil
}

func (r *Repository) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *Repository) ListTenants(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	seen := make(map[string]bool)
	var tenants []string
	for _, k := range r.order {
		if !seen[k.Tenant] {
			seen[k.Tenant] = true
			tenants = append(tenants, k.Tenant)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (r *Repository) GetJob(_ context.Context, key job.Key) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", key)
	}
	return j, nil
}

func (r *Repository) QueryJobs(_ context.Context, tenant string, offset, limit int) ([]job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	var all []job.Job
	for _, k := range r.order {
		if k.Tenant == tenant {
			all = append(all, r.jobs[k])
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *Repository) GetLastRun(_ context.Context, key job.Key) (optional.Option[time.Time], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRunErr != nil {
		return optional.None[time.Time](), r.lastRunErr
	}
	t, ok := r.lastRuns[key]
	if !ok {
		return optional.None[time.Time](), nil
	}
	return optional.Some(t), nil
}

func (r *Repository) JobStarted(_ context.Context, key job.Key, scheduled, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedErr != nil {
		return r.startedErr
	}
	r.executions = append(r.executions, job.Execution{
		Key: key, ScheduledFor: scheduled, State: job.StateStarted, StartedAt: startedAt,
	})
	return nil
}

func (r *Repository) JobSucceeded(_ context.Context, key job.Key, scheduled, completedAt time.Time, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.successErr != nil {
		return r.successErr
	}
	if last, ok := r.lastRuns[key]; !ok || scheduled.After(last) {
		r.lastRuns[key] = scheduled
	}
	r.executions = append(r.executions, job.Execution{
		Key: key, ScheduledFor: scheduled, State: job.StateSucceeded, CompletedAt: &completedAt, Result: result,
	})
	return nil
}

func (r *Repository) JobFailed(_ context.Context, key job.Key, scheduled, completedAt time.Time, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	r.executions = append(r.executions, job.Execution{
		Key: key, ScheduledFor: scheduled, State: job.StateFailed, CompletedAt: &completedAt, Error: msg,
	})
	return nil
}
