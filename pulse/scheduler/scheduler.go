// Package scheduler runs one job on demand.
//
// A Scheduler has no timer of its own. Each Tick asks it whether its job is
// due; if so it executes the job once under the job's timeout and records the
// outcome. Ticks that arrive while an execution is in flight are dropped.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/types/optional"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/clock"
	"github.com/teranos/cadence/pulse/job"
)

// DefaultTimeout applies to jobs that declare no timeout of their own.
const DefaultTimeout = 5 * time.Minute

// Outcome is what a single Tick did.
type Outcome int

const (
	// NotDue means nothing ran: no next run exists or it is still in the future.
	NotDue Outcome = iota
	// Busy means an execution was already in flight and the tick was dropped.
	Busy
	// Retired means the scheduler was torn down and ignores ticks.
	Retired
	// Unavailable means the repository failed before anything ran.
	Unavailable
	// Succeeded means the job ran and the scheduled instant was recorded as the last run.
	Succeeded
	// Failed means the job ran and failed, timed out, panicked, or its success could not be recorded.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NotDue:
		return "not_due"
	case Busy:
		return "busy"
	case Retired:
		return "retired"
	case Unavailable:
		return "unavailable"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports one Tick.
type Result struct {
	Outcome Outcome
	// Scheduled is the instant considered this tick, zero when there was none.
	Scheduled time.Time
	// Next is the instant the job will next be due if nothing changes.
	// It is absent after failures, which are retried on the next regular tick.
	Next optional.Option[time.Time]
	Err  error
}

// Config carries a scheduler's collaborators.
type Config struct {
	// DefaultTimeout is used when the job's own timeout is zero.
	DefaultTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.SugaredLogger
}

// Scheduler drives one version of one job.
type Scheduler struct {
	job            job.Job
	key            job.Key
	etag           string
	repo           job.Repository
	clock          clock.Clock
	log            *zap.SugaredLogger
	defaultTimeout time.Duration

	executing atomic.Bool
	retired   atomic.Bool

	mu        sync.Mutex
	lastKnown optional.Option[time.Time]
}

// New creates a scheduler for j, reading and recording runs through repo.
func New(j job.Job, repo job.Repository, cfg Config) *Scheduler {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Logger
	}
	key := j.Key()
	return &Scheduler{
		job:            j,
		key:            key,
		etag:           j.ETag(),
		repo:           repo,
		clock:          clock.OrReal(cfg.Clock),
		log:            logger.ChildLogger(log, logger.FieldJobID, key.ID, logger.FieldTenant, key.Tenant),
		defaultTimeout: timeout,
	}
}

// Key identifies the scheduled job.
func (s *Scheduler) Key() job.Key { return s.key }

// ETag is the job version this scheduler was created for.
func (s *Scheduler) ETag() string { return s.etag }

// Executing reports whether an execution is in flight.
func (s *Scheduler) Executing() bool { return s.executing.Load() }

// Retire makes every later Tick a no-op. An in-flight execution still completes and records its outcome.
func (s *Scheduler) Retire() { s.retired.Store(true) }

// Timeout is the bound applied to each execution.
func (s *Scheduler) Timeout() time.Duration {
	if t := s.job.Timeout(); t > 0 {
		return t
	}
	return s.defaultTimeout
}

// Tick runs the job if it is due. It blocks until the execution resolves.
func (s *Scheduler) Tick(ctx context.Context) (res Result) {
	if s.retired.Load() {
		return Result{Outcome: Retired}
	}
	if !s.executing.CompareAndSwap(false, true) {
		s.log.Debugw("Tick dropped, execution in flight")
		return Result{Outcome: Busy}
	}
	defer s.executing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err := errors.Mark(errors.Newf("scheduler panicked: %v", r), errors.ErrExecutionFailed)
			s.log.Errorw("Recovered panic during tick", logger.FieldError, err)
			res = Result{Outcome: Failed, Scheduled: res.Scheduled, Err: err}
		}
	}()

	lastRun, err := s.lastRun(ctx)
	if err != nil {
		s.log.Warnw("Cannot read last run", logger.FieldError, err)
		return Result{Outcome: Unavailable, Err: err}
	}

	nextRun := s.job.Schedule().NextRun(lastRun)
	next, ok := nextRun.Get()
	if !ok {
		s.log.Debugw("Schedule exhausted")
		return Result{Outcome: NotDue}
	}
	if next.After(s.clock.Now()) {
		s.log.Debugw("Not due", logger.FieldNextRun, next)
		return Result{Outcome: NotDue, Next: nextRun}
	}

	return s.execute(ctx, next)
}

// lastRun reads the repository's last run, never returning an instant earlier than one already seen.
func (s *Scheduler) lastRun(ctx context.Context) (optional.Option[time.Time], error) {
	stored, err := s.repo.GetLastRun(ctx, s.key)
	if err != nil {
		return optional.None[time.Time](), errors.Repository(err, "read last run")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(stored)
	return s.lastKnown, nil
}

func (s *Scheduler) advance(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(optional.Some(t))
}

func (s *Scheduler) advanceLocked(candidate optional.Option[time.Time]) {
	t, ok := candidate.Get()
	if !ok {
		return
	}
	if known, had := s.lastKnown.Get(); !had || t.After(known) {
		s.lastKnown = candidate
	}
}

func (s *Scheduler) execute(ctx context.Context, scheduled time.Time) Result {
	log := s.log.With(logger.FieldScheduledFor, scheduled)
	// Outcome writes must land even when ctx is cancelled by shutdown
	recordCtx := context.WithoutCancel(ctx)

	startedAt := s.clock.Now()
	if err := s.repo.JobStarted(ctx, s.key, scheduled, startedAt); err != nil {
		err = errors.Repository(err, "record execution start")
		log.Warnw("Cannot record execution start, skipping run", logger.FieldError, err)
		return Result{Outcome: Unavailable, Scheduled: scheduled, Err: err}
	}

	timeout := s.Timeout()
	log.Infow("Executing job", logger.FieldTimeout, timeout)

	result, err := s.run(ctx, scheduled, timeout)
	completedAt := s.clock.Now()
	durationMS := completedAt.Sub(startedAt).Milliseconds()

	if err != nil {
		if recErr := s.repo.JobFailed(recordCtx, s.key, scheduled, completedAt, err); recErr != nil {
			log.Errorw("Cannot record execution failure", logger.FieldError, recErr)
		}
		log.Warnw("Job execution failed",
			logger.FieldError, err,
			logger.FieldDurationMS, durationMS,
		)
		return Result{Outcome: Failed, Scheduled: scheduled, Err: err}
	}

	if err := s.repo.JobSucceeded(recordCtx, s.key, scheduled, completedAt, result); err != nil {
		err = errors.Repository(err, "record execution success")
		log.Errorw("Job succeeded but its run could not be recorded", logger.FieldError, err)
		return Result{Outcome: Failed, Scheduled: scheduled, Err: err}
	}
	s.advance(scheduled)

	log.Infow("Job execution succeeded", logger.FieldDurationMS, durationMS)
	return Result{
		Outcome:   Succeeded,
		Scheduled: scheduled,
		Next:      s.job.Schedule().NextRun(optional.Some(scheduled)),
	}
}

type execution struct {
	result string
	err    error
}

// run executes the job body and waits for it, the timeout, or ctx, whichever comes first.
// The body keeps running after a timeout unless it honours its context.
func (s *Scheduler) run(ctx context.Context, scheduled time.Time, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan execution, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execution{err: errors.Mark(errors.Newf("job panicked: %v", r), errors.ErrExecutionFailed)}
			}
		}()
		result, err := s.job.Execute(runCtx, scheduled)
		if err != nil {
			err = errors.Mark(errors.Wrap(err, "execute job"), errors.ErrExecutionFailed)
		}
		done <- execution{result: result, err: err}
	}()

	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-done:
		return e.result, e.err
	case <-timer.Chan():
		return "", errors.Mark(errors.Newf("job did not finish within %s", timeout), errors.ErrExecutionTimeout)
	case <-ctx.Done():
		return "", errors.Mark(errors.Wrap(ctx.Err(), "execution abandoned"), errors.ErrExecutionFailed)
	}
}
