// Package coordinator keeps one scheduler running per job in a repository.
//
// Every sweep reads the full job set, creates schedulers for new jobs,
// replaces schedulers whose job changed ETag, tears down schedulers whose job
// disappeared, and then offers every scheduler a tick. Nothing is persisted by
// the coordinator itself; a restarted process rebuilds the same state on its
// first sweep.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/clock"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/ownership"
	"github.com/teranos/cadence/pulse/scheduler"
)

// ErrStopped is returned by Sweep after Stop.
var ErrStopped = errors.New("coordinator stopped")

// Config contains coordinator tuning.
type Config struct {
	SweepInterval  time.Duration // How often the job set is reconciled (default: 1 minute)
	DefaultTimeout time.Duration // Execution bound for jobs without their own timeout
	PageSize       int           // Jobs read per repository query
	TickSlop       time.Duration // Added to extra-tick delays so the job is due when the tick lands
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Minute,
		DefaultTimeout: scheduler.DefaultTimeout,
		PageSize:       256,
		TickSlop:       10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.TickSlop <= 0 {
		c.TickSlop = d.TickSlop
	}
	return c
}

// Observer is told the result of every tick a scheduler handles.
type Observer func(key job.Key, res scheduler.Result)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source shared by the coordinator and its schedulers.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithOwner restricts scheduling to the jobs owner claims.
func WithOwner(o ownership.Owner) Option {
	return func(co *Coordinator) { co.owner = o }
}

// WithTenants sets where tenant names come from.
func WithTenants(t job.TenantLister) Option {
	return func(co *Coordinator) { co.tenants = t }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(co *Coordinator) { co.log = logger.ComponentLogger(l, "coordinator") }
}

// WithObserver registers a callback for tick results.
func WithObserver(o Observer) Option {
	return func(co *Coordinator) { co.observer = o }
}

// StaticTenants is a fixed tenant list.
type StaticTenants []string

func (s StaticTenants) ListTenants(context.Context) ([]string, error) { return s, nil }

// Stats summarises coordinator activity.
type Stats struct {
	Sweeps            int64
	FailedSweeps      int64
	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	LastError         string
	Tracked           int
	Created           int64
	Replaced          int64
	Removed           int64
	Succeeded         int64
	Failed            int64
}

// unit is the runner goroutine that feeds ticks to one scheduler.
type unit struct {
	sched *scheduler.Scheduler
	ticks chan struct{}
	stop  chan struct{}

	mu      sync.Mutex
	stopped bool
	extra   clockwork.Timer
}

func (u *unit) retire() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	u.stopped = true
	u.sched.Retire()
	close(u.stop)
	if u.extra != nil {
		u.extra.Stop()
	}
}

func (u *unit) isStopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

// Coordinator owns the live population of schedulers for a repository.
type Coordinator struct {
	repo     job.Repository
	tenants  job.TenantLister
	owner    ownership.Owner
	clock    clock.Clock
	log      *zap.SugaredLogger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfgMu sync.RWMutex
	cfg   Config
	reset chan time.Duration

	sweepMu    sync.Mutex
	failureLog rate.Sometimes

	mu      sync.Mutex
	units   map[job.Key]*unit
	stats   Stats
	stopped bool
	// gen advances on every failed sweep. Extra ticks only fire in the
	// generation that armed them, and only while the last sweep succeeded.
	gen     uint64
	healthy bool
}

// New creates a coordinator over repo. If repo also lists tenants it is used
// as the tenant source unless WithTenants says otherwise.
func New(repo job.Repository, cfg Config, opts ...Option) *Coordinator {
	return NewWithContext(context.Background(), repo, cfg, opts...)
}

// NewWithContext creates a coordinator whose schedulers stop when ctx is cancelled.
func NewWithContext(ctx context.Context, repo job.Repository, cfg Config, opts ...Option) *Coordinator {
	coordCtx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		repo:       repo,
		owner:      ownership.All{},
		log:        logger.ComponentLogger(nil, "coordinator"),
		ctx:        coordCtx,
		cancel:     cancel,
		cfg:        cfg.withDefaults(),
		reset:      make(chan time.Duration, 1),
		failureLog: rate.Sometimes{First: 1, Interval: 5 * time.Minute},
		units:      make(map[job.Key]*unit),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	if c.tenants == nil {
		if lister, ok := repo.(job.TenantLister); ok {
			c.tenants = lister
		} else {
			c.tenants = StaticTenants{""}
		}
	}
	return c
}

// Start begins the sweep loop. The first sweep runs immediately.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
	c.log.Infow("Coordinator started", logger.FieldInterval, c.config().SweepInterval)
}

// Stop ends the sweep loop, cancels in-flight executions and waits for every scheduler to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	units := make([]*unit, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	c.mu.Unlock()

	c.cancel()
	for _, u := range units {
		u.retire()
	}
	c.wg.Wait()
	c.log.Infow("Coordinator stopped")
}

// SetSweepInterval changes the sweep interval of a running loop.
func (c *Coordinator) SetSweepInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.cfgMu.Lock()
	c.cfg.SweepInterval = d
	c.cfgMu.Unlock()

	// Keep only the newest pending value
	for {
		select {
		case c.reset <- d:
			return
		default:
			select {
			case <-c.reset:
			default:
			}
		}
	}
}

// SetDefaultTimeout changes the timeout given to schedulers created from now on.
func (c *Coordinator) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg.DefaultTimeout = d
}

func (c *Coordinator) config() Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	c.sweepAndLog()

	ticker := c.clock.NewTicker(c.config().SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case d := <-c.reset:
			ticker.Reset(d)
			c.log.Infow("Sweep interval changed", logger.FieldInterval, d)
		case <-ticker.Chan():
			c.sweepAndLog()
		}
	}
}

func (c *Coordinator) sweepAndLog() {
	if err := c.Sweep(c.ctx); err != nil && !errors.Is(err, ErrStopped) {
		// An unavailable repository fails every sweep; don't flood the log
		c.failureLog.Do(func() {
			c.log.Warnw("Sweep failed, keeping current schedulers", logger.FieldError, err)
		})
	}
}

// Sweep reconciles the tracked schedulers with the repository and ticks every one of them.
// On error the tracked set is left exactly as it was.
func (c *Coordinator) Sweep(ctx context.Context) error {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	start := c.clock.Now()
	remote, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.stats.Sweeps++
		c.stats.FailedSweeps++
		c.stats.LastSweepAt = start
		c.stats.LastError = err.Error()
		c.gen++
		c.healthy = false
		c.mu.Unlock()
		return err
	}

	created, replaced, removed, err := c.reconcile(remote)
	if err != nil {
		return err
	}
	c.release(ctx, removed)

	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
	c.tickAll()

	duration := c.clock.Since(start)
	c.mu.Lock()
	c.stats.Sweeps++
	c.stats.LastSweepAt = start
	c.stats.LastSweepDuration = duration
	c.stats.LastError = ""
	c.stats.Tracked = len(c.units)
	c.stats.Created += int64(created)
	c.stats.Replaced += int64(replaced)
	c.stats.Removed += int64(len(removed))
	tracked := c.stats.Tracked
	c.mu.Unlock()

	c.log.Debugw("Sweep complete",
		logger.FieldTracked, tracked,
		logger.FieldCreated, created,
		logger.FieldReplaced, replaced,
		logger.FieldRemoved, len(removed),
		logger.FieldDurationMS, duration.Milliseconds(),
	)
	return nil
}

// fetch reads the authoritative set of jobs this node owns.
func (c *Coordinator) fetch(ctx context.Context) (map[job.Key]job.Job, error) {
	tenants, err := c.tenants.ListTenants(ctx)
	if err != nil {
		return nil, errors.Repository(err, "list tenants")
	}

	pageSize := c.config().PageSize
	remote := make(map[job.Key]job.Job)
	for _, tenant := range tenants {
		jobs, err := job.AllJobs(ctx, c.repo, tenant, pageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "tenant %q", tenant)
		}
		for _, j := range jobs {
			key := j.Key()
			owns, err := c.owner.Owns(ctx, key)
			if err != nil {
				return nil, errors.Wrapf(err, "check ownership of %s", key)
			}
			if owns {
				remote[key] = j
			}
		}
	}
	return remote, nil
}

// reconcile applies the remote set and returns the keys it tore down.
func (c *Coordinator) reconcile(remote map[job.Key]job.Job) (created, replaced int, removed []job.Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0, 0, nil, ErrStopped
	}

	timeout := c.config().DefaultTimeout
	for key, j := range remote {
		current, tracked := c.units[key]
		switch {
		case !tracked:
			c.units[key] = c.spawnLocked(j, timeout)
			created++
			c.log.Infow("Scheduling job",
				logger.FieldJobID, key.ID,
				logger.FieldTenant, key.Tenant,
				logger.FieldETag, j.ETag(),
			)
		case current.sched.ETag() != j.ETag():
			// The old scheduler may still be executing; it finishes on its own and is never ticked again
			current.retire()
			c.units[key] = c.spawnLocked(j, timeout)
			replaced++
			c.log.Infow("Job changed, replacing scheduler",
				logger.FieldJobID, key.ID,
				logger.FieldTenant, key.Tenant,
				logger.FieldETag, j.ETag(),
			)
		}
	}

	for key, u := range c.units {
		if _, ok := remote[key]; ok {
			continue
		}
		u.retire()
		delete(c.units, key)
		removed = append(removed, key)
		c.log.Infow("Job gone, scheduler torn down",
			logger.FieldJobID, key.ID,
			logger.FieldTenant, key.Tenant,
		)
	}
	return created, replaced, removed, nil
}

func (c *Coordinator) spawnLocked(j job.Job, timeout time.Duration) *unit {
	u := &unit{
		sched: scheduler.New(j, c.repo, scheduler.Config{
			DefaultTimeout: timeout,
			Clock:          c.clock,
			Logger:         c.log,
		}),
		ticks: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.runUnit(u)
	return u
}

func (c *Coordinator) release(ctx context.Context, keys []job.Key) {
	releaser, ok := c.owner.(ownership.Releaser)
	if !ok {
		return
	}
	for _, key := range keys {
		if err := releaser.Release(ctx, key); err != nil {
			c.log.Warnw("Cannot release job",
				logger.FieldJobID, key.ID,
				logger.FieldTenant, key.Tenant,
				logger.FieldError, err,
			)
		}
	}
}

// runUnit delivers ticks to one scheduler, one at a time, in arrival order.
func (c *Coordinator) runUnit(u *unit) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-u.stop:
			return
		case <-u.ticks:
			res := u.sched.Tick(c.ctx)
			c.report(u, res)
		}
	}
}

func (c *Coordinator) tickAll() {
	c.mu.Lock()
	units := make([]*unit, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	c.mu.Unlock()

	for _, u := range units {
		c.offer(u)
	}
}

// offer hands u a tick unless it is executing or already has one pending.
func (c *Coordinator) offer(u *unit) {
	if c.ctx.Err() != nil || u.isStopped() {
		return
	}
	if u.sched.Executing() {
		c.observe(u.sched.Key(), scheduler.Result{Outcome: scheduler.Busy})
		return
	}
	select {
	case u.ticks <- struct{}{}:
	default:
	}
}

func (c *Coordinator) report(u *unit, res scheduler.Result) {
	switch res.Outcome {
	case scheduler.Succeeded:
		c.mu.Lock()
		c.stats.Succeeded++
		c.mu.Unlock()
	case scheduler.Failed:
		c.mu.Lock()
		c.stats.Failed++
		c.mu.Unlock()
	}
	c.scheduleExtraTick(u, res)
	c.observe(u.sched.Key(), res)
}

// scheduleExtraTick wakes u at its next run when that falls before the next sweep.
// Nothing is armed while sweeps are failing: ownership and the job set cannot
// be confirmed, so the job waits for the next successful sweep.
func (c *Coordinator) scheduleExtraTick(u *unit, res scheduler.Result) {
	next, ok := res.Next.Get()
	if !ok {
		return
	}
	gen, healthy := c.generation()
	if !healthy {
		return
	}
	cfg := c.config()
	delay := next.Sub(c.clock.Now()) + cfg.TickSlop
	if delay < 0 {
		delay = 0
	}
	if delay >= cfg.SweepInterval {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	if u.extra != nil {
		u.extra.Stop()
	}
	u.extra = c.clock.AfterFunc(delay, func() {
		if cur, healthy := c.generation(); !healthy || cur != gen {
			c.log.Debugw("Extra tick dropped after failed sweep",
				logger.FieldJobID, u.sched.Key().ID,
				logger.FieldTenant, u.sched.Key().Tenant,
			)
			return
		}
		c.offer(u)
	})
}

func (c *Coordinator) generation() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, c.healthy
}

func (c *Coordinator) observe(key job.Key, res scheduler.Result) {
	if c.observer != nil {
		c.observer(key, res)
	}
}

// Tracked returns the keys of every live scheduler, sorted.
func (c *Coordinator) Tracked() []job.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]job.Key, 0, len(c.units))
	for k := range c.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Tenant != keys[j].Tenant {
			return keys[i].Tenant < keys[j].Tenant
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// Scheduler returns the live scheduler for key, if tracked.
func (c *Coordinator) Scheduler(key job.Key) (*scheduler.Scheduler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[key]
	if !ok {
		return nil, false
	}
	return u.sched, true
}

// Stats returns a snapshot of coordinator activity.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
