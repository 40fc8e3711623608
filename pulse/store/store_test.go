package store

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	dbtest "github.com/teranos/cadence/internal/testing"
	"github.com/teranos/cadence/pulse/clock"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/schedule"
)

var t0 = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, clock.Fake, *HandlerRegistry) {
	t.Helper()
	clk := clock.NewFake(t0)
	handlers := NewHandlerRegistry()
	RegisterBuiltins(handlers, zaptest.NewLogger(t).Sugar())
	s := NewStore(dbtest.CreateTestDB(t), handlers, clk, zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.Open(context.Background()))
	return s, clk, handlers
}

func hourlyRecord(id, tenant string) Record {
	return Record{
		ID:       id,
		Tenant:   tenant,
		Name:     "hourly " + id,
		Handler:  "noop",
		Schedule: schedule.Definition{Kind: schedule.KindPeriodic, Period: "hour"},
		Timeout:  30 * time.Second,
	}
}

func TestCreateJob_AssignsIdentityAndDefaults(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateJob(ctx, Record{
		Tenant:   "acme",
		Handler:  "log",
		Payload:  "hello",
		Schedule: schedule.Definition{Kind: schedule.KindPeriodic, Period: "day", Offset: "2h"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.ETag)
	assert.Equal(t, t0, rec.CreatedAt)
	require.NotNil(t, rec.Schedule.RunAtAndAfter, "lower bound defaults to creation time")
	assert.True(t, rec.Schedule.RunAtAndAfter.Equal(t0))

	got, err := s.GetRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, rec.ETag, got.ETag)
	assert.Equal(t, "hello", got.Payload)
	assert.Equal(t, "2h", got.Schedule.Offset)

	j, err := s.GetJob(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, optional.Some(t0.Add(2*time.Hour)), j.Schedule().NextRun(optional.None[time.Time]()))
}

func TestCreateJob_Rejections(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, hourlyRecord("a", "acme"))
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, hourlyRecord("a", "acme"))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	rec := hourlyRecord("b", "acme")
	rec.Handler = "missing"
	_, err = s.CreateJob(ctx, rec)
	assert.True(t, errors.IsConfiguration(err))

	rec = hourlyRecord("c", "acme")
	rec.Schedule.Period = "fortnight"
	_, err = s.CreateJob(ctx, rec)
	assert.True(t, errors.IsConfiguration(err))

	rec = hourlyRecord("d", "acme")
	rec.Timeout = -time.Second
	_, err = s.CreateJob(ctx, rec)
	assert.True(t, errors.IsConfiguration(err))

	// Same id under another tenant is a different job
	_, err = s.CreateJob(ctx, hourlyRecord("a", "globex"))
	assert.NoError(t, err)
}

func TestUpdateJob_ChangesETagKeepsHistory(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateJob(ctx, hourlyRecord("a", "acme"))
	require.NoError(t, err)
	require.NoError(t, s.JobSucceeded(ctx, rec.Key(), t0, t0, "ok"))

	clk.Advance(time.Minute)
	changed := *rec
	changed.Handler = "log"
	updated, err := s.UpdateJob(ctx, changed)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ETag, updated.ETag)
	assert.Equal(t, rec.CreatedAt, updated.CreatedAt)
	assert.Equal(t, t0.Add(time.Minute), updated.UpdatedAt)

	last, err := s.GetLastRun(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, optional.Some(t0), last)

	_, err = s.UpdateJob(ctx, hourlyRecord("ghost", "acme"))
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteJob_RemovesHistory(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateJob(ctx, hourlyRecord("a", "acme"))
	require.NoError(t, err)
	require.NoError(t, s.JobStarted(ctx, rec.Key(), t0, t0))
	require.NoError(t, s.JobSucceeded(ctx, rec.Key(), t0, t0, "ok"))

	require.NoError(t, s.DeleteJob(ctx, rec.Key()))

	_, err = s.GetJob(ctx, rec.Key())
	assert.True(t, errors.IsNotFound(err))
	last, err := s.GetLastRun(ctx, rec.Key())
	require.NoError(t, err)
	assert.False(t, last.Ok())
	execs, err := s.ListExecutions(ctx, rec.Key(), 10)
	require.NoError(t, err)
	assert.Empty(t, execs)

	assert.True(t, errors.IsNotFound(s.DeleteJob(ctx, rec.Key())))
}

func TestQueryJobs_PagesInCreationOrder(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()

	ids := []string{"c", "a", "e", "b", "d"}
	for _, id := range ids {
		_, err := s.CreateJob(ctx, hourlyRecord(id, "acme"))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	_, err := s.CreateJob(ctx, hourlyRecord("z", "globex"))
	require.NoError(t, err)

	all, err := job.AllJobs(ctx, s, "acme", 2)
	require.NoError(t, err)
	var got []string
	for _, j := range all {
		got = append(got, j.Key().ID)
	}
	assert.Equal(t, ids, got)

	page, err := s.QueryJobs(ctx, "acme", 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].Key().ID)

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)
}

func TestQueryJobs_CorruptScheduleNeverRuns(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, hourlyRecord("a", "acme"))
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE scheduled_jobs SET schedule = ? WHERE id = 'a'`,
		`{"kind":"periodic","period":"fortnight"}`)
	require.NoError(t, err)

	jobs, err := s.QueryJobs(ctx, "acme", 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, schedule.Never{}, jobs[0].Schedule())
}

func TestJobSucceeded_LastRunOnlyMovesForward(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	key := job.Key{ID: "a", Tenant: "acme"}

	last, err := s.GetLastRun(ctx, key)
	require.NoError(t, err)
	assert.False(t, last.Ok())

	later := t0.Add(2 * time.Hour)
	require.NoError(t, s.JobSucceeded(ctx, key, later, later, ""))
	require.NoError(t, s.JobSucceeded(ctx, key, t0, later, ""))

	last, err = s.GetLastRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, optional.Some(later), last)

	require.NoError(t, s.JobFailed(ctx, key, later.Add(time.Hour), later.Add(time.Hour), errors.New("boom")))
	last, err = s.GetLastRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, optional.Some(later), last, "failure leaves the last run alone")
}

func TestExecutions_Lifecycle(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	key := job.Key{ID: "a", Tenant: "acme"}
	first, second := t0, t0.Add(time.Hour)

	require.NoError(t, s.JobStarted(ctx, key, first, first.Add(time.Second)))
	require.NoError(t, s.JobSucceeded(ctx, key, first, first.Add(3*time.Second), "done"))
	require.NoError(t, s.JobStarted(ctx, key, second, second))

	execs, err := s.ListExecutions(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)

	assert.Equal(t, second, execs[0].ScheduledFor)
	assert.Equal(t, job.StateStarted, execs[0].State)
	assert.False(t, execs[0].Done())
	assert.Nil(t, execs[0].CompletedAt)

	assert.Equal(t, first, execs[1].ScheduledFor)
	assert.Equal(t, job.StateSucceeded, execs[1].State)
	assert.Equal(t, "done", execs[1].Result)
	assert.Equal(t, 2*time.Second, execs[1].Duration())

	// Retrying the same instant reuses the row
	require.NoError(t, s.JobFailed(ctx, key, second, second.Add(time.Second), errors.New("boom")))
	require.NoError(t, s.JobStarted(ctx, key, second, second.Add(time.Minute)))
	execs, err = s.ListExecutions(ctx, key, 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, job.StateStarted, execs[0].State)
	assert.Empty(t, execs[0].Error)

	require.NoError(t, s.JobFailed(ctx, key, second, second.Add(2*time.Minute), errors.New("boom")))
	execs, err = s.ListExecutions(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, execs[0].State)
	assert.Equal(t, "boom", execs[0].Error)
}

func TestGetLastSuccessBatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	a := job.Key{ID: "a", Tenant: "acme"}
	b := job.Key{ID: "b", Tenant: "acme"}
	c := job.Key{ID: "a", Tenant: "globex"}

	require.NoError(t, s.JobSucceeded(ctx, a, t0, t0, ""))
	require.NoError(t, s.JobSucceeded(ctx, c, t0.Add(time.Hour), t0, ""))

	got, err := s.GetLastSuccessBatch(ctx, []job.Key{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, map[job.Key]time.Time{a: t0, c: t0.Add(time.Hour)}, got)

	got, err = s.GetLastSuccessBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoredJob_ExecutesHandler(t *testing.T) {
	s, _, handlers := newTestStore(t)
	ctx := context.Background()

	var got Invocation
	handlers.Register("capture", func(_ context.Context, inv Invocation) (string, error) {
		got = inv
		return "captured", nil
	})

	rec := hourlyRecord("a", "acme")
	rec.Handler = "capture"
	rec.Payload = `{"report":"daily"}`
	_, err := s.CreateJob(ctx, rec)
	require.NoError(t, err)

	j, err := s.GetJob(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, j.Timeout())

	result, err := j.Execute(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, "captured", result)
	assert.Equal(t, rec.Key(), got.Key)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, t0, got.ScheduledFor)
}

func TestStoredJob_UnknownHandlerFails(t *testing.T) {
	j := &storedJob{
		record:   hourlyRecord("a", "acme"),
		schedule: schedule.Never{},
		handlers: NewHandlerRegistry(),
	}
	_, err := j.Execute(context.Background(), t0)
	assert.True(t, errors.IsNotFound(err))
}

func TestClosedDatabase_IsMarked(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	s := NewStore(conn, NewHandlerRegistry(), clock.NewFake(t0), zaptest.NewLogger(t).Sugar())
	require.NoError(t, conn.Close())

	_, err := s.GetLastRun(context.Background(), job.Key{ID: "a", Tenant: "acme"})
	require.Error(t, err)
	assert.True(t, errors.IsRepository(err))
	assert.True(t, errors.Is(err, db.ErrDatabaseClosed))

	err = s.JobStarted(context.Background(), job.Key{ID: "a", Tenant: "acme"}, t0, t0)
	assert.True(t, errors.Is(err, db.ErrDatabaseClosed))
}
