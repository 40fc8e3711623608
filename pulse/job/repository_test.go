package job_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/job/jobtest"
	"github.com/teranos/cadence/pulse/schedule"
)

func TestWithRepository_ClosesOnEveryPath(t *testing.T) {
	ctx := context.Background()
	repo := jobtest.NewRepository()

	require.NoError(t, job.WithRepository(ctx, repo, func(job.Repository) error { return nil }))

	boom := errors.New("boom")
	err := job.WithRepository(ctx, repo, func(job.Repository) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = job.WithRepository(ctx, repo, func(job.Repository) error { panic("job body") })
	})

	opens, closes := repo.Brackets()
	assert.Equal(t, 3, opens)
	assert.Equal(t, 3, closes)
}

func TestAllJobs_Pages(t *testing.T) {
	repo := jobtest.NewRepository()
	for i := 0; i < 7; i++ {
		repo.Put(&jobtest.Func{JobKey: job.Key{ID: fmt.Sprintf("job-%d", i), Tenant: "acme"}, Sched: schedule.Never{}})
	}
	repo.Put(&jobtest.Func{JobKey: job.Key{ID: "other", Tenant: "globex"}, Sched: schedule.Never{}})

	for _, pageSize := range []int{1, 3, 7, 100} {
		jobs, err := job.AllJobs(context.Background(), repo, "acme", pageSize)
		require.NoError(t, err)
		require.Len(t, jobs, 7, "page size %d", pageSize)
		assert.Equal(t, "job-0", jobs[0].Key().ID)
		assert.Equal(t, "job-6", jobs[6].Key().ID)
	}

	_, err := job.AllJobs(context.Background(), repo, "acme", 0)
	assert.True(t, errors.IsConfiguration(err))
}

func TestAllJobs_MarksRepositoryErrors(t *testing.T) {
	repo := jobtest.NewRepository()
	repo.SetQueryErr(fmt.Errorf("connection refused"))

	_, err := job.AllJobs(context.Background(), repo, "acme", 10)
	require.Error(t, err)
	assert.True(t, errors.IsRepository(err))
}

func TestExecution(t *testing.T) {
	started := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)

	running := job.Execution{State: job.StateStarted, StartedAt: started}
	assert.False(t, running.Done())
	assert.Zero(t, running.Duration())

	done := job.Execution{State: job.StateSucceeded, StartedAt: started, CompletedAt: &completed}
	assert.True(t, done.Done())
	assert.Equal(t, 1500*time.Millisecond, done.Duration())
}
