package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/job/jobtest"
	"github.com/teranos/cadence/pulse/schedule"
)

func TestGuarded_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := jobtest.NewRepository()
	g := NewGuarded(inner, BreakerConfig{Failures: 2, Cooldown: time.Hour}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	key := job.Key{ID: "a", Tenant: "acme"}

	boom := errors.New("database is locked")
	inner.SetLastRunErr(boom)

	for i := 0; i < 2; i++ {
		_, err := g.GetLastRun(ctx, key)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", g.State())

	// The store has recovered but the breaker rejects without calling through
	inner.SetLastRunErr(nil)
	_, err := g.GetLastRun(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.IsRepository(err))
}

func TestGuarded_ClosedDatabaseDoesNotTrip(t *testing.T) {
	inner := jobtest.NewRepository()
	g := NewGuarded(inner, BreakerConfig{Failures: 1, Cooldown: time.Hour}, nil)
	ctx := context.Background()
	key := job.Key{ID: "a", Tenant: "acme"}

	inner.SetLastRunErr(errors.Wrap(db.ErrDatabaseClosed, "read last run"))
	for i := 0; i < 3; i++ {
		_, err := g.GetLastRun(ctx, key)
		assert.ErrorIs(t, err, db.ErrDatabaseClosed)
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuarded_NotFoundDoesNotTrip(t *testing.T) {
	inner := jobtest.NewRepository()
	g := NewGuarded(inner, BreakerConfig{Failures: 1, Cooldown: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.GetJob(ctx, job.Key{ID: "missing", Tenant: "acme"})
		assert.True(t, errors.IsNotFound(err))
	}
	assert.Equal(t, "closed", g.State())

	inner.Put(&jobtest.Func{JobKey: job.Key{ID: "a", Tenant: "acme"}, Sched: schedule.Never{}})
	j, err := g.GetJob(ctx, job.Key{ID: "a", Tenant: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "a", j.Key().ID)

	tenants, err := g.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, tenants)
}

func TestGuarded_WritesPassThrough(t *testing.T) {
	inner := jobtest.NewRepository()
	g := NewGuarded(inner, BreakerConfig{}, nil)
	ctx := context.Background()
	key := job.Key{ID: "a", Tenant: "acme"}

	require.NoError(t, job.WithRepository(ctx, g, func(r job.Repository) error {
		if err := r.JobStarted(ctx, key, t0, t0); err != nil {
			return err
		}
		return r.JobSucceeded(ctx, key, t0, t0, "ok")
	}))

	last, err := g.GetLastRun(ctx, key)
	require.NoError(t, err)
	assert.True(t, last.Ok())
}
