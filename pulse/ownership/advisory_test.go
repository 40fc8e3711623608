package ownership

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/pulse/job"
)

// lockServer stands in for PostgreSQL's advisory lock table, shared by several sessions.
type lockServer struct {
	holders map[int64]*mockSession
}

type mockSession struct {
	server *lockServer
	fail   error
	closed bool
}

func newLockServer() *lockServer {
	return &lockServer{holders: make(map[int64]*mockSession)}
}

func (s *lockServer) session() *mockSession {
	return &mockSession{server: s}
}

func (m *mockSession) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	if m.fail != nil {
		return mockRow{err: m.fail}
	}
	lockID := args[0].(int64)
	switch query {
	case "SELECT pg_try_advisory_lock($1)":
		holder, taken := m.server.holders[lockID]
		if taken && holder != m {
			return mockRow{value: false}
		}
		m.server.holders[lockID] = m
		return mockRow{value: true}
	case "SELECT pg_advisory_unlock($1)":
		holder, taken := m.server.holders[lockID]
		if !taken || holder != m {
			return mockRow{value: false}
		}
		delete(m.server.holders, lockID)
		return mockRow{value: true}
	}
	return mockRow{err: fmt.Errorf("unexpected query %q", query)}
}

// Close ends the session; the server frees its locks.
func (m *mockSession) Close(context.Context) error {
	m.closed = true
	for id, holder := range m.server.holders {
		if holder == m {
			delete(m.server.holders, id)
		}
	}
	return nil
}

type mockRow struct {
	value bool
	err   error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.value
	return nil
}

func TestAdvisoryLock_OneOwnerPerJob(t *testing.T) {
	ctx := context.Background()
	server := newLockServer()
	log := zaptest.NewLogger(t).Sugar()

	nodeA := NewAdvisoryLock(server.session(), "prod", log)
	nodeB := NewAdvisoryLock(server.session(), "prod", log)

	report := job.Key{ID: "report", Tenant: "acme"}
	rollup := job.Key{ID: "rollup", Tenant: "acme"}

	owns, err := nodeA.Owns(ctx, report)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = nodeB.Owns(ctx, report)
	require.NoError(t, err)
	assert.False(t, owns)

	owns, err = nodeB.Owns(ctx, rollup)
	require.NoError(t, err)
	assert.True(t, owns)

	// Repeated checks by the holder stay owned
	owns, err = nodeA.Owns(ctx, report)
	require.NoError(t, err)
	assert.True(t, owns)

	require.NoError(t, nodeA.Release(ctx, report))
	owns, err = nodeB.Owns(ctx, report)
	require.NoError(t, err)
	assert.True(t, owns)

	assert.Equal(t, 0, nodeA.Held())
	assert.Equal(t, 2, nodeB.Held())
	require.NoError(t, nodeB.ReleaseAll(ctx))
	assert.Empty(t, server.holders)
}

func TestAdvisoryLock_LockIDs(t *testing.T) {
	a := NewAdvisoryLock(nil, "prod", nil)
	b := NewAdvisoryLock(nil, "staging", nil)
	key := job.Key{ID: "report", Tenant: "acme"}

	assert.Equal(t, a.LockID(key), a.LockID(key))
	assert.NotEqual(t, a.LockID(key), b.LockID(key))
	assert.NotEqual(t, a.LockID(key), a.LockID(job.Key{ID: "report", Tenant: "globex"}))
	// Separator keeps ("ab","c") and ("a","bc") apart
	assert.NotEqual(t, a.LockID(job.Key{ID: "c", Tenant: "ab"}), a.LockID(job.Key{ID: "bc", Tenant: "a"}))
}

func TestAdvisoryLock_QueryFailureForgetsClaims(t *testing.T) {
	ctx := context.Background()
	session := newLockServer().session()
	lock := NewAdvisoryLock(session, "prod", zaptest.NewLogger(t).Sugar())

	_, err := lock.Owns(ctx, job.Key{ID: "a", Tenant: "t"})
	require.NoError(t, err)
	require.Equal(t, 1, lock.Held())

	session.fail = fmt.Errorf("conn closed")
	owns, err := lock.Owns(ctx, job.Key{ID: "b", Tenant: "t"})
	require.Error(t, err)
	assert.False(t, owns)
	assert.Equal(t, 0, lock.Held())
}

func TestAdvisoryLock_ReconnectsAfterSessionFailure(t *testing.T) {
	ctx := context.Background()
	server := newLockServer()
	first := server.session()

	var dials []*mockSession
	var dialErr error
	lock := NewAdvisoryLock(first, "prod", zaptest.NewLogger(t).Sugar()).
		WithDialer(func(context.Context) (Querier, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			s := server.session()
			dials = append(dials, s)
			return s, nil
		})

	keyA := job.Key{ID: "a", Tenant: "t"}
	keyB := job.Key{ID: "b", Tenant: "t"}
	owns, err := lock.Owns(ctx, keyA)
	require.NoError(t, err)
	require.True(t, owns)

	first.fail = fmt.Errorf("conn closed")
	_, err = lock.Owns(ctx, keyB)
	require.Error(t, err)
	assert.Equal(t, 0, lock.Held())
	assert.True(t, first.closed)
	assert.Empty(t, server.holders, "closing the session frees its locks")

	// Reconnect fails, the next call tries again
	dialErr = fmt.Errorf("connection refused")
	_, err = lock.Owns(ctx, keyA)
	require.Error(t, err)
	assert.Empty(t, dials)

	dialErr = nil
	owns, err = lock.Owns(ctx, keyA)
	require.NoError(t, err)
	assert.True(t, owns)
	require.Len(t, dials, 1)
	assert.Same(t, dials[0], server.holders[lock.LockID(keyA)])

	require.NoError(t, lock.Close(ctx))
	assert.True(t, dials[0].closed)
	assert.Empty(t, server.holders)
	assert.Equal(t, 0, lock.Held())
}

func TestAll(t *testing.T) {
	owns, err := All{}.Owns(context.Background(), job.Key{ID: "x"})
	require.NoError(t, err)
	assert.True(t, owns)
}
