package ownership

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/job"
)

// Querier is the slice of a PostgreSQL session AdvisoryLock needs.
// Advisory locks belong to a session, so pass a single *pgx.Conn rather than a pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Dialer opens a new session.
type Dialer func(ctx context.Context) (Querier, error)

// sessionCloser is implemented by sessions that can be ended, such as *pgx.Conn.
type sessionCloser interface {
	Close(ctx context.Context) error
}

// AdvisoryLock claims jobs with PostgreSQL session advisory locks.
// A job is owned by whichever node first takes its lock, until that node
// releases it or its session ends.
//
// Any failed query is taken to mean the session is gone. Claims are forgotten,
// the session is closed so the server frees whatever it still held, and with a
// Dialer set the next call opens a fresh session.
type AdvisoryLock struct {
	db        Querier
	dial      Dialer
	namespace string
	log       *zap.SugaredLogger

	mu   sync.Mutex
	held map[job.Key]int64
}

var _ Owner = (*AdvisoryLock)(nil)
var _ Releaser = (*AdvisoryLock)(nil)

// NewAdvisoryLock returns an owner using db. namespace separates deployments sharing a database.
func NewAdvisoryLock(db Querier, namespace string, log *zap.SugaredLogger) *AdvisoryLock {
	return &AdvisoryLock{
		db:        db,
		namespace: namespace,
		log:       logger.ComponentLogger(log, "ownership"),
		held:      make(map[job.Key]int64),
	}
}

// WithDialer makes a reconnect possible after the session fails.
func (a *AdvisoryLock) WithDialer(dial Dialer) *AdvisoryLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dial = dial
	return a
}

// sessionLocked returns the live session, dialling a new one if the last was dropped.
func (a *AdvisoryLock) sessionLocked(ctx context.Context) (Querier, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.dial == nil {
		return nil, errors.New("advisory lock session is closed")
	}
	db, err := a.dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reconnect advisory lock session")
	}
	a.db = db
	a.log.Infow("Advisory lock session re-established")
	return db, nil
}

// dropSessionLocked forgets every claim and ends the session.
func (a *AdvisoryLock) dropSessionLocked(ctx context.Context) {
	a.held = make(map[job.Key]int64)
	if a.dial == nil {
		return
	}
	if closer, ok := a.db.(sessionCloser); ok {
		if err := closer.Close(ctx); err != nil {
			a.log.Debugw("Closing failed session", logger.FieldError, err)
		}
	}
	a.db = nil
}

// LockID maps a job key to the int64 advisory lock key.
func (a *AdvisoryLock) LockID(key job.Key) int64 {
	sum := md5.Sum([]byte(a.namespace + "\x00" + key.Tenant + "\x00" + key.ID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Owns takes the job's lock if it is free. A lock already held by this session stays owned.
func (a *AdvisoryLock) Owns(ctx context.Context, key job.Key) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.held[key]; ok {
		return true, nil
	}

	db, err := a.sessionLocked(ctx)
	if err != nil {
		return false, err
	}
	lockID := a.LockID(key)
	var acquired bool
	if err := db.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		a.dropSessionLocked(ctx)
		return false, errors.Wrapf(err, "acquire advisory lock for %s", key)
	}

	if acquired {
		a.held[key] = lockID
		a.log.Infow("Claimed job",
			logger.FieldJobID, key.ID,
			logger.FieldTenant, key.Tenant,
			"lock_id", lockID,
		)
	} else {
		a.log.Debugw("Job claimed by another node",
			logger.FieldJobID, key.ID,
			logger.FieldTenant, key.Tenant,
			"lock_id", lockID,
		)
	}
	return acquired, nil
}

// Release gives up the job's lock if this session holds it.
func (a *AdvisoryLock) Release(ctx context.Context, key job.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(ctx, key)
}

func (a *AdvisoryLock) releaseLocked(ctx context.Context, key job.Key) error {
	lockID, ok := a.held[key]
	if !ok {
		return nil
	}
	delete(a.held, key)

	var released bool
	if err := a.db.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released); err != nil {
		a.dropSessionLocked(ctx)
		return errors.Wrapf(err, "release advisory lock for %s", key)
	}
	if !released {
		a.log.Warnw("Advisory lock was not held at release",
			logger.FieldJobID, key.ID,
			logger.FieldTenant, key.Tenant,
			"lock_id", lockID,
		)
	}
	return nil
}

// ReleaseAll gives up every lock this session holds and returns the first error.
func (a *AdvisoryLock) ReleaseAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for key := range a.held {
		if err := a.releaseLocked(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Held returns how many jobs this session currently claims.
func (a *AdvisoryLock) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

// Close ends the current session, which frees every lock it still holds.
func (a *AdvisoryLock) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held = make(map[job.Key]int64)
	closer, ok := a.db.(sessionCloser)
	a.db = nil
	if !ok {
		return nil
	}
	return errors.Wrap(closer.Close(ctx), "close advisory lock session")
}
