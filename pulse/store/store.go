// Package store keeps job definitions and their execution history in SQLite
// and presents them to the scheduling engine as a job.Repository.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/clock"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/schedule"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored time %q", s)
	}
	return t, nil
}

// Store handles persistence of scheduled jobs and their executions
type Store struct {
	db       *sql.DB
	handlers *HandlerRegistry
	clock    clock.Clock
	log      *zap.SugaredLogger
}

var (
	_ job.Repository         = (*Store)(nil)
	_ job.TenantLister       = (*Store)(nil)
	_ job.BatchLastRunReader = (*Store)(nil)
)

// repositoryError marks err as a repository failure. Errors from a database
// closed under us during shutdown also carry db.ErrDatabaseClosed.
func repositoryError(err error, op string) error {
	if db.IsDatabaseClosed(err) {
		err = errors.Mark(err, db.ErrDatabaseClosed)
	}
	return errors.Repository(err, op)
}

// NewStore creates a store over an already migrated database.
// handlers resolves job bodies and validates handler names on write; it may be nil for read-only use.
func NewStore(conn *sql.DB, handlers *HandlerRegistry, clk clock.Clock, log *zap.SugaredLogger) *Store {
	return &Store{
		db:       conn,
		handlers: handlers,
		clock:    clock.OrReal(clk),
		log:      logger.ComponentLogger(log, "store"),
	}
}

// Open checks the database is reachable. The connection itself is owned by the caller.
func (s *Store) Open(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return repositoryError(err, "ping job store")
	}
	return nil
}

// Close is a no-op; the caller closes the database.
func (s *Store) Close(context.Context) error { return nil }

// CreateJob validates and stores a new job definition, assigning an ID when empty and a fresh ETag.
func (s *Store) CreateJob(ctx context.Context, rec Record) (*Record, error) {
	now := s.clock.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Schedule = rec.Schedule.WithDefaultLowerBound(now)
	if err := s.validate(rec); err != nil {
		return nil, err
	}
	rec.ETag = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	scheduleJSON, err := json.Marshal(rec.Schedule)
	if err != nil {
		return nil, errors.Wrap(err, "encode schedule")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			id, tenant, name, handler_name, payload, schedule,
			timeout_ms, etag, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tenant, rec.Name, rec.Handler, rec.Payload, string(scheduleJSON),
		rec.Timeout.Milliseconds(), rec.ETag, formatTime(now), formatTime(now),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrConflict, "job %s already exists", rec.Key())
		}
		return nil, repositoryError(err, "create job")
	}

	s.log.Infow("Job created",
		logger.FieldJobID, rec.ID,
		logger.FieldTenant, rec.Tenant,
		logger.FieldHandler, rec.Handler,
		logger.FieldETag, rec.ETag,
	)
	return &rec, nil
}

// UpdateJob replaces a job definition and assigns a fresh ETag.
// Execution history and the last run are kept.
func (s *Store) UpdateJob(ctx context.Context, rec Record) (*Record, error) {
	existing, err := s.GetRecord(ctx, rec.Key())
	if err != nil {
		return nil, err
	}
	rec.Schedule = rec.Schedule.WithDefaultLowerBound(existing.CreatedAt)
	if err := s.validate(rec); err != nil {
		return nil, err
	}
	rec.ETag = uuid.NewString()
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = s.clock.Now().UTC()

	scheduleJSON, err := json.Marshal(rec.Schedule)
	if err != nil {
		return nil, errors.Wrap(err, "encode schedule")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET name = ?, handler_name = ?, payload = ?, schedule = ?,
		    timeout_ms = ?, etag = ?, updated_at = ?
		WHERE tenant = ? AND id = ?`,
		rec.Name, rec.Handler, rec.Payload, string(scheduleJSON),
		rec.Timeout.Milliseconds(), rec.ETag, formatTime(rec.UpdatedAt),
		rec.Tenant, rec.ID,
	)
	if err != nil {
		return nil, repositoryError(err, "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", rec.Key())
	}

	s.log.Infow("Job updated",
		logger.FieldJobID, rec.ID,
		logger.FieldTenant, rec.Tenant,
		logger.FieldETag, rec.ETag,
	)
	return &rec, nil
}

// DeleteJob removes a job with its history.
func (s *Store) DeleteJob(ctx context.Context, key job.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repositoryError(err, "begin delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE tenant = ? AND id = ?`, key.Tenant, key.ID)
	if err != nil {
		return repositoryError(err, "delete job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", key)
	}
	for _, table := range []string{"job_executions", "job_last_runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant = ? AND job_id = ?`, key.Tenant, key.ID); err != nil {
			return repositoryError(err, "delete "+table)
		}
	}
	if err := tx.Commit(); err != nil {
		return repositoryError(err, "commit delete")
	}

	s.log.Infow("Job deleted", logger.FieldJobID, key.ID, logger.FieldTenant, key.Tenant)
	return nil
}

func (s *Store) validate(rec Record) error {
	if strings.TrimSpace(rec.Handler) == "" {
		return errors.Configurationf("job %s needs a handler", rec.Key())
	}
	if rec.Timeout < 0 {
		return errors.Configurationf("job %s timeout %s must not be negative", rec.Key(), rec.Timeout)
	}
	if _, err := rec.Schedule.Build(); err != nil {
		return errors.Wrapf(err, "job %s schedule", rec.Key())
	}
	if s.handlers != nil {
		return s.handlers.Validate(rec.Handler)
	}
	return nil
}

const recordColumns = `id, tenant, name, handler_name, payload, schedule, timeout_ms, etag, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var scheduleJSON, createdAt, updatedAt string
	var timeoutMS int64
	if err := row.Scan(
		&rec.ID, &rec.Tenant, &rec.Name, &rec.Handler, &rec.Payload,
		&scheduleJSON, &timeoutMS, &rec.ETag, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &rec.Schedule); err != nil {
		return nil, errors.Wrapf(err, "decode schedule of %s", rec.Key())
	}
	rec.Timeout = time.Duration(timeoutMS) * time.Millisecond

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecord returns the stored definition of a job.
func (s *Store) GetRecord(ctx context.Context, key job.Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scheduled_jobs WHERE tenant = ? AND id = ?`,
		key.Tenant, key.ID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "job %s", key)
		}
		return nil, repositoryError(err, "get job")
	}
	return rec, nil
}

// ListRecords pages through a tenant's definitions in creation order.
func (s *Store) ListRecords(ctx context.Context, tenant string, offset, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM scheduled_jobs
		WHERE tenant = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?`,
		tenant, limit, offset)
	if err != nil {
		return nil, repositoryError(err, "query jobs")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, repositoryError(err, "scan job")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, repositoryError(err, "iterate jobs")
	}
	return records, nil
}

// toJob builds the schedulable form of rec. A definition that no longer
// builds is scheduled as Never so the job stays visible without running.
func (s *Store) toJob(rec *Record) job.Job {
	sched, err := rec.Schedule.Build()
	if err != nil {
		s.log.Errorw("Stored schedule is invalid, job will not run",
			logger.FieldJobID, rec.ID,
			logger.FieldTenant, rec.Tenant,
			logger.FieldError, err,
		)
		sched = schedule.Never{}
	}
	return &storedJob{record: *rec, schedule: sched, handlers: s.handlers}
}

// GetJob returns errors.ErrNotFound when the job does not exist.
func (s *Store) GetJob(ctx context.Context, key job.Key) (job.Job, error) {
	rec, err := s.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.toJob(rec), nil
}

// QueryJobs pages through a tenant's jobs in creation order.
func (s *Store) QueryJobs(ctx context.Context, tenant string, offset, limit int) ([]job.Job, error) {
	records, err := s.ListRecords(ctx, tenant, offset, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]job.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, s.toJob(rec))
	}
	return jobs, nil
}

// ListTenants returns every tenant with at least one job.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant FROM scheduled_jobs ORDER BY tenant`)
	if err != nil {
		return nil, repositoryError(err, "list tenants")
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, repositoryError(err, "scan tenant")
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, repositoryError(err, "iterate tenants")
	}
	return tenants, nil
}

// GetLastRun returns the latest scheduled instant that succeeded.
func (s *Store) GetLastRun(ctx context.Context, key job.Key) (optional.Option[time.Time], error) {
	var lastRun string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM job_last_runs WHERE tenant = ? AND job_id = ?`,
		key.Tenant, key.ID).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return optional.None[time.Time](), nil
	}
	if err != nil {
		return optional.None[time.Time](), repositoryError(err, "read last run")
	}
	t, err := parseTime(lastRun)
	if err != nil {
		return optional.None[time.Time](), repositoryError(err, "read last run")
	}
	return optional.Some(t), nil
}
