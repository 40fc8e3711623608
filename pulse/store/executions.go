package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/cadence/pulse/job"
)

// JobStarted records that the execution for scheduled began.
// A retry of the same instant resets the row to started.
func (s *Store) JobStarted(ctx context.Context, key job.Key, scheduled, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (job_id, tenant, scheduled_for, state, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant, job_id, scheduled_for) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			completed_at = NULL,
			result = NULL,
			error_message = NULL`,
		key.ID, key.Tenant, formatTime(scheduled), string(job.StateStarted), formatTime(startedAt),
	)
	if err != nil {
		return repositoryError(err, "record job start")
	}
	return nil
}

// JobSucceeded completes the execution record and advances the last run.
// The last run only moves forward; an older success leaves it unchanged.
func (s *Store) JobSucceeded(ctx context.Context, key job.Key, scheduled, completedAt time.Time, result string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repositoryError(err, "begin success")
	}
	defer tx.Rollback()

	if err := completeExecution(ctx, tx, key, scheduled, completedAt, job.StateSucceeded, result, ""); err != nil {
		return repositoryError(err, "record job success")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_last_runs (job_id, tenant, last_run)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant, job_id) DO UPDATE SET last_run = excluded.last_run
		WHERE excluded.last_run > job_last_runs.last_run`,
		key.ID, key.Tenant, formatTime(scheduled),
	)
	if err != nil {
		return repositoryError(err, "advance last run")
	}
	if err := tx.Commit(); err != nil {
		return repositoryError(err, "commit success")
	}
	return nil
}

// JobFailed completes the execution record with the failure. The last run is untouched.
func (s *Store) JobFailed(ctx context.Context, key job.Key, scheduled, completedAt time.Time, cause error) error {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	if err := completeExecution(ctx, s.db, key, scheduled, completedAt, job.StateFailed, "", msg); err != nil {
		return repositoryError(err, "record job failure")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// completeExecution finalises a row, inserting it when the start was never recorded.
func completeExecution(ctx context.Context, ex execer, key job.Key, scheduled, completedAt time.Time, state job.ExecutionState, result, errMsg string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO job_executions (
			job_id, tenant, scheduled_for, state, started_at, completed_at, result, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, job_id, scheduled_for) DO UPDATE SET
			state = excluded.state,
			completed_at = excluded.completed_at,
			result = excluded.result,
			error_message = excluded.error_message`,
		key.ID, key.Tenant, formatTime(scheduled), string(state),
		formatTime(completedAt), formatTime(completedAt),
		nullString(result), nullString(errMsg),
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ListExecutions returns a job's most recent executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, key job.Key, limit int) ([]job.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT scheduled_for, state, started_at, completed_at, result, error_message
		FROM job_executions
		WHERE tenant = ? AND job_id = ?
		ORDER BY scheduled_for DESC
		LIMIT ?`,
		key.Tenant, key.ID, limit)
	if err != nil {
		return nil, repositoryError(err, "query executions")
	}
	defer rows.Close()

	var executions []job.Execution
	for rows.Next() {
		var scheduledFor, state, startedAt string
		var completedAt, result, errMsg sql.NullString
		if err := rows.Scan(&scheduledFor, &state, &startedAt, &completedAt, &result, &errMsg); err != nil {
			return nil, repositoryError(err, "scan execution")
		}

		exec := job.Execution{
			Key:    key,
			State:  job.ExecutionState(state),
			Result: result.String,
			Error:  errMsg.String,
		}
		if exec.ScheduledFor, err = parseTime(scheduledFor); err != nil {
			return nil, repositoryError(err, "scan execution")
		}
		if exec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, repositoryError(err, "scan execution")
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, repositoryError(err, "scan execution")
			}
			exec.CompletedAt = &t
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, repositoryError(err, "iterate executions")
	}
	return executions, nil
}

// GetLastSuccessBatch reads the last run of many jobs at once.
// Jobs that never succeeded are absent from the result.
func (s *Store) GetLastSuccessBatch(ctx context.Context, keys []job.Key) (map[job.Key]time.Time, error) {
	out := make(map[job.Key]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		clauses = append(clauses, "(tenant = ? AND job_id = ?)")
		args = append(args, k.Tenant, k.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, tenant, last_run FROM job_last_runs WHERE `+strings.Join(clauses, " OR "),
		args...)
	if err != nil {
		return nil, repositoryError(err, "query last runs")
	}
	defer rows.Close()

	for rows.Next() {
		var k job.Key
		var lastRun string
		if err := rows.Scan(&k.ID, &k.Tenant, &lastRun); err != nil {
			return nil, repositoryError(err, "scan last run")
		}
		t, err := parseTime(lastRun)
		if err != nil {
			return nil, repositoryError(err, "scan last run")
		}
		out[k] = t
	}
	if err := rows.Err(); err != nil {
		return nil, repositoryError(err, "iterate last runs")
	}
	return out, nil
}
