package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/nbu-mindcare/triage-api/internal/data/pgxutil"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertJobSQL = `
  INSERT INTO jobs (type, status, payload, run_at, max_retries)
  VALUES ($1, 'pending', $2, $3, $4)
  RETURNING ` + jobColumns

// claimNextSQL atomically claims the earliest due job. Ordering by run_at keeps an
// overdue escalation check ahead of anything scheduled later.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending' AND run_at <= $1
    ORDER BY run_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $1),
    lease_expires_at = $2,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.status, j.payload, j.run_at, j.retry_count, j.max_retries, j.last_error,
            j.lease_expires_at, j.started_at, j.completed_at, j.created_at, j.updated_at`

// Enqueue inserts a pending job and signals listeners.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var err error
			job, err = r.EnqueueTx(ctx, tx, req)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueTx inserts a job inside an existing transaction. The notification is delivered on commit.
func (r *JobRepo) EnqueueTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	return r.enqueue(ctx, tx, req)
}

func (r *JobRepo) enqueue(ctx context.Context, q sqlExecer, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runAt := r.timeProvider.Now().UTC()
	if req.RunAt != nil {
		runAt = req.RunAt.UTC()
	}
	maxRetries := r.maxAttempts
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}

	job, err := scanJobFromRow(q.QueryRowContext(ctx, insertJobSQL, req.Type, []byte(req.Payload), runAt, maxRetries))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if _, err := q.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, JobChannel, job.ID); err != nil {
		return nil, fmt.Errorf("send job notification: %w", err)
	}
	return job, nil
}

// ClaimNext moves the earliest due pending job to running and stamps its lease.
func (r *JobRepo) ClaimNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx *sql.Tx) error {
			now := r.timeProvider.Now().UTC()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			j, err := scanJobFromRow(tx.QueryRowContext(ctx, claimNextSQL, now, leaseExpiresAt))
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("claim job: %w", err)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

var reclaimLock = pgxutil.LockKey{Major: pgxutil.LockMajorQueue, Minor: 1}

// ReclaimStale returns running jobs with a lapsed lease to pending, counting the lost attempt.
// Jobs at their ceiling fail instead. Only one caller reclaims at a time.
func (r *JobRepo) ReclaimStale(ctx context.Context) (int64, error) {
	var rowsAffected int64
	_, err := pgxutil.WithTryXactLock(ctx, r.DB, reclaimLock, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET retry_count = retry_count + 1,
			    last_error = 'lease expired',
			    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			    completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $1::timestamptz ELSE NULL END,
			    run_at = CASE WHEN retry_count + 1 >= max_retries THEN run_at ELSE $1::timestamptz END,
			    lease_expires_at = NULL,
			    updated_at = $1
			WHERE status = 'running'
			  AND lease_expires_at IS NOT NULL
			  AND lease_expires_at < $1
		`, now)
		if err != nil {
			return fmt.Errorf("reclaim stale jobs: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// MarkSuccess completes a running job. It returns false if the job is no longer running.
func (r *JobRepo) MarkSuccess(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'success',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra > 0, nil
}

// MarkRetryOrFail records a failed attempt, rescheduling the job or failing it permanently.
func (r *JobRepo) MarkRetryOrFail(ctx context.Context, p model.RetryParams) (bool, error) {
	now := r.timeProvider.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if p.Terminal {
		res, err = r.DB.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    retry_count = $2,
			    last_error = $3,
			    completed_at = $4,
			    lease_expires_at = NULL,
			    updated_at = $4
			WHERE id = $1 AND status = 'running'
		`, p.ID, p.RetryCount, p.Error, now)
	} else {
		res, err = r.DB.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending',
			    retry_count = $2,
			    last_error = $3,
			    run_at = $4,
			    lease_expires_at = NULL,
			    updated_at = $5
			WHERE id = $1 AND status = 'running'
		`, p.ID, p.RetryCount, p.Error, p.NextRunAt.UTC(), now)
	}
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra > 0, nil
}

// Stats returns job counts by status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending') AS pending,
    count(*) FILTER (WHERE status = 'running') AS running,
    count(*) FILTER (WHERE status = 'success') AS success,
    count(*) FILTER (WHERE status = 'failed')  AS failed
  FROM jobs
  `).Scan(&s.Pending, &s.Running, &s.Success, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJobFromRow(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first with optional status and type filters.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := max(opts.Offset, 0)

	b := &filterQueryBuilder{query: `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`, argIdx: 1}
	if opts.Status != nil && *opts.Status != "" {
		b.addFilter("status", *opts.Status)
	}
	if opts.Type != nil && *opts.Type != "" {
		b.addFilter("type", *opts.Type)
	}
	b.query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", b.argIdx, b.argIdx+1)
	b.args = append(b.args, limit, offset)

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, b.query, b.args...)
		if err != nil {
			return fmt.Errorf("query jobs: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
		if err != nil {
			return fmt.Errorf("collect jobs: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// WaitForJob blocks until an enqueue notification arrives or ctx ends.
func (r *JobRepo) WaitForJob(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{JobChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", JobChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

type filterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func (b *filterQueryBuilder) addFilter(column string, value any) {
	b.query += fmt.Sprintf(" AND %s = $%d", column, b.argIdx)
	b.args = append(b.args, value)
	b.argIdx++
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var (
		payload                                []byte
		lastError                              sql.NullString
		leaseExpiresAt, startedAt, completedAt sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&payload,
		&job.RunAt,
		&job.RetryCount,
		&job.MaxRetries,
		&lastError,
		&leaseExpiresAt,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = cloneJSON(payload)
	job.LastError = cloneNullableString(lastError)
	job.LeaseExpiresAt = cloneNullableTime(leaseExpiresAt)
	job.StartedAt = cloneNullableTime(startedAt)
	job.CompletedAt = cloneNullableTime(completedAt)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
