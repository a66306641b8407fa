package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/data/pgxutil"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// reaperLock gives each terminal status its own key so the two sweeps do not block each other.
func reaperLock(status model.JobStatus) pgxutil.LockKey {
	if status == model.JobStatusFailed {
		return pgxutil.LockKey{Major: pgxutil.LockMajorReaper, Minor: 2}
	}
	return pgxutil.LockKey{Major: pgxutil.LockMajorReaper, Minor: 1}
}

// DeleteOldJobs deletes terminal jobs of the given status completed more than MaxAge ago.
// At most BatchSize rows go per call.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("invalid job status for deletion: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	_, err := pgxutil.WithTryXactLock(ctx, r.DB, reaperLock(params.Status), func(tx *sql.Tx) error {
		cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND COALESCE(completed_at, updated_at) < $2
				ORDER BY COALESCE(completed_at, updated_at)
				LIMIT $3
			)
		`, params.Status, cutoff, params.BatchSize)
		if err != nil {
			return fmt.Errorf("delete old jobs: %w", err)
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
