package data

import (
	"context"
	"database/sql"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/data/pgxutil"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// TxRunner implements core.Transactor over a single database/sql transaction.
type TxRunner struct {
	DB   *sql.DB
	Jobs *JobRepo
}

// NewTxRunner creates a TxRunner. Jobs enqueued inside the transaction go through jobs.
func NewTxRunner(db *sql.DB, jobs *JobRepo) *TxRunner {
	return &TxRunner{DB: db, Jobs: jobs}
}

// WithinTx runs fn in one transaction and commits only if fn returns nil.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx core.TxStore) error) error {
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx *sql.Tx) error {
			return fn(&txStore{tx: tx, jobs: r.Jobs})
		},
	})
}

type txStore struct {
	tx   *sql.Tx
	jobs *JobRepo
}

func (s *txStore) InsertAssessment(ctx context.Context, a *model.Assessment) error {
	return insertAssessment(ctx, s.tx, a)
}

func (s *txStore) InsertCase(ctx context.Context, c *model.Case) error {
	return insertCase(ctx, s.tx, c)
}

func (s *txStore) OpenCaseForStudent(ctx context.Context, studentID string) (*model.Case, error) {
	return openCaseForStudent(ctx, s.tx, studentID)
}

func (s *txStore) AttachAssessment(ctx context.Context, caseID, assessmentID string, priority model.CasePriority) error {
	return attachAssessment(ctx, s.tx, caseID, assessmentID, priority)
}

func (s *txStore) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	return insertAppointment(ctx, s.tx, a)
}

func (s *txStore) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return s.jobs.EnqueueTx(ctx, s.tx, req)
}

var (
	_ core.Transactor = (*TxRunner)(nil)
	_ core.TxStore    = (*txStore)(nil)
)
