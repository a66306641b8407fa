package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// CaseRepo provides database operations for cases.
type CaseRepo struct {
	DB *sql.DB
}

// NewCaseRepo creates a new CaseRepo.
func NewCaseRepo(db *sql.DB) *CaseRepo {
	return &CaseRepo{DB: db}
}

const caseColumns = `id, student_id, assessment_id, priority, status, assigned_staff_id, acked_at, closed_at, created_at, updated_at`

// GetByID returns the case or ErrCaseNotFound.
func (r *CaseRepo) GetByID(ctx context.Context, id string) (*model.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

// UpdateStatus applies a status change conditioned on the expected prior status.
// A false result means another writer moved the case first, or the case does not exist.
func (r *CaseRepo) UpdateStatus(ctx context.Context, p model.UpdateCaseStatusParams) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	at := p.At.UTC()
	var ackedAt, closedAt any
	if p.Next == model.CaseStatusAcked {
		ackedAt = at
	}
	if p.Next == model.CaseStatusClosed {
		closedAt = at
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE cases
		SET status = $3,
		    assigned_staff_id = COALESCE($4, assigned_staff_id),
		    acked_at = COALESCE($5, acked_at),
		    closed_at = COALESCE($6, closed_at),
		    updated_at = $7
		WHERE id = $1 AND status = $2
	`, p.ID, p.Expected, p.Next, p.AssignedStaffID, ackedAt, closedAt, at)
	if err != nil {
		return false, fmt.Errorf("update case status: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra == 1, nil
}

func insertCase(ctx context.Context, q sqlExecer, c *model.Case) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cases (id, student_id, assessment_id, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, c.ID, c.StudentID, c.AssessmentID, c.Priority, c.Status, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func openCaseForStudent(ctx context.Context, q sqlExecer, studentID string) (*model.Case, error) {
	c, err := scanCase(q.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE student_id = $1 AND status <> 'closed'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open case: %w", err)
	}
	return c, nil
}

// attachAssessment records a newer qualifying screening on an open case. The caller holds the
// row lock taken by openCaseForStudent.
func attachAssessment(ctx context.Context, q sqlExecer, caseID, assessmentID string, priority model.CasePriority) error {
	res, err := q.ExecContext(ctx, `
		UPDATE cases SET assessment_id = $2, priority = $3, updated_at = now()
		WHERE id = $1
	`, caseID, assessmentID, priority)
	if err != nil {
		return fmt.Errorf("attach assessment to case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrCaseNotFound
	}
	return nil
}

func scanCase(s rowScanner) (*model.Case, error) {
	var (
		c                 model.Case
		assigned          sql.NullString
		ackedAt, closedAt sql.NullTime
	)
	if err := s.Scan(
		&c.ID, &c.StudentID, &c.AssessmentID, &c.Priority, &c.Status,
		&assigned, &ackedAt, &closedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.AssignedStaffID = cloneNullableString(assigned)
	c.AckedAt = cloneNullableTime(ackedAt)
	c.ClosedAt = cloneNullableTime(closedAt)
	return &c, nil
}
