package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// AssessmentRepo provides read access to submitted assessments. Inserts go through TxRunner.
type AssessmentRepo struct {
	DB *sql.DB
}

// NewAssessmentRepo creates a new AssessmentRepo.
func NewAssessmentRepo(db *sql.DB) *AssessmentRepo {
	return &AssessmentRepo{DB: db}
}

const assessmentColumns = `id, student_id, instrument, intent, answers, phq9_score, gad7_score, stress_score, risk_level, created_at`

// GetByID returns the assessment or ErrAssessmentNotFound.
func (r *AssessmentRepo) GetByID(ctx context.Context, id string) (*model.Assessment, error) {
	a, err := scanAssessment(r.DB.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return a, nil
}

// LatestByStudent returns the newest assessment for a student, or nil when there is none.
func (r *AssessmentRepo) LatestByStudent(ctx context.Context, studentID string) (*model.Assessment, error) {
	a, err := scanAssessment(r.DB.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM assessments
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest assessment: %w", err)
	}
	return a, nil
}

func insertAssessment(ctx context.Context, q sqlExecer, a *model.Assessment) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO assessments (id, student_id, instrument, intent, answers, phq9_score, gad7_score, stress_score, risk_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.StudentID, a.Instrument, a.Intent, answers,
		a.Scores.Depression, a.Scores.Anxiety, a.Scores.Stress, a.RiskLevel, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func scanAssessment(s rowScanner) (*model.Assessment, error) {
	var (
		a                model.Assessment
		answers          []byte
		dep, anx, stress sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.StudentID, &a.Instrument, &a.Intent, &answers,
		&dep, &anx, &stress, &a.RiskLevel, &a.CreatedAt); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	a.Scores = model.Scores{Depression: nullInt(dep), Anxiety: nullInt(anx), Stress: nullInt(stress)}
	return &a, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
