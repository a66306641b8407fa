package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// StaffRepo resolves staff members and their notification addresses.
type StaffRepo struct {
	DB *sql.DB
}

// NewStaffRepo creates a new StaffRepo.
func NewStaffRepo(db *sql.DB) *StaffRepo {
	return &StaffRepo{DB: db}
}

// GetByID returns the staff member or model.ErrStaffNotFound.
func (r *StaffRepo) GetByID(ctx context.Context, id string) (*model.Staff, error) {
	var (
		s    model.Staff
		line sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, name, role, line_user_id, is_active FROM staff WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Role, &line, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrStaffNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	s.LineUserID = cloneNullableString(line)
	return &s, nil
}

// ActiveContacts lists active staff in any of roles with a LINE address, ordered by name.
func (r *StaffRepo) ActiveContacts(ctx context.Context, roles []model.StaffRole) ([]model.StaffContact, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, line_user_id
		FROM staff
		WHERE is_active
		  AND line_user_id IS NOT NULL AND line_user_id <> ''
		  AND role = ANY($1)
		ORDER BY name, id
	`, names)
	if err != nil {
		return nil, fmt.Errorf("query staff contacts: %w", err)
	}
	defer rows.Close()

	var out []model.StaffContact
	for rows.Next() {
		var c model.StaffContact
		if err := rows.Scan(&c.StaffID, &c.Name, &c.LineUserID); err != nil {
			return nil, fmt.Errorf("scan staff contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff contacts: %w", err)
	}
	return out, nil
}

// StudentRepo resolves students.
type StudentRepo struct {
	DB *sql.DB
}

// NewStudentRepo creates a new StudentRepo.
func NewStudentRepo(db *sql.DB) *StudentRepo {
	return &StudentRepo{DB: db}
}

// GetByID returns the student or model.ErrStudentNotFound.
func (r *StudentRepo) GetByID(ctx context.Context, id string) (*model.Student, error) {
	var (
		s    model.Student
		line sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, student_code, faculty, line_user_id, created_at FROM students WHERE id = $1
	`, id).Scan(&s.ID, &s.StudentCode, &s.Faculty, &line, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	s.LineUserID = cloneNullableString(line)
	return &s, nil
}
