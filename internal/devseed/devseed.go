// Package devseed loads a small directory of staff and students for local development.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

type staffSeed struct {
	ID         string
	Name       string
	Role       model.StaffRole
	LineUserID *string
	Active     bool
}

type studentSeed struct {
	ID          string
	StudentCode string
	Faculty     string
	LineUserID  *string
}

// defaultStaff covers every role, including an inactive supervisor and a counselor without LINE.
func defaultStaff() []staffSeed {
	return []staffSeed{
		{ID: "00000000-0000-4000-8000-000000000101", Name: "Dev Counselor A", Role: model.StaffRoleCounselor,
			LineUserID: stringPtr("Udevcounselor0001"), Active: true},
		{ID: "00000000-0000-4000-8000-000000000102", Name: "Dev Counselor B", Role: model.StaffRoleCounselor,
			Active: true},
		{ID: "00000000-0000-4000-8000-000000000201", Name: "Dev Supervisor", Role: model.StaffRoleSupervisor,
			LineUserID: stringPtr("Udevsupervisor001"), Active: true},
		{ID: "00000000-0000-4000-8000-000000000202", Name: "Retired Supervisor", Role: model.StaffRoleSupervisor,
			LineUserID: stringPtr("Udevsupervisor002"), Active: false},
		{ID: "00000000-0000-4000-8000-000000000301", Name: "Dev Advisor", Role: model.StaffRoleAdvisor,
			LineUserID: stringPtr("Udevadvisor000001"), Active: true},
	}
}

func defaultStudents() []studentSeed {
	return []studentSeed{
		{ID: "00000000-0000-4000-9000-000000000001", StudentCode: "6500000001", Faculty: "engineering",
			LineUserID: stringPtr("Udevstudent000001")},
		{ID: "00000000-0000-4000-9000-000000000002", StudentCode: "6500000002", Faculty: "nursing",
			LineUserID: stringPtr("Udevstudent000002")},
		{ID: "00000000-0000-4000-9000-000000000003", StudentCode: "6500000003", Faculty: "business"},
	}
}

const (
	upsertStaffSQL = `
		INSERT INTO staff (id, name, role, line_user_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    role = EXCLUDED.role,
		    line_user_id = EXCLUDED.line_user_id,
		    is_active = EXCLUDED.is_active`

	upsertStudentSQL = `
		INSERT INTO students (id, student_code, faculty, line_user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET student_code = EXCLUDED.student_code,
		    faculty = EXCLUDED.faculty,
		    line_user_id = EXCLUDED.line_user_id`
)

// Run upserts the development directory. It is safe to run repeatedly. Individual row
// failures are logged and counted; Run returns an error when any row failed.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if db == nil {
		return errors.New("database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devseed")

	failures := seedStaff(ctx, db, logger) + seedStudents(ctx, db, logger)
	if failures > 0 {
		return fmt.Errorf("seed development data: %d rows failed", failures)
	}
	logger.InfoContext(ctx, "development data seeded",
		"staff", len(defaultStaff()),
		"students", len(defaultStudents()),
	)
	return nil
}

func seedStaff(ctx context.Context, db *sql.DB, logger *slog.Logger) int {
	failures := 0
	for _, s := range defaultStaff() {
		if _, err := db.ExecContext(ctx, upsertStaffSQL, s.ID, s.Name, string(s.Role), s.LineUserID, s.Active); err != nil {
			logger.WarnContext(ctx, "failed to seed staff", "name", s.Name, "error", err)
			failures++
			continue
		}
		logger.DebugContext(ctx, "seeded staff", "id", s.ID, "role", s.Role)
	}
	return failures
}

func seedStudents(ctx context.Context, db *sql.DB, logger *slog.Logger) int {
	failures := 0
	for _, s := range defaultStudents() {
		if _, err := db.ExecContext(ctx, upsertStudentSQL, s.ID, s.StudentCode, s.Faculty, s.LineUserID); err != nil {
			logger.WarnContext(ctx, "failed to seed student", "student_code", s.StudentCode, "error", err)
			failures++
			continue
		}
		logger.DebugContext(ctx, "seeded student", "id", s.ID, "faculty", s.Faculty)
	}
	return failures
}

func stringPtr(s string) *string { return &s }
