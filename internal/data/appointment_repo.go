package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// AppointmentRepo provides database operations for appointments.
type AppointmentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAppointmentRepo creates a new AppointmentRepo. A nil TimeProvider uses the wall clock.
func NewAppointmentRepo(db *sql.DB, tp TimeProvider) *AppointmentRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &AppointmentRepo{DB: db, timeProvider: tp}
}

const appointmentColumns = `id, student_id, staff_id, scheduled_at, mode, meeting_url, status, created_at, updated_at`

// GetByID returns the appointment or model.ErrAppointmentNotFound.
func (r *AppointmentRepo) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := scanAppointment(r.DB.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// UpdateStatus sets the appointment status and returns the updated row.
func (r *AppointmentRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status model.AppointmentStatus,
) (*model.Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid appointment status: %s", status)
	}
	a, err := scanAppointment(r.DB.QueryRowContext(ctx, `
		UPDATE appointments SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+appointmentColumns, id, status, r.timeProvider.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func insertAppointment(ctx context.Context, q sqlExecer, a *model.Appointment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO appointments (id, student_id, staff_id, scheduled_at, mode, meeting_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, a.ID, a.StudentID, a.StaffID, a.ScheduledAt.UTC(), a.Mode, a.MeetingURL, a.Status, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func scanAppointment(s rowScanner) (*model.Appointment, error) {
	var (
		a   model.Appointment
		url sql.NullString
	)
	if err := s.Scan(&a.ID, &a.StudentID, &a.StaffID, &a.ScheduledAt, &a.Mode, &url,
		&a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.MeetingURL = cloneNullableString(url)
	return &a, nil
}
