package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nbu-mindcare/triage-api/internal/core"
	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
)

// AppointmentServiceOptions groups dependencies for AppointmentService.
type AppointmentServiceOptions struct {
	Tx           core.Transactor            // Required
	Appointments core.AppointmentRepository // Required
	Students     core.StudentRepository     // Required
	Staff        core.StaffDirectory        // Required
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
}

// AppointmentService books sessions and schedules their reminders.
type AppointmentService struct {
	tx           core.Transactor
	appointments core.AppointmentRepository
	students     core.StudentRepository
	staff        core.StaffDirectory
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// NewAppointmentService constructs an AppointmentService.
func NewAppointmentService(opts AppointmentServiceOptions) (*AppointmentService, error) {
	switch {
	case opts.Tx == nil:
		return nil, errors.New("transactor is required")
	case opts.Appointments == nil:
		return nil, errors.New("AppointmentRepository is required")
	case opts.Students == nil:
		return nil, errors.New("StudentRepository is required")
	case opts.Staff == nil:
		return nil, errors.New("StaffDirectory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &AppointmentService{
		tx:           opts.Tx,
		appointments: opts.Appointments,
		students:     opts.Students,
		staff:        opts.Staff,
		logger:       logger.With("component", "appointment_service"),
		now:          now,
		newID:        newID,
	}, nil
}

var reminderWindows = []domainjob.ReminderWindow{domainjob.ReminderDayBefore, domainjob.ReminderTwoHoursBefore}

// Schedule books an appointment and, in the same transaction, enqueues the reminders whose
// fire time is still ahead. Students without a messaging account get no reminders.
func (s *AppointmentService) Schedule(ctx context.Context, req model.ScheduleAppointmentRequest) (*model.Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid appointment")
	}
	now := s.now().UTC()
	if !req.ScheduledAt.After(now) {
		return nil, apperrors.ValidationField("scheduled_at", "scheduled_at must be in the future")
	}

	student, err := s.students.GetByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, model.ErrStudentNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "student not found")
		}
		return nil, fmt.Errorf("get student %s: %w", req.StudentID, err)
	}
	staff, err := s.staff.GetByID(ctx, req.StaffID)
	if err != nil {
		if errors.Is(err, model.ErrStaffNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "staff member not found")
		}
		return nil, fmt.Errorf("get staff %s: %w", req.StaffID, err)
	}
	if !staff.IsActive {
		return nil, apperrors.ValidationField("staff_id", "staff member is not active")
	}

	appt := &model.Appointment{
		ID:          s.newID(),
		StudentID:   student.ID,
		StaffID:     staff.ID,
		ScheduledAt: req.ScheduledAt.UTC(),
		Mode:        req.Mode,
		MeetingURL:  req.MeetingURL,
		Status:      model.AppointmentScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	reminders := 0
	err = s.tx.WithinTx(ctx, func(tx core.TxStore) error {
		reminders = 0
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		if !student.Linked() {
			return nil
		}
		for _, w := range reminderWindows {
			runAt := appt.ScheduledAt.Add(-w.Lead())
			if !runAt.After(now) {
				continue
			}
			jobReq, err := domainjob.BuildRequest(domainjob.Reminder{
				AppointmentID: appt.ID,
				Recipient:     *student.LineUserID,
				Window:        w,
			}, runAt)
			if err != nil {
				return err
			}
			if _, err := tx.Enqueue(ctx, jobReq); err != nil {
				return fmt.Errorf("enqueue %s: %w", jobReq.Type, err)
			}
			reminders++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: %w", err)
	}

	s.logger.InfoContext(ctx, "appointment scheduled",
		"appointment_id", appt.ID,
		"student_id", appt.StudentID,
		"staff_id", appt.StaffID,
		"scheduled_at", appt.ScheduledAt,
		"reminders", reminders,
	)
	return appt, nil
}

// Get returns an appointment by id.
func (s *AppointmentService) Get(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrAppointmentNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "appointment not found")
		}
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// UpdateStatus records the outcome of a scheduled appointment. Pending reminders for a
// cancelled appointment become no-ops when they run.
func (s *AppointmentService) UpdateStatus(
	ctx context.Context,
	id string,
	status model.AppointmentStatus,
) (*model.Appointment, error) {
	if !status.Valid() || status == model.AppointmentScheduled {
		return nil, apperrors.ValidationField("status", "status must be one of: completed, cancelled, no_show")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.AppointmentScheduled {
		return nil, apperrors.Conflictf("appointment is already %s", current.Status)
	}

	a, err := s.appointments.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, model.ErrAppointmentNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "appointment not found")
		}
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "appointment status changed", "appointment_id", id, "status", status)
	return a, nil
}
