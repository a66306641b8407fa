package model

import (
	"errors"
	"strings"
	"time"
)

// AppointmentStatus is the lifecycle state of a booked session.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Valid returns true if the status is known.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	default:
		return false
	}
}

// AppointmentMode is how the session takes place.
type AppointmentMode string

const (
	AppointmentOnline AppointmentMode = "online"
	AppointmentOnsite AppointmentMode = "onsite"
)

// ErrAppointmentNotFound is returned when an appointment id does not resolve.
var ErrAppointmentNotFound = errors.New("appointment not found")

// Appointment is a booked session between a student and a staff member.
type Appointment struct {
	ID          string            `json:"id"`
	StudentID   string            `json:"student_id"`
	StaffID     string            `json:"staff_id"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Mode        AppointmentMode   `json:"mode"`
	MeetingURL  *string           `json:"meeting_url,omitempty"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ScheduleAppointmentRequest books a session and its reminders.
type ScheduleAppointmentRequest struct {
	StudentID   string          `json:"student_id"`
	StaffID     string          `json:"staff_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Mode        AppointmentMode `json:"mode"`
	MeetingURL  *string         `json:"meeting_url,omitempty"`
}

// Validate checks the booking request.
func (r *ScheduleAppointmentRequest) Validate() error {
	if strings.TrimSpace(r.StudentID) == "" {
		return errors.New("student_id is required and cannot be empty")
	}
	if strings.TrimSpace(r.StaffID) == "" {
		return errors.New("staff_id is required and cannot be empty")
	}
	if r.ScheduledAt.IsZero() {
		return errors.New("scheduled_at is required and cannot be empty")
	}
	switch r.Mode {
	case AppointmentOnline:
		if r.MeetingURL == nil || strings.TrimSpace(*r.MeetingURL) == "" {
			return errors.New("meeting_url is required for online appointments")
		}
	case AppointmentOnsite:
	default:
		return errors.New("mode must be one of: online, onsite")
	}
	return nil
}

// DailyMetricKey addresses one counter cell of the daily aggregate.
type DailyMetricKey struct {
	Date      string
	Faculty   string
	RiskLevel RiskLevel
}
