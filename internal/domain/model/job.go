package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType tags the payload variant a job carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeNotifyStaff sends a case alert to one staff member.
	JobTypeNotifyStaff JobType = "notify_staff"
	// JobTypeDeliverResult sends the screening result to the student.
	JobTypeDeliverResult JobType = "deliver_result"
	// JobTypeReminder1d reminds a student one day before an appointment.
	JobTypeReminder1d JobType = "reminder_1d"
	// JobTypeReminder2h reminds a student two hours before an appointment.
	JobTypeReminder2h JobType = "reminder_2h"
	// JobTypeEscalationCheck re-checks a crisis case after the acknowledgment deadline.
	JobTypeEscalationCheck JobType = "escalation_check"
	// JobTypeMetricRollup increments the daily aggregate for one submission.
	JobTypeMetricRollup JobType = "metric_rollup"

	// JobStatusPending indicates a job is waiting for its run_at.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker has claimed the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess indicates the handler finished without error.
	JobStatusSuccess JobStatus = "success"
	// JobStatusFailed indicates the retry ceiling was exhausted.
	JobStatusFailed JobStatus = "failed"
)

// DefaultMaxAttempts is the retry ceiling applied when a request does not set one.
const DefaultMaxAttempts = 3

var (
	// ErrNoJobsAvailable is returned when no job is eligible for claiming.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned when a job id does not resolve.
	ErrJobNotFound = errors.New("job not found")
)

// JobTypes lists every known job type.
func JobTypes() []JobType {
	return []JobType{
		JobTypeNotifyStaff,
		JobTypeDeliverResult,
		JobTypeReminder1d,
		JobTypeReminder2h,
		JobTypeEscalationCheck,
		JobTypeMetricRollup,
	}
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	for _, known := range JobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType.
func (t *JobType) UnmarshalText(text []byte) error {
	v := JobType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobType: %q", string(text))
	}
	*t = v
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusSuccess || s == JobStatusFailed
}

// Terminal reports whether the job will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Job is a durable unit of deferred work.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	RunAt          time.Time       `json:"run_at"                     db:"run_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a job.
type CreateJobRequest struct {
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RunAt      *time.Time      `json:"run_at,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// RetryParams records the outcome of a failed attempt.
type RetryParams struct {
	ID         string
	Error      string
	RetryCount int
	Terminal   bool
	NextRunAt  time.Time
}

// JobStats represents counts of jobs by status.
type JobStats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// JobListOptions filters the admin job listing.
type JobListOptions struct {
	Status *JobStatus
	Type   *JobType
	Limit  int
	Offset int
}
