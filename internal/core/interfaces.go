// Package core holds the ports between the triage services and their collaborators.
package core

import (
	"context"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/message"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// Repository interfaces define the contracts between the service layer and the data layer.
// Service implementations depend on these interfaces, not on concrete implementations.
// Mocks live in internal/mocks.

// JobRepository defines the durable job queue.
type JobRepository interface {
	Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ClaimNext atomically moves the earliest eligible pending job to running.
	// Returns model.ErrNoJobsAvailable when nothing is due.
	ClaimNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	// ReclaimStale returns running jobs whose lease lapsed to pending, or fails them at the ceiling.
	ReclaimStale(ctx context.Context) (int64, error)
	MarkSuccess(ctx context.Context, id string) (bool, error)
	MarkRetryOrFail(ctx context.Context, params model.RetryParams) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
}

// JobWaiter blocks until a job is enqueued.
type JobWaiter interface {
	WaitForJob(ctx context.Context) error
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs (≤3 params rule).
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines queue housekeeping.
type ReaperRepository interface {
	ReclaimStale(ctx context.Context) (int64, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// CaseRepository defines case reads and guarded status changes.
type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*model.Case, error)
	// UpdateStatus applies the change only if the case is still in params.Expected.
	UpdateStatus(ctx context.Context, params model.UpdateCaseStatusParams) (bool, error)
}

// AssessmentRepository defines assessment reads.
type AssessmentRepository interface {
	GetByID(ctx context.Context, id string) (*model.Assessment, error)
	LatestByStudent(ctx context.Context, studentID string) (*model.Assessment, error)
}

// StaffDirectory resolves staff members and their notification addresses.
type StaffDirectory interface {
	GetByID(ctx context.Context, id string) (*model.Staff, error)
	// ActiveContacts lists active staff in any of roles that have a notification address.
	ActiveContacts(ctx context.Context, roles []model.StaffRole) ([]model.StaffContact, error)
}

// StudentRepository resolves students.
type StudentRepository interface {
	GetByID(ctx context.Context, id string) (*model.Student, error)
}

// AppointmentRepository defines appointment reads and status changes.
type AppointmentRepository interface {
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status model.AppointmentStatus) (*model.Appointment, error)
}

// MetricRepository maintains the daily screening aggregate.
type MetricRepository interface {
	Increment(ctx context.Context, key model.DailyMetricKey) error
}

// TxStore is the set of writes that must commit together.
type TxStore interface {
	InsertAssessment(ctx context.Context, a *model.Assessment) error
	InsertCase(ctx context.Context, c *model.Case) error
	// OpenCaseForStudent locks and returns the student's newest non-closed case, or nil.
	OpenCaseForStudent(ctx context.Context, studentID string) (*model.Case, error)
	// AttachAssessment points a reused case at its latest qualifying assessment and sets its priority.
	AttachAssessment(ctx context.Context, caseID, assessmentID string, priority model.CasePriority) error
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
}

// Transactor runs fn inside one storage transaction; any error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx TxStore) error) error
}

// Messenger delivers chat messages to a recipient address.
type Messenger interface {
	Send(ctx context.Context, recipient string, msgs []message.Message) error
}

// RateLimiter admits or rejects an action for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
