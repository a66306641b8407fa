package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/core"
	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
	"github.com/nbu-mindcare/triage-api/internal/observability/notify"
	"github.com/nbu-mindcare/triage-api/internal/service/failurenotifier"
)

// JobNotifier wakes idle workers when a job is enqueued.
type JobNotifier interface {
	Subscribe() (func(), <-chan struct{})
	StopAll()
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository       // Required: job repository
	DefaultLease    time.Duration            // Required: lease stamped on every claim
	RetryPolicy     domainjob.RetryPolicy    // Optional: zero value means 3 attempts, 30s then 2m
	Logger          *slog.Logger             // Optional: structured logger
	FailureNotifier *failurenotifier.Service // Optional: operator fan-out on permanent failure
	// Notifier overrides the LISTEN-based notifier. When nil and Waiter is set, one is built.
	Notifier        JobNotifier
	Waiter          core.JobWaiter
	NotifierOptions domainjob.NotifierOptions
	Now             func() time.Time
}

// JobService is the queue facade used by the worker and the admin API.
type JobService struct {
	repo            core.JobRepository
	leasePolicy     *domainjob.LeasePolicy
	retryPolicy     domainjob.RetryPolicy
	notifier        JobNotifier
	logger          *slog.Logger
	failureNotifier *failurenotifier.Service
	now             func() time.Time
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	leasePolicy, err := domainjob.NewLeasePolicy(opts.DefaultLease)
	if err != nil {
		return nil, fmt.Errorf("create lease policy: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil && opts.Waiter != nil {
		options := opts.NotifierOptions
		options.Waiter = opts.Waiter
		n, nerr := domainjob.NewNotifier(options)
		if nerr != nil {
			return nil, fmt.Errorf("create job notifier: %w", nerr)
		}
		notifier = n
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &JobService{
		repo:            opts.Repo,
		leasePolicy:     leasePolicy,
		retryPolicy:     opts.RetryPolicy,
		notifier:        notifier,
		logger:          logger.With("component", "job_service"),
		failureNotifier: opts.FailureNotifier,
		now:             now,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Lease returns the lease stamped on claimed jobs.
func (s *JobService) Lease() time.Duration {
	return s.leasePolicy.Duration()
}

// Enqueue schedules p to run no earlier than runAt.
func (s *JobService) Enqueue(ctx context.Context, p domainjob.Payload, runAt time.Time) (*model.Job, error) {
	req, err := domainjob.BuildRequest(p, runAt)
	if err != nil {
		return nil, fmt.Errorf("build job request: %w", err)
	}
	job, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.DebugContext(ctx, "job enqueued", "id", job.ID, "type", job.Type, "run_at", job.RunAt)
	return job, nil
}

// ReclaimStale requeues running jobs whose lease lapsed.
func (s *JobService) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ReclaimStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "reclaimed jobs with expired leases", "count", n)
	}
	return n, nil
}

// ClaimNext claims the earliest due job. It returns model.ErrNoJobsAvailable when nothing is due.
func (s *JobService) ClaimNext(ctx context.Context) (*model.Job, error) {
	seconds := int(s.leasePolicy.Duration() / time.Second)
	job, err := s.repo.ClaimNext(ctx, seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	s.logger.DebugContext(ctx, "job claimed",
		"id", job.ID,
		"type", job.Type,
		"retry_count", job.RetryCount,
		"lease_seconds", seconds,
	)
	return job, nil
}

// Complete marks a running job as succeeded.
func (s *JobService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.MarkSuccess(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if !completed {
		s.logger.WarnContext(ctx, "job was no longer running when completed", "id", id)
	}
	return completed, nil
}

// RetryOrFail records a failed attempt of job. The returned params say whether the job was
// rescheduled or failed permanently. Permanent failures are fanned out to the failure notifier.
func (s *JobService) RetryOrFail(ctx context.Context, job *model.Job, cause error) (model.RetryParams, error) {
	if job == nil {
		return model.RetryParams{}, errors.New("job is required")
	}
	errMsg := "unknown error"
	if cause != nil {
		errMsg = cause.Error()
	}

	params := s.retryPolicy.Next(job, errMsg, s.now())
	applied, err := s.repo.MarkRetryOrFail(ctx, params)
	if err != nil {
		return params, fmt.Errorf("record failed attempt for job %s: %w", job.ID, err)
	}
	if !applied {
		s.logger.WarnContext(ctx, "job was no longer running when failure was recorded", "id", job.ID)
		return params, nil
	}

	if !params.Terminal {
		s.logger.InfoContext(ctx, "job rescheduled",
			"id", job.ID,
			"type", job.Type,
			"retry_count", params.RetryCount,
			"next_run_at", params.NextRunAt,
			"error", errMsg,
		)
		return params, nil
	}

	s.logger.ErrorContext(ctx, "job failed permanently",
		"id", job.ID,
		"type", job.Type,
		"retry_count", params.RetryCount,
		"error", errMsg,
	)
	if s.failureNotifier != nil {
		s.failureNotifier.NotifyJobFailure(ctx, buildJobFailurePayload(job, params, cause, s.now()))
	}
	return params, nil
}

func buildJobFailurePayload(job *model.Job, params model.RetryParams, cause error, at time.Time) notify.JobFailurePayload {
	metadata := map[string]string{
		"retry_count": strconv.Itoa(params.RetryCount),
	}
	if p, err := domainjob.Decode(job.Type, job.Payload); err == nil {
		for k, v := range payloadRefs(p) {
			metadata[k] = v
		}
	}
	return notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    string(job.Type),
		Attempts:   params.RetryCount,
		Error:      params.Error,
		ErrorClass: classify(cause),
		OccurredAt: at.UTC(),
		Metadata:   metadata,
	}
}

// payloadRefs extracts the record ids a payload points at. Recipients are never included.
func payloadRefs(p domainjob.Payload) map[string]string {
	switch v := p.(type) {
	case domainjob.NotifyStaff:
		return map[string]string{"case_id": v.CaseID, "priority": string(v.Priority)}
	case domainjob.EscalationCheck:
		return map[string]string{"case_id": v.CaseID}
	case domainjob.DeliverResult:
		return map[string]string{"assessment_id": v.AssessmentID, "risk_level": string(v.RiskLevel)}
	case domainjob.Reminder:
		return map[string]string{"appointment_id": v.AppointmentID}
	case domainjob.MetricRollup:
		return map[string]string{"date": v.Date, "faculty": v.Faculty}
	default:
		return nil
	}
}

// Subscribe registers for enqueue wakeups. Without a notifier the channel never fires.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		return func() {}, nil
	}
	return s.notifier.Subscribe()
}

// Stats returns job counts by status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns jobs for the admin view, newest first.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid job status: %s", *opts.Status))
	}
	if opts.Type != nil && !opts.Type.Valid() {
		return nil, apperrors.ValidationField("type", fmt.Sprintf("invalid job type: %s", *opts.Type))
	}
	opts.Limit, opts.Offset = normalizePagination(opts.Limit, opts.Offset)

	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// StopAllListeners stops the enqueue listener. Call during graceful shutdown.
func (s *JobService) StopAllListeners() {
	if s.notifier == nil {
		return
	}
	s.logger.Info("stopping job listeners")
	s.notifier.StopAll()
}
