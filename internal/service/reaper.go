package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nbu-mindcare/triage-api/config"
	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/observability/metrics"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time      // Optional: clock for the last-success gauge
}

// ReaperService keeps the job table healthy.
//
// Each sweep:
// - requeues running jobs whose lease lapsed, covering deployments where no worker is up;
// - deletes succeeded jobs older than SucceededMaxAge;
// - deletes failed jobs older than FailedMaxAge.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"succeeded_max_age", opts.Config.SucceededMaxAge,
		"failed_max_age", opts.Config.FailedMaxAge,
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Jitter keeps replicas started together from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter sleeps a random delay below 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	spread := s.config.Interval / 10
	if spread <= 0 {
		return
	}
	timer := time.NewTimer(rand.N(spread))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	status string
	fn     func(context.Context) (int64, error)
}

// RunOnce performs one sweep. Every step runs even when an earlier one fails.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	steps := []cleanupStep{
		{status: "reclaimed", fn: s.reclaimStale},
		{status: string(model.JobStatusSuccess), fn: s.deleteOld(model.JobStatusSuccess, s.config.SucceededMaxAge)},
		{status: string(model.JobStatusFailed), fn: s.deleteOld(model.JobStatusFailed, s.config.FailedMaxAge)},
	}

	var (
		errs     []error
		total    int64
		canceled = true
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		total += count
		metrics.EmitReaper(s.metrics, step.status, count, suppressContextCancellation(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.status, err))
			canceled = canceled && isContextCancellation(err)
		}
	}

	s.emitSweepMetrics(total, time.Since(start), len(errs) > 0)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if canceled {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

func (s *ReaperService) reclaimStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ReclaimStale(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "reaper reclaimed jobs with expired leases", "count", n)
	}
	return n, nil
}

// deleteOld loops in batches until a batch deletes nothing.
func (s *ReaperService) deleteOld(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		var total int64
		for {
			count, err := s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
				Status:    status,
				MaxAge:    maxAge,
				BatchSize: s.config.BatchSize,
			})
			if err != nil {
				return total, err
			}
			total += count
			if count == 0 {
				break
			}
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
		}
		if total > 0 {
			s.logger.InfoContext(ctx, "deleted old jobs", "status", status, "count", total, "max_age", maxAge)
		}
		return total, nil
	}
}

func (s *ReaperService) emitSweepMetrics(total int64, elapsed time.Duration, failed bool) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	switch {
	case failed:
		result = metrics.ResultError
	case total == 0:
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	if !failed {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
