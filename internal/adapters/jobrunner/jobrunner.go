// Package jobrunner runs the background worker that drains the durable job queue.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/observability/metrics"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
	"github.com/nbu-mindcare/triage-api/internal/service"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultHandlerTimeout = 60 * time.Second
)

// Dispatcher executes one decoded payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, p domainjob.Payload) error
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs       *service.JobService // Required
	Dispatcher Dispatcher          // Required
	Logger     *slog.Logger
	Metrics    statsd.Sink

	// PollInterval is the cadence of claim cycles; defaults to 5s.
	PollInterval time.Duration
	// HandlerTimeout bounds one handler call; defaults to 60s and never exceeds the lease.
	HandlerTimeout time.Duration
	Now            func() time.Time
}

// Runner claims one job per cycle and executes it with the registered handlers.
type Runner struct {
	jobs           *service.JobService
	dispatcher     Dispatcher
	logger         *slog.Logger
	metrics        statsd.Sink
	pollInterval   time.Duration
	handlerTimeout time.Duration
	now            func() time.Time
}

// NewRunner constructs a job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := opts.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	if lease := opts.Jobs.Lease(); timeout > lease {
		timeout = lease
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		jobs:           opts.Jobs,
		dispatcher:     opts.Dispatcher,
		logger:         logger.With("component", "job_runner"),
		metrics:        opts.Metrics,
		pollInterval:   poll,
		handlerTimeout: timeout,
		now:            now,
	}, nil
}

// Run processes jobs until ctx is cancelled. Storage errors are logged and the loop keeps going.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"poll_interval", r.pollInterval,
		"handler_timeout", r.handlerTimeout,
		"lease", r.jobs.Lease(),
	)

	unsub, wake := r.jobs.Subscribe()
	defer unsub()

	for {
		processed, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "job cycle failed", "error", err)
		}
		// An idle worker may be woken early by an enqueue; a busy one always waits out the interval.
		early := wake
		if processed {
			early = nil
		}
		if !r.wait(ctx, early) {
			r.logger.InfoContext(ctx, "job runner stopped")
			return ctx.Err()
		}
	}
}

func (r *Runner) wait(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case _, ok := <-wake:
		if !ok {
			// Listener shut down; fall back to plain polling.
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		return true
	}
}

// RunOnce runs a single cycle: reclaim expired leases, claim the earliest due job, execute it.
// It reports whether a job was processed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	reclaimed, err := r.jobs.ReclaimStale(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "reclaim stale jobs failed", "error", err)
	} else if reclaimed > 0 {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    "any",
			Transition: metrics.TransitionReclaim,
			Result:     metrics.ResultRetry,
		})
	}

	job, err := r.jobs.ClaimNext(ctx)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return false, nil
	}
	if err != nil {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    "any",
			Transition: metrics.TransitionClaim,
			Result:     metrics.ResultError,
			Err:        err,
		})
		return false, err
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: metrics.TransitionClaim,
		Result:     metrics.ResultSuccess,
	})

	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job *model.Job) {
	start := r.now()
	logger := r.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.RetryCount+1)

	runErr := r.execute(ctx, job)
	if runErr == nil {
		result := metrics.ResultSuccess
		completed, err := r.jobs.Complete(ctx, job.ID)
		switch {
		case err != nil:
			logger.ErrorContext(ctx, "complete job error", "error", err)
			result = metrics.ResultError
			runErr = err
		case !completed:
			result = metrics.ResultNoop
		default:
			logger.InfoContext(ctx, "job succeeded")
		}
		r.emitRun(job, result, start, runErr)
		return
	}

	logger.WarnContext(ctx, "job attempt failed", "error", runErr)
	params, err := r.jobs.RetryOrFail(ctx, job, runErr)
	if err != nil {
		logger.ErrorContext(ctx, "record job failure error", "error", err, "original_error", runErr)
		r.emitRun(job, metrics.ResultError, start, err)
		return
	}
	result := metrics.ResultRetry
	if params.Terminal {
		result = metrics.ResultError
	}
	r.emitRun(job, result, start, runErr)
}

// execute decodes the payload and runs its handler under the handler timeout.
func (r *Runner) execute(ctx context.Context, job *model.Job) (err error) {
	payload, err := domainjob.Decode(job.Type, job.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return r.dispatcher.Dispatch(hctx, payload)
}

func (r *Runner) emitRun(job *model.Job, result string, start time.Time, err error) {
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: metrics.TransitionRun,
		Result:     result,
		Duration:   r.now().Sub(start),
		Err:        err,
	})
}
