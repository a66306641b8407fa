package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbu-mindcare/triage-api/config"
	"github.com/nbu-mindcare/triage-api/internal/adapters/jobrunner"
	"github.com/nbu-mindcare/triage-api/internal/adapters/reaper"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
	"github.com/nbu-mindcare/triage-api/internal/service"
)

// WorkerConfig contains configuration for the job worker.
type WorkerConfig struct {
	Jobs       *service.JobService
	Dispatcher jobrunner.Dispatcher
	Config     config.WorkerConfig
	Metrics    statsd.Sink
	Logger     *slog.Logger
}

// RunWorker claims and executes jobs until ctx is canceled.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:           cfg.Jobs,
		Dispatcher:     cfg.Dispatcher,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		PollInterval:   cfg.Config.PollInterval,
		HandlerTimeout: cfg.Config.HandlerTimeout,
	})
	if err != nil {
		return fmt.Errorf("create job worker: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run job worker: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
