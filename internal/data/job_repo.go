package data

import (
	"database/sql"
	"log/slog"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// ErrJobNotFound is returned when a job is not found.
var ErrJobNotFound = model.ErrJobNotFound

// JobChannel is the LISTEN/NOTIFY channel signalled on every enqueue.
const JobChannel = "job_added"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// MaxAttempts is stamped into max_retries for requests that do not set their own.
	// Zero means model.DefaultMaxAttempts.
	MaxAttempts int
}

// JobRepo provides database operations for the job queue.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
	maxAttempts  int
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = model.DefaultMaxAttempts
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
		maxAttempts:  maxAttempts,
	}
}

const jobColumns = `
  id,
  type,
  status,
  payload,
  run_at,
  retry_count,
  max_retries,
  last_error,
  lease_expires_at,
  started_at,
  completed_at,
  created_at,
  updated_at
`
