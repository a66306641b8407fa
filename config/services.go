package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// PollInterval is the wait between cycles. Each cycle processes at most one job.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// JobLease is how long a claimed job is owned before it may be reclaimed.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"2m"`

	// MaxAttempts is the default retry ceiling for jobs without their own.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay is the wait after the first failed attempt.
	RetryBaseDelay time.Duration `env:"WORKER_RETRY_BASE_DELAY" envDefault:"30s"`

	// RetryFactor multiplies the delay after each further failure.
	RetryFactor int `env:"WORKER_RETRY_FACTOR" envDefault:"4"`

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration `env:"WORKER_HANDLER_TIMEOUT" envDefault:"60s"`

	// ListenNotify lets an idle worker wake early on LISTEN job_added.
	ListenNotify bool `env:"WORKER_LISTEN_NOTIFY" envDefault:"true"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.RetryBaseDelay < time.Second {
		w.RetryBaseDelay = time.Second
	}
	if w.RetryFactor < 1 {
		w.RetryFactor = 1
	}
	if w.HandlerTimeout <= 0 || w.HandlerTimeout > w.JobLease {
		w.HandlerTimeout = w.JobLease
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// SucceededMaxAge is the maximum age for succeeded jobs before deletion.
	SucceededMaxAge time.Duration `env:"REAPER_SUCCEEDED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	// Failed jobs are kept longer so operators can inspect last_error.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.SucceededMaxAge < 1*time.Hour {
		r.SucceededMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
