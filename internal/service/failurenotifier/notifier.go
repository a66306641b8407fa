// Package failurenotifier fans permanent job failures out to operator sinks (Slack, PagerDuty).
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/observability/notify"
)

// SeverityWarning marks failures that do not put a student at risk, such as a missed reminder.
const SeverityWarning = "warning"

const defaultSinkTimeout = 10 * time.Second

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// SinkTimeout bounds each delivery. Defaults to 10s.
	SinkTimeout time.Duration
	Now         func() time.Time
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
	now     func() time.Time
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:  logger.With("component", "failure_notifier"),
		sinks:   sinks,
		timeout: timeout,
		now:     now,
	}
}

// SinkNames lists the registered sinks in dispatch order.
func (s *Service) SinkNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.sinks))
	for _, sink := range s.sinks {
		names = append(names, sink.Name)
	}
	return names
}

// SeverityFor returns the default severity for a failed job type.
// Failures on the staff alerting path are critical; everything else is a warning.
func SeverityFor(jobType string) string {
	switch model.JobType(jobType) {
	case model.JobTypeNotifyStaff, model.JobTypeEscalationCheck:
		return notify.SeverityCritical
	default:
		return SeverityWarning
	}
}

// NotifyJobFailure fans the payload out to all sinks and waits for every delivery.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = SeverityFor(payload.JobType)
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = s.now().UTC()
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()
			if err := entry.Sink.SendJobFailure(sendCtx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
