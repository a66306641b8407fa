// Package notify defines operator notifications for jobs that exhausted their retries.
package notify

import (
	"context"
	"time"
)

// SeverityCritical is the default severity for permanent job failures.
const SeverityCritical = "critical"

// JobFailurePayload describes a job that reached the failed state.
type JobFailurePayload struct {
	JobID      string
	JobType    string
	Attempts   int
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	// Metadata carries identifiers such as case_id or appointment_id. Never student free text.
	Metadata map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
