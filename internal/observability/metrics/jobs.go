// Package metrics centralises metric names and tag shapes emitted by the triage pipeline.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/nbu-mindcare/triage-api/internal/observability/errors"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultRetry   = "retry"
	ResultNoop    = "noop"
)

// Job lifecycle transitions.
const (
	TransitionClaim   = "claim"
	TransitionRun     = "run"
	TransitionReclaim = "reclaim"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && (in.Result == ResultError || in.Result == ResultRetry) {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// TriageMetric describes one accepted assessment submission.
type TriageMetric struct {
	Instrument string
	RiskLevel  string
	Intent     string
	NewCase    bool
	JobsQueued int
	Duration   time.Duration
}

// EmitTriage records a submission outcome.
func EmitTriage(sink statsd.Sink, in TriageMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"instrument": in.Instrument,
		"risk_level": in.RiskLevel,
		"intent":     in.Intent,
		"new_case":   strconv.FormatBool(in.NewCase),
	}
	sink.Count("triage.submission", 1, tags)
	sink.Count("triage.jobs_enqueued", int64(in.JobsQueued), CloneTags(tags))
	if in.Duration > 0 {
		sink.Timing("triage.duration", in.Duration, CloneTags(tags))
	}
}

// EmitRejected records a submission refused before scoring, e.g. validation or rate limiting.
func EmitRejected(sink statsd.Sink, reason string) {
	if sink == nil {
		return
	}
	sink.Count("triage.rejected", 1, map[string]string{"reason": reason})
}

// EmitReaper records rows removed by a reaper sweep.
func EmitReaper(sink statsd.Sink, status string, deleted int64, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"status": status, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	sink.Count("reaper.deleted", deleted, tags)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
