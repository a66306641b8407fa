package job

import (
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// RetryPolicy decides what happens to a job after a failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      int
}

// DefaultRetryPolicy returns 3 attempts with 30s, 2m backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: model.DefaultMaxAttempts, BaseDelay: 30 * time.Second, Factor: 4}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	return p
}

// Delay returns the backoff after the given number of failed attempts (1-based).
func (p RetryPolicy) Delay(failedAttempts int) time.Duration {
	p = p.normalized()
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < failedAttempts; i++ {
		d *= time.Duration(p.Factor)
	}
	return d
}

// Next computes the retry bookkeeping for a job whose current attempt just failed.
// A per-job ceiling (max_retries) overrides the policy default when set.
func (p RetryPolicy) Next(j *model.Job, errMsg string, now time.Time) model.RetryParams {
	p = p.normalized()
	ceiling := p.MaxAttempts
	if j.MaxRetries > 0 {
		ceiling = j.MaxRetries
	}
	failed := j.RetryCount + 1
	params := model.RetryParams{
		ID:         j.ID,
		Error:      errMsg,
		RetryCount: failed,
	}
	if failed >= ceiling {
		params.Terminal = true
		return params
	}
	params.NextRunAt = now.Add(p.Delay(failed)).UTC()
	return params
}
