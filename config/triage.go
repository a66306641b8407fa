package config

import (
	"strings"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// TriageConfig controls the submission pipeline.
type TriageConfig struct {
	// EscalationDeadline is how long a crisis case may stay unacknowledged.
	EscalationDeadline time.Duration `env:"TRIAGE_ESCALATION_DEADLINE" envDefault:"30m"`

	// CasePolicy is per_submission or reuse_open.
	CasePolicy model.CasePolicy `env:"TRIAGE_CASE_POLICY" envDefault:"per_submission"`

	// AdminURL is the staff dashboard base used in alert links.
	AdminURL string `env:"TRIAGE_ADMIN_URL" envDefault:"http://localhost:3000"`

	// BookingURL is the student booking page offered with moderate and high results.
	BookingURL string `env:"TRIAGE_BOOKING_URL" envDefault:""`

	// RecentWindow is how far back an assessment counts as recent for booking.
	RecentWindow time.Duration `env:"TRIAGE_RECENT_WINDOW" envDefault:"720h"` // 30 days
}

// Sanitize applies guardrails to triage configuration values.
func (t *TriageConfig) Sanitize() {
	if t.EscalationDeadline < time.Minute {
		t.EscalationDeadline = time.Minute
	}
	if !t.CasePolicy.Valid() {
		t.CasePolicy = model.CasePolicyPerSubmission
	}
	t.AdminURL = strings.TrimRight(strings.TrimSpace(t.AdminURL), "/")
	t.BookingURL = strings.TrimSpace(t.BookingURL)
	if t.RecentWindow <= 0 {
		t.RecentWindow = 30 * 24 * time.Hour
	}
}

// LINEConfig configures the LINE Messaging API client.
type LINEConfig struct {
	// ChannelAccessToken authorises push calls. A worker refuses to start without it unless DEV is set,
	// in which case messages are logged and dropped.
	ChannelAccessToken string        `env:"CHANNEL_ACCESS_TOKEN"`
	APIBaseURL         string        `env:"API_BASE_URL"         envDefault:"https://api.line.me"`
	Timeout            time.Duration `env:"TIMEOUT"              envDefault:"10s"`
	RetryCount         int           `env:"RETRY_COUNT"          envDefault:"2"`
}

// Sanitize normalises LINE configuration values.
func (c *LINEConfig) Sanitize() {
	c.ChannelAccessToken = strings.TrimSpace(c.ChannelAccessToken)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.line.me"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
}

// Enabled reports whether a channel token is configured.
func (c *LINEConfig) Enabled() bool {
	return c.ChannelAccessToken != ""
}

// RateLimitConfig bounds assessment submissions per student.
type RateLimitConfig struct {
	Submissions int           `env:"SUBMISSIONS" envDefault:"5"`
	Window      time.Duration `env:"WINDOW"      envDefault:"1h"`
	KeyPrefix   string        `env:"KEY_PREFIX"  envDefault:"mindcare:ratelimit"`
}

// Sanitize applies guardrails to rate limit configuration values.
func (c *RateLimitConfig) Sanitize() {
	if c.Submissions < 1 {
		c.Submissions = 1
	}
	if c.Window < time.Second {
		c.Window = time.Second
	}
	if c.KeyPrefix = strings.TrimSpace(c.KeyPrefix); c.KeyPrefix == "" {
		c.KeyPrefix = "mindcare:ratelimit"
	}
}
