// Package slack posts job failure alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nbu-mindcare/triage-api/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	// JobURLPrefix, when set, turns the job id into a link (prefix + "/" + id).
	JobURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	jobURLPrefix string
	http         *resty.Client
}

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := resty.New().
		SetTimeout(timeout).
		SetRetryCount(max(cfg.RetryLimit, 0)).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || r.StatusCode() >= 500
		})

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "mindcare-triage"
	}

	return &Client{
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     username,
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
		http:         hc,
	}, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(c.formatMessage(payload)).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) map[string]any {
	var text strings.Builder
	text.WriteString("*Job failed permanently*")
	if payload.JobID != "" {
		text.WriteString(" ")
		text.WriteString(c.jobRef(payload.JobID))
	}
	if payload.JobType != "" {
		text.WriteString(" (" + payload.JobType + ")")
	}
	text.WriteByte('\n')

	severity := payload.Severity
	if severity == "" {
		severity = notify.SeverityCritical
	}
	writeField(&text, "Severity", severity)
	if payload.Attempts > 0 {
		writeField(&text, "Attempts", strconv.Itoa(payload.Attempts))
	}
	writeField(&text, "Error class", payload.ErrorClass)
	writeField(&text, "Error", escape(payload.Error))

	keys := make([]string, 0, len(payload.Metadata))
	for k := range payload.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&text, k, escape(payload.Metadata[k]))
	}

	ts := payload.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	text.WriteString("• Timestamp: " + ts.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) jobRef(id string) string {
	code := "`" + escape(id) + "`"
	if c.jobURLPrefix == "" {
		return code
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return code
	}
	link, err := url.JoinPath(u.String(), id)
	if err != nil {
		return code
	}
	return fmt.Sprintf("<%s|%s>", link, escape(id))
}

func writeField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• " + label + ": " + value + "\n")
}

func escape(value string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}
