// Package line delivers chat messages through the LINE Messaging API.
package line

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/domain/message"
)

const (
	pushPath = "/v2/bot/message/push"
	// maxMessagesPerPush is the API limit on bubbles in one push request.
	maxMessagesPerPush = 5
)

// Config configures the push client.
type Config struct {
	ChannelAccessToken string
	BaseURL            string
	Timeout            time.Duration
	RetryCount         int
	Logger             *slog.Logger
	// AllowNoop permits a missing token, in which case messages are logged and dropped.
	AllowNoop bool
}

// ErrMissingToken is returned by New when no token is set and AllowNoop is false.
var ErrMissingToken = errors.New("line: channel access token is required")

// Client pushes messages with a channel access token.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

type pushRequest struct {
	To       string            `json:"to"`
	Messages []message.Message `json:"messages"`
}

type apiError struct {
	Message string `json:"message"`
	Details []struct {
		Message  string `json:"message"`
		Property string `json:"property"`
	} `json:"details"`
}

// New returns a messenger for cfg. Without a token it returns a no-op messenger that only
// logs, but only when cfg.AllowNoop is set.
//
//nolint:ireturn // callers only need the Messenger port.
func New(cfg Config) (core.Messenger, error) {
	if strings.TrimSpace(cfg.ChannelAccessToken) != "" {
		return NewClient(cfg), nil
	}
	if !cfg.AllowNoop {
		return nil, ErrMissingToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("LINE token not set; messages will be logged and dropped")
	return &NoopClient{logger: logger.With("component", "line_noop")}, nil
}

// NewClient builds a push client.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.line.me"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hc := resty.New().
		SetBaseURL(base).
		SetAuthToken(strings.TrimSpace(cfg.ChannelAccessToken)).
		SetTimeout(timeout).
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || r.StatusCode() >= 500
		})

	return &Client{http: hc, logger: logger.With("component", "line_client")}
}

// Send pushes msgs to recipient, splitting them into API-sized batches.
// Each batch carries its own retry key so transport retries are not delivered twice.
func (c *Client) Send(ctx context.Context, recipient string, msgs []message.Message) error {
	if strings.TrimSpace(recipient) == "" {
		return errors.New("line: recipient is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	for start := 0; start < len(msgs); start += maxMessagesPerPush {
		end := min(start+maxMessagesPerPush, len(msgs))
		if err := c.push(ctx, recipient, msgs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) push(ctx context.Context, recipient string, batch []message.Message) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Line-Retry-Key", uuid.NewString()).
		SetBody(pushRequest{To: recipient, Messages: batch}).
		SetError(&apiErr).
		Post(pushPath)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	// 409 means an earlier attempt with the same retry key was already accepted.
	if resp.StatusCode() == 409 {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("line push %s: %s", resp.Status(), describe(apiErr, resp))
	}
	c.logger.DebugContext(ctx, "line push accepted", "messages", len(batch))
	return nil
}

func describe(apiErr apiError, resp *resty.Response) string {
	if apiErr.Message == "" {
		return strings.TrimSpace(resp.String())
	}
	parts := []string{apiErr.Message}
	for _, d := range apiErr.Details {
		parts = append(parts, fmt.Sprintf("%s (%s)", d.Message, d.Property))
	}
	return strings.Join(parts, "; ")
}

// NoopClient satisfies core.Messenger when no channel is configured.
type NoopClient struct {
	logger *slog.Logger
}

// Send logs and discards msgs.
func (n *NoopClient) Send(ctx context.Context, _ string, msgs []message.Message) error {
	n.logger.InfoContext(ctx, "LINE not configured; message dropped", "messages", len(msgs))
	return nil
}

var (
	_ core.Messenger = (*Client)(nil)
	_ core.Messenger = (*NoopClient)(nil)
)
