package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/nbu-mindcare/triage-api/internal/bootstrap"
	"github.com/nbu-mindcare/triage-api/internal/data"
	"github.com/nbu-mindcare/triage-api/internal/service"
)

func runClearRateLimit(cmdCtx *commandContext, args []string) error {
	studentID, err := parseClearRateLimitFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		return errors.New("redis is disabled; there is no rate limit state to clear")
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	rl := cmdCtx.Config.RateLimit
	limiter, err := data.NewRedisRateLimiter(client, data.RedisRateLimiterConfig{
		Prefix: rl.KeyPrefix,
		Limit:  max(rl.Submissions, 1),
		Window: rl.Window,
	})
	if err != nil {
		return err
	}
	if err := limiter.Reset(ctx, service.SubmissionLimitKey(studentID)); err != nil {
		return err
	}

	cmdCtx.Logger.Info("submission rate limit cleared", "student_id", studentID)
	return nil
}

func parseClearRateLimitFlags(args []string) (string, error) {
	fs := flag.NewFlagSet("clear-rate-limit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var studentID string
	fs.StringVar(&studentID, "student", "", "Student UUID whose submission window should be cleared")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return "", errors.New("--student is required")
	}
	if _, err := uuid.Parse(studentID); err != nil {
		return "", fmt.Errorf("--student must be a UUID: %w", err)
	}
	return studentID, nil
}
