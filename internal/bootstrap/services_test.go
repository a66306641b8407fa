package bootstrap

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbu-mindcare/triage-api/config"
	"github.com/nbu-mindcare/triage-api/internal/adapters/line"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{name: "no services enabled", want: 0},
		{name: "http only", modes: []config.ServiceMode{config.ServiceModeHTTP}, want: 1},
		{name: "worker and reaper", modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper}, want: 2},
		{name: "all services enabled", modes: config.ValidServiceModes(), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestGetEnabledServicesOrdered(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http,worker"}
	assert.Equal(t, []string{"http", "worker", "reaper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "worker"}))
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestBuildFailureNotifierWithoutSinks(t *testing.T) {
	n := buildFailureNotifier(slog.Default(), config.ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   config.SlackNotificationConfig{Enabled: false},
	})
	require.NotNil(t, n)
}

func TestBuildFailureNotifierRegistersSinks(t *testing.T) {
	cfg := config.ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/services/x"},
		PagerDuty: config.PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "routing-key",
		},
	}
	cfg.Sanitize()
	n := buildFailureNotifier(slog.Default(), cfg)
	require.NotNil(t, n)
	assert.Equal(t, []string{"slack", "pagerduty"}, n.SinkNames())
}

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		Services: "http,worker",
		Worker: config.WorkerConfig{
			PollInterval:   5 * time.Second,
			JobLease:       2 * time.Minute,
			MaxAttempts:    3,
			RetryBaseDelay: 30 * time.Second,
			RetryFactor:    4,
			HandlerTimeout: time.Minute,
		},
		Triage: config.TriageConfig{
			EscalationDeadline: 30 * time.Minute,
			CasePolicy:         model.CasePolicyPerSubmission,
			RecentWindow:       720 * time.Hour,
		},
		RateLimit: config.RateLimitConfig{Submissions: 5, Window: time.Hour, KeyPrefix: "test"},
		LINE:      config.LINEConfig{ChannelAccessToken: "test-token", APIBaseURL: "http://127.0.0.1:1"},
	}
}

func TestNewServicesWiresEverything(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	services, err := NewServices(&ServiceDeps{Config: testAppConfig(), DB: db, Logger: slog.Default()})
	require.NoError(t, err)

	assert.NotNil(t, services.Jobs)
	assert.NotNil(t, services.Triage)
	assert.NotNil(t, services.Cases)
	assert.NotNil(t, services.Appointments)
	assert.NotNil(t, services.Handlers)
	assert.NotNil(t, services.Observability.FailureNotifier)
	assert.Nil(t, services.Observability.MetricsSink)
	assert.Equal(t, 2*time.Minute, services.Jobs.Lease())

	_, err = NewServices(nil)
	require.Error(t, err)
}

func TestNewServicesRequiresLineTokenForProductionWorker(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testAppConfig()
	cfg.LINE.ChannelAccessToken = ""
	_, err = NewServices(&ServiceDeps{Config: cfg, DB: db, Logger: slog.Default()})
	require.ErrorIs(t, err, line.ErrMissingToken)

	devCfg := testAppConfig()
	devCfg.LINE.ChannelAccessToken = ""
	devCfg.IsDev = true
	_, err = NewServices(&ServiceDeps{Config: devCfg, DB: db, Logger: slog.Default()})
	require.NoError(t, err, "dev mode falls back to the logging messenger")

	apiCfg := testAppConfig()
	apiCfg.LINE.ChannelAccessToken = ""
	apiCfg.Services = "http"
	_, err = NewServices(&ServiceDeps{Config: apiCfg, DB: db, Logger: slog.Default()})
	require.NoError(t, err, "an API-only process never sends messages")
}

func TestRoutesFollowContainer(t *testing.T) {
	rs := routerServices(ServiceContainer{}, nil, slog.Default())
	assert.Nil(t, rs.Triage)
	assert.Nil(t, rs.Cases)
	assert.Nil(t, rs.Appointments)
	assert.Nil(t, rs.Jobs)
}

func TestReadinessChecks(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing().WillReturnError(errors.New("db down"))

	checks := readinessChecks(db, nil)
	require.Contains(t, checks, "postgres")
	assert.NotContains(t, checks, "redis")
	require.Error(t, checks["postgres"](context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, readinessChecks((*sql.DB)(nil), nil))
}

func TestRunWorkerRequiresJobs(t *testing.T) {
	err := RunWorker(context.Background(), WorkerConfig{})
	require.Error(t, err)
}

func TestRunReaperRequiresStorage(t *testing.T) {
	err := RunReaper(context.Background(), ReaperConfig{Config: config.ReaperConfig{Interval: time.Minute}})
	require.Error(t, err)
}
