package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nbu-mindcare/triage-api/config"
	"github.com/nbu-mindcare/triage-api/internal/adapters/jobrunner"
	"github.com/nbu-mindcare/triage-api/internal/adapters/line"
	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/data"
	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/message"
	httpx "github.com/nbu-mindcare/triage-api/internal/http"
	"github.com/nbu-mindcare/triage-api/internal/observability/notify/pagerduty"
	"github.com/nbu-mindcare/triage-api/internal/observability/notify/slack"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
	"github.com/nbu-mindcare/triage-api/internal/service"
	"github.com/nbu-mindcare/triage-api/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs         *service.JobService
	Triage       *service.TriageService
	Cases        *service.CaseService
	Appointments *service.AppointmentService
	// Handlers executes job payloads for the worker.
	Handlers      *jobrunner.Handlers
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     statsd.Sink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Jobs         *data.JobRepo
	Tx           *data.TxRunner
	Cases        *data.CaseRepo
	Assessments  *data.AssessmentRepo
	Staff        *data.StaffRepo
	Students     *data.StudentRepo
	Appointments *data.AppointmentRepo
	DailyMetrics *data.MetricRepo
	Limiter      core.RateLimiter
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink statsd.Sink
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	var sinks []failurenotifier.SinkRegistration
	if cfg.Enabled && cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}
	if cfg.Enabled && cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	n := failurenotifier.NewService(failurenotifier.Options{
		Logger:      baseLogger,
		Sinks:       sinks,
		SinkTimeout: cfg.Timeout,
	})
	if cfg.Enabled {
		baseLogger.Info("failure notifications configured", "sinks", n.SinkNames())
	}
	return n
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	jobs := data.NewJobRepo(db, data.RepoConfig{Logger: logger, MaxAttempts: cfg.Worker.MaxAttempts})
	repos := &serviceRepositories{
		Jobs:         jobs,
		Tx:           data.NewTxRunner(db, jobs),
		Cases:        data.NewCaseRepo(db),
		Assessments:  data.NewAssessmentRepo(db),
		Staff:        data.NewStaffRepo(db),
		Students:     data.NewStudentRepo(db),
		Appointments: data.NewAppointmentRepo(db, nil),
		DailyMetrics: data.NewMetricRepo(db),
	}

	if redisClient != nil {
		limiter, err := data.NewRedisRateLimiter(redisClient, data.RedisRateLimiterConfig{
			Prefix: cfg.RateLimit.KeyPrefix,
			Limit:  cfg.RateLimit.Submissions,
			Window: cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Error("failed to initialise rate limiter; submissions are not limited", "error", err)
		} else {
			repos.Limiter = limiter
		}
	}
	return repos
}

func newJobService(repos *serviceRepositories, cfg *config.AppConfig, obs ObservabilityContainer, logger *slog.Logger) *service.JobService {
	opts := service.JobServiceOptions{
		Repo:         repos.Jobs,
		DefaultLease: cfg.Worker.JobLease,
		RetryPolicy: domainjob.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			BaseDelay:   cfg.Worker.RetryBaseDelay,
			Factor:      cfg.Worker.RetryFactor,
		},
		FailureNotifier: obs.FailureNotifier,
		Logger:          logger,
	}
	if cfg.Worker.ListenNotify {
		opts.Waiter = repos.Jobs
	}
	return service.MustNewJobService(opts)
}

// newMessenger builds the LINE client. A worker outside dev mode must have a token: the
// no-op client would mark crisis alerts delivered while dropping them.
//
//nolint:ireturn // handlers depend on the Messenger port.
func newMessenger(cfg *config.AppConfig, logger *slog.Logger) (core.Messenger, error) {
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	m, err := line.New(line.Config{
		ChannelAccessToken: cfg.LINE.ChannelAccessToken,
		BaseURL:            cfg.LINE.APIBaseURL,
		Timeout:            cfg.LINE.Timeout,
		RetryCount:         cfg.LINE.RetryCount,
		Logger:             logger,
		AllowNoop:          cfg.IsDev || !enabled[config.ServiceModeWorker],
	})
	if err != nil {
		return nil, fmt.Errorf("configure LINE messaging (set LINE_CHANNEL_ACCESS_TOKEN): %w", err)
	}
	return m, nil
}

// NewServices wires repositories, domain services and job handlers.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	obs := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, cfg, logger)

	triage, err := service.NewTriageService(service.TriageServiceOptions{
		Tx:                 repos.Tx,
		Students:           repos.Students,
		Staff:              repos.Staff,
		Assessments:        repos.Assessments,
		Limiter:            repos.Limiter,
		Metrics:            obs.MetricsSink,
		CasePolicy:         cfg.Triage.CasePolicy,
		EscalationDeadline: cfg.Triage.EscalationDeadline,
		RecentWindow:       cfg.Triage.RecentWindow,
		Logger:             logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create triage service: %w", err)
	}

	cases, err := service.NewCaseService(service.CaseServiceOptions{
		Cases:  repos.Cases,
		Staff:  repos.Staff,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create case service: %w", err)
	}

	appointments, err := service.NewAppointmentService(service.AppointmentServiceOptions{
		Tx:           repos.Tx,
		Appointments: repos.Appointments,
		Students:     repos.Students,
		Staff:        repos.Staff,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create appointment service: %w", err)
	}

	messenger, err := newMessenger(cfg, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	handlers, err := jobrunner.NewHandlers(jobrunner.HandlersOptions{
		Messenger:    messenger,
		Cases:        repos.Cases,
		Staff:        repos.Staff,
		Appointments: repos.Appointments,
		DailyMetrics: repos.DailyMetrics,
		Links:        message.Links{AdminURL: cfg.Triage.AdminURL, BookingURL: cfg.Triage.BookingURL},
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job handlers: %w", err)
	}

	return ServiceContainer{
		Jobs:          newJobService(repos, cfg, obs, logger),
		Triage:        triage,
		Cases:         cases,
		Appointments:  appointments,
		Handlers:      handlers,
		Observability: obs,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func readinessChecks(db *sql.DB, redisClient redis.UniversalClient) map[string]httpx.ReadinessCheck {
	checks := map[string]httpx.ReadinessCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:    deps.cfg.Config,
		Services:  deps.cfg.Services,
		Readiness: readinessChecks(deps.cfg.DB, deps.cfg.RedisClient),
		Logger:    deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "job worker",
		start: func(ctx context.Context) error {
			var workerCfg config.WorkerConfig
			if deps.cfg.Config != nil {
				workerCfg = deps.cfg.Config.Worker
			}
			return RunWorker(ctx, WorkerConfig{
				Jobs:       deps.cfg.Services.Jobs,
				Dispatcher: deps.cfg.Services.Handlers,
				Config:     workerCfg,
				Metrics:    deps.cfg.Services.Observability.MetricsSink,
				Logger:     deps.logger,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  reaperCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		shutdownTimeout: cfg.Config.HTTP.ShutdownTimeout,
		jobService:      cfg.Services.Jobs,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	shutdownTimeout time.Duration
	jobService      *service.JobService
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains the HTTP server and waits for background services to finish.
// The service context is already canceled here, so the drain gets its own deadline.
func gracefulStop(cfg shutdownConfig) error {
	var stopErr error
	if cfg.httpServer != nil {
		stopErr = ShutdownHTTPServer(ShutdownConfig{
			Context:    context.Background(),
			Server:     cfg.httpServer,
			JobService: cfg.jobService,
			Timeout:    cfg.shutdownTimeout,
			Logger:     cfg.logger,
		})
	} else if cfg.jobService != nil {
		cfg.jobService.StopAllListeners()
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return stopErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
