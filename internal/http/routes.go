package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Triage       AssessmentsService
	Cases        CasesService
	Appointments AppointmentsService
	Jobs         JobsService
	// Readiness checks served on /readyz, keyed by dependency name.
	Readiness map[string]ReadinessCheck
	Logger    *slog.Logger
}

// NewRouter creates and configures the API router. Routes for a nil service are not registered.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.Handle("GET /readyz", &readinessHandler{checks: services.Readiness, logger: logger})

	if services.Triage != nil {
		h := &AssessmentHandlers{Svc: services.Triage, Logger: logger}
		mux.HandleFunc("POST /api/assessments", h.Submit)
		mux.HandleFunc("GET /api/students/{id}/assessments/latest", h.Latest)
	}
	if services.Cases != nil {
		h := &CaseHandlers{Svc: services.Cases, Logger: logger}
		mux.HandleFunc("GET /api/cases/{id}", h.Get)
		mux.HandleFunc("POST /api/cases/{id}/ack", h.Acknowledge)
		mux.HandleFunc("POST /api/cases/{id}/transition", h.Transition)
	}
	if services.Appointments != nil {
		h := &AppointmentHandlers{Svc: services.Appointments, Logger: logger}
		mux.HandleFunc("POST /api/appointments", h.Schedule)
		mux.HandleFunc("GET /api/appointments/{id}", h.Get)
		mux.HandleFunc("PATCH /api/appointments/{id}/status", h.UpdateStatus)
	}
	if services.Jobs != nil {
		h := &JobHandlers{Svc: services.Jobs, Logger: logger}
		mux.HandleFunc("GET /api/jobs/stats", h.Stats)
		mux.HandleFunc("GET /api/jobs/{id}", h.Get)
		mux.HandleFunc("GET /api/jobs", h.List)
	}

	return Chain(mux, RequestID(), Logging(logger), Recover(logger))
}
