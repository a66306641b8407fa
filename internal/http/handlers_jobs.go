// Package httpx provides the HTTP API for the triage pipeline: submissions, case
// actions, appointments and read-only job inspection.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

// JobsService is the read-only queue view used by the job handlers.
type JobsService interface {
	Stats(ctx context.Context) (*model.JobStats, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
}

// JobHandlers provides HTTP handlers for job inspection.
type JobHandlers struct {
	Svc    JobsService
	Logger *slog.Logger
}

type jobListResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Stats handles GET /api/jobs/stats.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// List handles GET /api/jobs?status=&type=&limit=&offset=.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := jobListQuery(r)

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobListResponse{Jobs: jobs, Limit: opts.Limit, Offset: opts.Offset})
}
