package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// CasesService is the case workflow used by the case handlers.
type CasesService interface {
	Get(ctx context.Context, id string) (*model.Case, error)
	Acknowledge(ctx context.Context, caseID, staffID string) (*model.Case, error)
	Advance(ctx context.Context, caseID string, next model.CaseStatus) (*model.Case, error)
}

// CaseHandlers serves the staff dashboard case actions.
type CaseHandlers struct {
	Svc    CasesService
	Logger *slog.Logger
}

type ackRequest struct {
	StaffID string `json:"staff_id"`
}

type transitionRequest struct {
	Status model.CaseStatus `json:"status"`
}

// Get handles GET /api/cases/{id}.
func (h *CaseHandlers) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// Acknowledge handles POST /api/cases/{id}/ack. Losing a concurrent claim yields 409.
func (h *CaseHandlers) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	c, err := h.Svc.Acknowledge(r.Context(), r.PathValue("id"), req.StaffID)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// Transition handles POST /api/cases/{id}/transition.
func (h *CaseHandlers) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	c, err := h.Svc.Advance(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}
