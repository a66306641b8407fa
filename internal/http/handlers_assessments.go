package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// AssessmentsService is the triage surface used by the assessment handlers.
type AssessmentsService interface {
	Submit(ctx context.Context, req model.SubmitAssessmentRequest) (*model.SubmitAssessmentResult, error)
	LatestForStudent(ctx context.Context, studentID string) (*model.LatestAssessment, error)
}

// AssessmentHandlers serves questionnaire submissions and the booking soft gate.
type AssessmentHandlers struct {
	Svc    AssessmentsService
	Logger *slog.Logger
}

// Submit handles POST /api/assessments.
func (h *AssessmentHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitAssessmentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// Latest handles GET /api/students/{id}/assessments/latest.
func (h *AssessmentHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.Svc.LatestForStudent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, latest)
}
