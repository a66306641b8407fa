package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// AppointmentsService is the booking surface used by the appointment handlers.
type AppointmentsService interface {
	Schedule(ctx context.Context, req model.ScheduleAppointmentRequest) (*model.Appointment, error)
	Get(ctx context.Context, id string) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status model.AppointmentStatus) (*model.Appointment, error)
}

// AppointmentHandlers serves counselling bookings.
type AppointmentHandlers struct {
	Svc    AppointmentsService
	Logger *slog.Logger
}

type appointmentStatusRequest struct {
	Status model.AppointmentStatus `json:"status"`
}

// Schedule handles POST /api/appointments.
func (h *AppointmentHandlers) Schedule(w http.ResponseWriter, r *http.Request) {
	var req model.ScheduleAppointmentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	a, err := h.Svc.Schedule(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, a)
}

// Get handles GET /api/appointments/{id}.
func (h *AppointmentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// UpdateStatus handles PATCH /api/appointments/{id}/status.
func (h *AppointmentHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req appointmentStatusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	a, err := h.Svc.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}
