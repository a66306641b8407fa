package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbu-mindcare/triage-api/internal/core"
	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/message"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// ErrNoSupervisors is returned when an overdue crisis case has nobody to escalate to.
var ErrNoSupervisors = errors.New("no active supervisor with a messaging address")

// HandlersOptions groups the collaborators job handlers need.
type HandlersOptions struct {
	Messenger    core.Messenger            // Required
	Cases        core.CaseRepository       // Required
	Staff        core.StaffDirectory       // Required
	Appointments core.AppointmentRepository // Required
	DailyMetrics core.MetricRepository     // Required
	Links        message.Links
	Logger       *slog.Logger
}

// Handlers executes every job payload variant.
type Handlers struct {
	messenger    core.Messenger
	cases        core.CaseRepository
	staff        core.StaffDirectory
	appointments core.AppointmentRepository
	dailyMetrics core.MetricRepository
	links        message.Links
	logger       *slog.Logger
}

// NewHandlers constructs the handler set.
func NewHandlers(opts HandlersOptions) (*Handlers, error) {
	switch {
	case opts.Messenger == nil:
		return nil, errors.New("messenger is required")
	case opts.Cases == nil:
		return nil, errors.New("CaseRepository is required")
	case opts.Staff == nil:
		return nil, errors.New("StaffDirectory is required")
	case opts.Appointments == nil:
		return nil, errors.New("AppointmentRepository is required")
	case opts.DailyMetrics == nil:
		return nil, errors.New("MetricRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		messenger:    opts.Messenger,
		cases:        opts.Cases,
		staff:        opts.Staff,
		appointments: opts.Appointments,
		dailyMetrics: opts.DailyMetrics,
		links:        opts.Links,
		logger:       logger.With("component", "job_handlers"),
	}, nil
}

// Dispatch routes p to its handler. Every variant is handled; anything else is an error.
func (h *Handlers) Dispatch(ctx context.Context, p domainjob.Payload) error {
	switch v := p.(type) {
	case domainjob.NotifyStaff:
		return h.notifyStaff(ctx, v)
	case domainjob.DeliverResult:
		return h.deliverResult(ctx, v)
	case domainjob.Reminder:
		return h.remind(ctx, v)
	case domainjob.EscalationCheck:
		return h.checkEscalation(ctx, v)
	case domainjob.MetricRollup:
		return h.rollup(ctx, v)
	default:
		return fmt.Errorf("%w: %T", domainjob.ErrUnknownJobType, p)
	}
}

func (h *Handlers) notifyStaff(ctx context.Context, p domainjob.NotifyStaff) error {
	if err := h.messenger.Send(ctx, p.Recipient, message.StaffAlert(h.links, p.CaseID, p.Priority)); err != nil {
		return fmt.Errorf("send staff alert for case %s: %w", p.CaseID, err)
	}
	h.logger.InfoContext(ctx, "staff notified", "case_id", p.CaseID, "staff_id", p.StaffID, "priority", p.Priority)
	return nil
}

func (h *Handlers) deliverResult(ctx context.Context, p domainjob.DeliverResult) error {
	msgs := message.Result(h.links, p.RiskLevel, p.RoutingSuggestion, p.ShowBookingCTA)
	if err := h.messenger.Send(ctx, p.Recipient, msgs); err != nil {
		return fmt.Errorf("deliver result for assessment %s: %w", p.AssessmentID, err)
	}
	h.logger.InfoContext(ctx, "result delivered", "assessment_id", p.AssessmentID, "risk_level", p.RiskLevel)
	return nil
}

func (h *Handlers) remind(ctx context.Context, p domainjob.Reminder) error {
	appt, err := h.appointments.GetByID(ctx, p.AppointmentID)
	if errors.Is(err, model.ErrAppointmentNotFound) {
		h.logger.InfoContext(ctx, "reminder skipped", "appointment_id", p.AppointmentID, "reason", "appointment not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment %s: %w", p.AppointmentID, err)
	}
	if appt.Status != model.AppointmentScheduled {
		h.logger.InfoContext(ctx, "reminder skipped", "appointment_id", appt.ID, "status", appt.Status)
		return nil
	}
	if err := h.messenger.Send(ctx, p.Recipient, message.Reminder(appt, p.Window.Lead())); err != nil {
		return fmt.Errorf("send reminder for appointment %s: %w", appt.ID, err)
	}
	h.logger.InfoContext(ctx, "reminder sent", "appointment_id", appt.ID, "type", p.Type())
	return nil
}

// checkEscalation alerts every supervisor when a crisis case is still open past its deadline.
func (h *Handlers) checkEscalation(ctx context.Context, p domainjob.EscalationCheck) error {
	c, err := h.cases.GetByID(ctx, p.CaseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", p.CaseID, err)
	}
	if c.Status != model.CaseStatusOpen {
		h.logger.InfoContext(ctx, "escalation not needed", "case_id", c.ID, "status", c.Status)
		return nil
	}

	supervisors, err := h.staff.ActiveContacts(ctx, []model.StaffRole{model.StaffRoleSupervisor})
	if err != nil {
		return fmt.Errorf("list supervisors: %w", err)
	}
	if len(supervisors) == 0 {
		return fmt.Errorf("escalate case %s: %w", c.ID, ErrNoSupervisors)
	}

	msgs := message.EscalationAlert(h.links, c.ID, p.Deadline)
	var errs []error
	for _, s := range supervisors {
		if err := h.messenger.Send(ctx, s.LineUserID, msgs); err != nil {
			errs = append(errs, fmt.Errorf("supervisor %s: %w", s.StaffID, err))
		}
	}
	if len(errs) > 0 {
		// The retry re-alerts supervisors who already got the message; a duplicate beats a lost alert.
		return fmt.Errorf("escalate case %s (%d of %d supervisors not reached): %w",
			c.ID, len(errs), len(supervisors), errors.Join(errs...))
	}
	h.logger.WarnContext(ctx, "crisis case escalated",
		"case_id", c.ID,
		"deadline", p.Deadline,
		"supervisors", len(supervisors),
	)
	return nil
}

func (h *Handlers) rollup(ctx context.Context, p domainjob.MetricRollup) error {
	if err := h.dailyMetrics.Increment(ctx, p.Key()); err != nil {
		return fmt.Errorf("increment daily metric %s/%s: %w", p.Date, p.Faculty, err)
	}
	return nil
}

var _ Dispatcher = (*Handlers)(nil)
