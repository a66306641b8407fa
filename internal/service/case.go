package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
)

// CaseServiceOptions groups dependencies for CaseService.
type CaseServiceOptions struct {
	Cases  core.CaseRepository // Required
	Staff  core.StaffDirectory // Required
	Logger *slog.Logger
	Now    func() time.Time
}

// CaseService owns case status transitions.
type CaseService struct {
	cases  core.CaseRepository
	staff  core.StaffDirectory
	logger *slog.Logger
	now    func() time.Time
}

// NewCaseService constructs a CaseService.
func NewCaseService(opts CaseServiceOptions) (*CaseService, error) {
	if opts.Cases == nil {
		return nil, errors.New("CaseRepository is required")
	}
	if opts.Staff == nil {
		return nil, errors.New("StaffDirectory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CaseService{
		cases:  opts.Cases,
		staff:  opts.Staff,
		logger: logger.With("component", "case_service"),
		now:    now,
	}, nil
}

// Get returns a case by id.
func (s *CaseService) Get(ctx context.Context, id string) (*model.Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrCaseNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "case not found")
		}
		return nil, fmt.Errorf("get case %s: %w", id, err)
	}
	return c, nil
}

// Acknowledge claims an open case for staffID. Of several concurrent callers exactly one wins;
// the others get model.ErrCaseAlreadyAcknowledged and nothing is written for them.
func (s *CaseService) Acknowledge(ctx context.Context, caseID, staffID string) (*model.Case, error) {
	if caseID == "" || staffID == "" {
		return nil, apperrors.Validation("case id and staff id are required")
	}

	staff, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, model.ErrStaffNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "staff member not found")
		}
		return nil, fmt.Errorf("get staff %s: %w", staffID, err)
	}
	if !staff.IsActive || !staff.Role.Clinical() {
		return nil, apperrors.ValidationField("staff_id", "only active counselors or supervisors can acknowledge a case")
	}

	ok, err := s.cases.UpdateStatus(ctx, model.UpdateCaseStatusParams{
		ID:              caseID,
		Expected:        model.CaseStatusOpen,
		Next:            model.CaseStatusAcked,
		AssignedStaffID: &staffID,
		At:              s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("acknowledge case %s: %w", caseID, err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "case acknowledgment lost", "case_id", caseID, "staff_id", staffID)
		return nil, model.ErrCaseAlreadyAcknowledged
	}

	s.logger.InfoContext(ctx, "case acknowledged", "case_id", caseID, "staff_id", staffID)
	return s.Get(ctx, caseID)
}

// Advance moves a case one step forward after acknowledgment: acked -> contacted -> follow_up -> closed.
func (s *CaseService) Advance(ctx context.Context, caseID string, next model.CaseStatus) (*model.Case, error) {
	if next == model.CaseStatusAcked {
		return nil, apperrors.ValidationField("status", "use acknowledge to claim an open case")
	}
	prev, ok := next.Previous()
	if !ok {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("cannot transition a case to %q", next))
	}

	current, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if current.Status != prev {
		return nil, apperrors.Conflictf("case is %s; cannot move to %s", current.Status, next)
	}

	updated, err := s.cases.UpdateStatus(ctx, model.UpdateCaseStatusParams{
		ID:       caseID,
		Expected: prev,
		Next:     next,
		At:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("advance case %s: %w", caseID, err)
	}
	if !updated {
		return nil, apperrors.Conflictf("case changed while moving to %s", next)
	}

	s.logger.InfoContext(ctx, "case status changed", "case_id", caseID, "from", prev, "to", next)
	return s.Get(ctx, caseID)
}
