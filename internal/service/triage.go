package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nbu-mindcare/triage-api/internal/core"
	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/domain/scoring"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
	"github.com/nbu-mindcare/triage-api/internal/observability/metrics"
	"github.com/nbu-mindcare/triage-api/internal/observability/statsd"
)

const (
	defaultEscalationDeadline = 30 * time.Minute
	defaultRecentWindow       = 30 * 24 * time.Hour
)

// metricZone is the campus timezone used to bucket daily screening counts.
var metricZone = time.FixedZone("ICT", 7*60*60)

// caseOwnerRoles are notified when a submission opens or upgrades a case.
var caseOwnerRoles = []model.StaffRole{model.StaffRoleCounselor, model.StaffRoleSupervisor}

// TriageServiceOptions groups dependencies for TriageService.
type TriageServiceOptions struct {
	Tx          core.Transactor           // Required: submission unit of work
	Students    core.StudentRepository    // Required
	Staff       core.StaffDirectory       // Required
	Assessments core.AssessmentRepository // Required for LatestForStudent
	Limiter     core.RateLimiter          // Optional: nil admits every submission
	Metrics     statsd.Sink               // Optional

	CasePolicy         model.CasePolicy // Defaults to per_submission
	EscalationDeadline time.Duration    // Defaults to 30m
	RecentWindow       time.Duration    // Defaults to 30 days

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// TriageService scores a submission and records everything that follows from it in one transaction.
type TriageService struct {
	tx          core.Transactor
	students    core.StudentRepository
	staff       core.StaffDirectory
	assessments core.AssessmentRepository
	limiter     core.RateLimiter
	metrics     statsd.Sink

	casePolicy         model.CasePolicy
	escalationDeadline time.Duration
	recentWindow       time.Duration

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewTriageService constructs a TriageService.
func NewTriageService(opts TriageServiceOptions) (*TriageService, error) {
	if opts.Tx == nil {
		return nil, errors.New("transactor is required")
	}
	if opts.Students == nil {
		return nil, errors.New("StudentRepository is required")
	}
	if opts.Staff == nil {
		return nil, errors.New("StaffDirectory is required")
	}
	if opts.Assessments == nil {
		return nil, errors.New("AssessmentRepository is required")
	}

	policy := opts.CasePolicy
	if policy == "" {
		policy = model.CasePolicyPerSubmission
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("invalid case policy %q", policy)
	}
	deadline := opts.EscalationDeadline
	if deadline <= 0 {
		deadline = defaultEscalationDeadline
	}
	window := opts.RecentWindow
	if window <= 0 {
		window = defaultRecentWindow
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &TriageService{
		tx:                 opts.Tx,
		students:           opts.Students,
		staff:              opts.Staff,
		assessments:        opts.Assessments,
		limiter:            opts.Limiter,
		metrics:            opts.Metrics,
		casePolicy:         policy,
		escalationDeadline: deadline,
		recentWindow:       window,
		logger:             logger.With("component", "triage_service"),
		now:                now,
		newID:              newID,
	}, nil
}

// Submit validates and scores req, then persists the assessment, any case, and every follow-up job
// atomically. Nothing is written when any step fails.
func (s *TriageService) Submit(ctx context.Context, req model.SubmitAssessmentRequest) (*model.SubmitAssessmentResult, error) {
	start := s.now()

	if err := req.Validate(); err != nil {
		metrics.EmitRejected(s.metrics, "invalid")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submission")
	}
	if err := s.admit(ctx, req.StudentID); err != nil {
		return nil, err
	}

	scored, err := scoring.Evaluate(req.Instrument, req.Answers)
	if err != nil {
		metrics.EmitRejected(s.metrics, "invalid")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submission")
	}

	student, contacts, err := s.lookup(ctx, req.StudentID, scored.Level)
	if err != nil {
		return nil, err
	}

	sub := submission{
		req:        req,
		scored:     scored,
		student:    student,
		contacts:   contacts,
		suggestion: scoring.RoutingSuggestion(scored.Level, req.Intent),
		at:         s.now().UTC(),
	}
	out, err := s.persist(ctx, &sub)
	if err != nil {
		return nil, err
	}

	metrics.EmitTriage(s.metrics, metrics.TriageMetric{
		Instrument: string(req.Instrument),
		RiskLevel:  string(scored.Level),
		Intent:     string(req.Intent),
		NewCase:    out.newCase,
		JobsQueued: out.jobs,
		Duration:   s.now().Sub(start),
	})
	s.logger.InfoContext(ctx, "assessment triaged",
		"assessment_id", out.result.AssessmentID,
		"student_id", req.StudentID,
		"risk_level", scored.Level,
		"case_id", derefString(out.result.CaseID),
		"jobs", out.jobs,
	)
	return out.result, nil
}

// SubmissionLimitKey is the rate limiter key for a student's submissions.
func SubmissionLimitKey(studentID string) string { return "submit:" + studentID }

// admit applies the per-student submission budget. A limiter outage admits the submission.
func (s *TriageService) admit(ctx context.Context, studentID string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, SubmissionLimitKey(studentID))
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable; admitting submission",
			"student_id", studentID, "error", err)
		return nil
	}
	if !ok {
		metrics.EmitRejected(s.metrics, "rate_limited")
		return apperrors.RateLimited("too many submissions; please try again later")
	}
	return nil
}

// lookup resolves the student and, when the level opens a case, the staff to notify.
func (s *TriageService) lookup(
	ctx context.Context,
	studentID string,
	level model.RiskLevel,
) (*model.Student, []model.StaffContact, error) {
	var (
		student  *model.Student
		contacts []model.StaffContact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.students.GetByID(gctx, studentID)
		if err != nil {
			if errors.Is(err, model.ErrStudentNotFound) {
				return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "student not found")
			}
			return fmt.Errorf("get student %s: %w", studentID, err)
		}
		student = st
		return nil
	})
	if level.OpensCase() {
		g.Go(func() error {
			cs, err := s.staff.ActiveContacts(gctx, caseOwnerRoles)
			if err != nil {
				return fmt.Errorf("list case owners: %w", err)
			}
			contacts = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if !student.Linked() {
		return nil, nil, apperrors.ValidationField("student_id", "student has no linked messaging account")
	}
	return student, contacts, nil
}

type submission struct {
	req        model.SubmitAssessmentRequest
	scored     scoring.Result
	student    *model.Student
	contacts   []model.StaffContact
	suggestion string
	at         time.Time
}

type persisted struct {
	result  *model.SubmitAssessmentResult
	newCase bool
	jobs    int
}

func (s *TriageService) persist(ctx context.Context, sub *submission) (*persisted, error) {
	assessment := &model.Assessment{
		ID:         s.newID(),
		StudentID:  sub.student.ID,
		Instrument: sub.req.Instrument,
		Intent:     sub.req.Intent,
		Answers:    sub.req.Answers,
		Scores:     sub.scored.Scores,
		RiskLevel:  sub.scored.Level,
		CreatedAt:  sub.at,
	}

	var out persisted
	err := s.tx.WithinTx(ctx, func(tx core.TxStore) error {
		out = persisted{}
		if err := tx.InsertAssessment(ctx, assessment); err != nil {
			return fmt.Errorf("insert assessment: %w", err)
		}

		enqueue := func(p domainjob.Payload, runAt time.Time) error {
			req, err := domainjob.BuildRequest(p, runAt)
			if err != nil {
				return err
			}
			if _, err := tx.Enqueue(ctx, req); err != nil {
				return fmt.Errorf("enqueue %s: %w", p.Type(), err)
			}
			out.jobs++
			return nil
		}

		caseID, alert, err := s.attachCase(ctx, tx, assessment)
		if err != nil {
			return err
		}
		if caseID != "" {
			out.newCase = alert.created
			if err := s.enqueueCaseAlerts(ctx, sub, caseID, alert, enqueue); err != nil {
				return err
			}
		}

		rollup := domainjob.MetricRollup{
			Date:      sub.at.In(metricZone).Format(time.DateOnly),
			Faculty:   sub.student.Faculty,
			RiskLevel: sub.scored.Level,
		}
		if err := enqueue(rollup, sub.at); err != nil {
			return err
		}

		deliver := domainjob.DeliverResult{
			Recipient:         *sub.student.LineUserID,
			AssessmentID:      assessment.ID,
			RiskLevel:         sub.scored.Level,
			RoutingSuggestion: sub.suggestion,
			ShowBookingCTA:    scoring.ShowBookingCTA(sub.scored.Level),
		}
		if err := enqueue(deliver, sub.at); err != nil {
			return err
		}

		out.result = &model.SubmitAssessmentResult{
			AssessmentID:      assessment.ID,
			RiskLevel:         sub.scored.Level,
			Scores:            sub.scored.Scores,
			RoutingSuggestion: sub.suggestion,
		}
		if caseID != "" {
			id := caseID
			out.result.CaseID = &id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}
	return &out, nil
}

// caseAlert says which follow-up jobs a case change needs.
type caseAlert struct {
	created  bool
	priority model.CasePriority
	notify   bool
}

// attachCase opens or reuses a case for a qualifying assessment. It returns "" when none is needed.
func (s *TriageService) attachCase(ctx context.Context, tx core.TxStore, a *model.Assessment) (string, caseAlert, error) {
	priority, ok := model.PriorityForRisk(a.RiskLevel)
	if !ok {
		return "", caseAlert{}, nil
	}

	if s.casePolicy == model.CasePolicyReuseOpen {
		existing, err := tx.OpenCaseForStudent(ctx, a.StudentID)
		if err != nil {
			return "", caseAlert{}, fmt.Errorf("find open case: %w", err)
		}
		if existing != nil {
			// Priority only rises; a high result never downgrades a crisis case.
			raised := priority == model.CasePriorityCrisis && existing.Priority != model.CasePriorityCrisis
			next := existing.Priority
			if raised {
				next = priority
			}
			if err := tx.AttachAssessment(ctx, existing.ID, a.ID, next); err != nil {
				return "", caseAlert{}, fmt.Errorf("attach assessment to case: %w", err)
			}
			return existing.ID, caseAlert{priority: next, notify: raised}, nil
		}
	}

	c := &model.Case{
		ID:           s.newID(),
		StudentID:    a.StudentID,
		AssessmentID: a.ID,
		Priority:     priority,
		Status:       model.CaseStatusOpen,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.CreatedAt,
	}
	if err := tx.InsertCase(ctx, c); err != nil {
		return "", caseAlert{}, fmt.Errorf("insert case: %w", err)
	}
	return c.ID, caseAlert{created: true, priority: priority, notify: true}, nil
}

func (s *TriageService) enqueueCaseAlerts(
	ctx context.Context,
	sub *submission,
	caseID string,
	alert caseAlert,
	enqueue func(domainjob.Payload, time.Time) error,
) error {
	if !alert.notify {
		return nil
	}
	if len(sub.contacts) == 0 {
		s.logger.WarnContext(ctx, "no active staff to notify for case", "case_id", caseID, "priority", alert.priority)
	}
	for _, c := range sub.contacts {
		err := enqueue(domainjob.NotifyStaff{
			Recipient: c.LineUserID,
			StaffID:   c.StaffID,
			CaseID:    caseID,
			Priority:  alert.priority,
		}, sub.at)
		if err != nil {
			return err
		}
	}
	if alert.priority != model.CasePriorityCrisis {
		return nil
	}
	deadline := sub.at.Add(s.escalationDeadline)
	return enqueue(domainjob.EscalationCheck{CaseID: caseID, Deadline: deadline}, deadline)
}

// LatestForStudent returns the student's newest assessment and whether it falls inside the recent window.
func (s *TriageService) LatestForStudent(ctx context.Context, studentID string) (*model.LatestAssessment, error) {
	if studentID == "" {
		return nil, apperrors.ValidationField("student_id", "student_id is required")
	}
	a, err := s.assessments.LatestByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("latest assessment for %s: %w", studentID, err)
	}
	if a == nil {
		return &model.LatestAssessment{}, nil
	}
	return &model.LatestAssessment{
		HasRecent:  s.now().Sub(a.CreatedAt) <= s.recentWindow,
		Assessment: a,
	}, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
