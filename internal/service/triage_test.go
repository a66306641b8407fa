package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/domain/scoring"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
	"github.com/nbu-mindcare/triage-api/internal/mocks"
)

type triageFixture struct {
	tx          *fakeTx
	students    *mocks.MockStudentRepository
	staff       *mocks.MockStaffDirectory
	assessments *mocks.MockAssessmentRepository
	limiter     *mocks.MockRateLimiter
	svc         *TriageService
}

func newTriageFixture(t *testing.T, policy model.CasePolicy) *triageFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &triageFixture{
		tx:          &fakeTx{},
		students:    mocks.NewMockStudentRepository(ctrl),
		staff:       mocks.NewMockStaffDirectory(ctrl),
		assessments: mocks.NewMockAssessmentRepository(ctrl),
		limiter:     mocks.NewMockRateLimiter(ctrl),
	}
	seq := 0
	svc, err := NewTriageService(TriageServiceOptions{
		Tx:          f.tx,
		Students:    f.students,
		Staff:       f.staff,
		Assessments: f.assessments,
		Limiter:     f.limiter,
		CasePolicy:  policy,
		Now:         func() time.Time { return testNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func linkedStudent() *model.Student {
	line := "U-student"
	return &model.Student{ID: "stu-1", StudentCode: "6501234", Faculty: "engineering", LineUserID: &line}
}

func clinicalAnswers(dep []int, anx []int) []model.Answer {
	var answers []model.Answer
	for i, v := range dep {
		answers = append(answers, model.Answer{QuestionID: i + 1, Score: v})
	}
	for i, v := range anx {
		answers = append(answers, model.Answer{QuestionID: scoring.DepressionItems + i + 1, Score: v})
	}
	return answers
}

func crisisRequest() model.SubmitAssessmentRequest {
	return model.SubmitAssessmentRequest{
		StudentID:  "stu-1",
		Instrument: model.InstrumentPHQ9GAD7,
		Intent:     model.IntentStress,
		Answers:    clinicalAnswers([]int{3, 3, 3, 3, 3, 3, 3, 1, 0}, make([]int, scoring.AnxietyItems)),
	}
}

func lowStressRequest() model.SubmitAssessmentRequest {
	return model.SubmitAssessmentRequest{
		StudentID:  "stu-1",
		Instrument: model.InstrumentStressMini,
		Intent:     model.IntentSleep,
		Answers:    []model.Answer{{QuestionID: 1, Score: 1}, {QuestionID: 2, Score: 0}, {QuestionID: 3, Score: 1}},
	}
}

func contacts(n int) []model.StaffContact {
	out := make([]model.StaffContact, 0, n)
	for i := range n {
		out = append(out, model.StaffContact{StaffID: fmt.Sprintf("staff-%d", i+1), LineUserID: fmt.Sprintf("U-staff-%d", i+1)})
	}
	return out
}

func decodeJob[T domainjob.Payload](t *testing.T, req *model.CreateJobRequest) T {
	t.Helper()
	p, err := domainjob.Decode(req.Type, req.Payload)
	require.NoError(t, err)
	v, ok := p.(T)
	require.True(t, ok, "payload is %T", p)
	return v
}

func TestTriageService_SubmitLowRiskDeliversResultOnly(t *testing.T) {
	f := newTriageFixture(t, "")
	f.limiter.EXPECT().Allow(gomock.Any(), "submit:stu-1").Return(true, nil)
	f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)

	res, err := f.svc.Submit(context.Background(), lowStressRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RiskLow, res.RiskLevel)
	assert.Nil(t, res.CaseID)
	assert.Equal(t, scoring.SuggestionSelfHelp, res.RoutingSuggestion)
	require.NotNil(t, res.Scores.Stress)
	assert.Equal(t, 2, *res.Scores.Stress)

	assert.Len(t, f.tx.assessments, 1)
	assert.Empty(t, f.tx.cases)
	assert.Equal(t, []model.JobType{model.JobTypeMetricRollup, model.JobTypeDeliverResult}, f.tx.jobTypes())

	deliver := decodeJob[domainjob.DeliverResult](t, f.tx.jobsOfType(model.JobTypeDeliverResult)[0])
	assert.Equal(t, "U-student", deliver.Recipient)
	assert.False(t, deliver.ShowBookingCTA)
}

func TestTriageService_SubmitCrisisOpensCaseAndSchedulesEscalation(t *testing.T) {
	f := newTriageFixture(t, model.CasePolicyPerSubmission)
	f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
	f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
	f.staff.EXPECT().
		ActiveContacts(gomock.Any(), []model.StaffRole{model.StaffRoleCounselor, model.StaffRoleSupervisor}).
		Return(contacts(2), nil)

	res, err := f.svc.Submit(context.Background(), crisisRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RiskCrisis, res.RiskLevel)
	assert.Equal(t, 22, *res.Scores.Depression)
	assert.Equal(t, 0, *res.Scores.Anxiety)
	assert.Equal(t, scoring.SuggestionEmergency, res.RoutingSuggestion)
	require.NotNil(t, res.CaseID)

	require.Len(t, f.tx.cases, 1)
	c := f.tx.cases[0]
	assert.Equal(t, *res.CaseID, c.ID)
	assert.Equal(t, res.AssessmentID, c.AssessmentID)
	assert.Equal(t, model.CaseStatusOpen, c.Status)
	assert.Equal(t, model.CasePriorityCrisis, c.Priority)

	assert.Equal(t, []model.JobType{
		model.JobTypeNotifyStaff,
		model.JobTypeNotifyStaff,
		model.JobTypeEscalationCheck,
		model.JobTypeMetricRollup,
		model.JobTypeDeliverResult,
	}, f.tx.jobTypes())

	for i, req := range f.tx.jobsOfType(model.JobTypeNotifyStaff) {
		n := decodeJob[domainjob.NotifyStaff](t, req)
		assert.Equal(t, c.ID, n.CaseID)
		assert.Equal(t, fmt.Sprintf("U-staff-%d", i+1), n.Recipient)
		assert.Equal(t, model.CasePriorityCrisis, n.Priority)
	}

	esc := f.tx.jobsOfType(model.JobTypeEscalationCheck)[0]
	require.NotNil(t, esc.RunAt)
	assert.True(t, esc.RunAt.Equal(testNow.Add(30*time.Minute)))
	check := decodeJob[domainjob.EscalationCheck](t, esc)
	assert.Equal(t, c.ID, check.CaseID)

	rollup := decodeJob[domainjob.MetricRollup](t, f.tx.jobsOfType(model.JobTypeMetricRollup)[0])
	assert.Equal(t, "2025-03-01", rollup.Date)
	assert.Equal(t, "engineering", rollup.Faculty)
	assert.Equal(t, model.RiskCrisis, rollup.RiskLevel)
}

func TestTriageService_SubmitCrisisWithoutStaffStillSchedulesEscalation(t *testing.T) {
	f := newTriageFixture(t, "")
	f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
	f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
	f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(nil, nil)

	res, err := f.svc.Submit(context.Background(), crisisRequest())
	require.NoError(t, err)
	require.NotNil(t, res.CaseID)

	assert.Empty(t, f.tx.jobsOfType(model.JobTypeNotifyStaff))
	assert.Len(t, f.tx.jobsOfType(model.JobTypeEscalationCheck), 1)
}

func TestTriageService_SubmitHighRiskSkipsEscalation(t *testing.T) {
	f := newTriageFixture(t, "")
	f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
	f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
	f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(contacts(1), nil)

	req := crisisRequest()
	req.Answers = clinicalAnswers([]int{2, 2, 2, 2, 2, 2, 2, 2, 0}, make([]int, scoring.AnxietyItems))
	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.Equal(t, model.CasePriorityHigh, f.tx.cases[0].Priority)
	assert.Empty(t, f.tx.jobsOfType(model.JobTypeEscalationCheck))
	deliver := decodeJob[domainjob.DeliverResult](t, f.tx.jobsOfType(model.JobTypeDeliverResult)[0])
	assert.True(t, deliver.ShowBookingCTA)
}

func TestTriageService_SubmitReuseOpenCase(t *testing.T) {
	t.Run("raises priority and re-alerts", func(t *testing.T) {
		f := newTriageFixture(t, model.CasePolicyReuseOpen)
		f.tx.openCase = &model.Case{ID: "case-old", StudentID: "stu-1", Status: model.CaseStatusAcked, Priority: model.CasePriorityHigh}
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
		f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(contacts(1), nil)

		res, err := f.svc.Submit(context.Background(), crisisRequest())
		require.NoError(t, err)
		require.NotNil(t, res.CaseID)
		assert.Equal(t, "case-old", *res.CaseID)
		assert.Empty(t, f.tx.cases)
		assert.Equal(t, caseAttachment{assessmentID: res.AssessmentID, priority: model.CasePriorityCrisis}, f.tx.attached["case-old"])
		assert.Len(t, f.tx.jobsOfType(model.JobTypeNotifyStaff), 1)
		assert.Len(t, f.tx.jobsOfType(model.JobTypeEscalationCheck), 1)
	})

	t.Run("same priority attaches silently", func(t *testing.T) {
		f := newTriageFixture(t, model.CasePolicyReuseOpen)
		f.tx.openCase = &model.Case{ID: "case-old", StudentID: "stu-1", Status: model.CaseStatusOpen, Priority: model.CasePriorityCrisis}
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
		f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(contacts(2), nil)

		res, err := f.svc.Submit(context.Background(), crisisRequest())
		require.NoError(t, err)
		assert.Equal(t, "case-old", *res.CaseID)
		assert.Equal(t, caseAttachment{assessmentID: res.AssessmentID, priority: model.CasePriorityCrisis}, f.tx.attached["case-old"],
			"the case tracks the newest screening even without a priority change")
		assert.Equal(t, []model.JobType{model.JobTypeMetricRollup, model.JobTypeDeliverResult}, f.tx.jobTypes())
	})

	t.Run("high result never downgrades a crisis case", func(t *testing.T) {
		f := newTriageFixture(t, model.CasePolicyReuseOpen)
		f.tx.openCase = &model.Case{ID: "case-old", StudentID: "stu-1", Status: model.CaseStatusOpen, Priority: model.CasePriorityCrisis}
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
		f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(contacts(1), nil).AnyTimes()

		req := crisisRequest()
		req.Answers = clinicalAnswers([]int{2, 2, 2, 2, 2, 2, 2, 2, 0}, make([]int, scoring.AnxietyItems))
		res, err := f.svc.Submit(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, model.RiskHigh, res.RiskLevel)
		assert.Equal(t, model.CasePriorityCrisis, f.tx.attached["case-old"].priority)
		assert.Equal(t, res.AssessmentID, f.tx.attached["case-old"].assessmentID)
		assert.Empty(t, f.tx.jobsOfType(model.JobTypeNotifyStaff))
	})
}

func TestTriageService_SubmitRejections(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		f := newTriageFixture(t, "")
		f.limiter.EXPECT().Allow(gomock.Any(), "submit:stu-1").Return(false, nil)

		_, err := f.svc.Submit(context.Background(), lowStressRequest())
		assert.True(t, apperrors.IsRateLimited(err))
		assert.Empty(t, f.tx.assessments)
	})

	t.Run("limiter outage admits", func(t *testing.T) {
		f := newTriageFixture(t, "")
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)

		_, err := f.svc.Submit(context.Background(), lowStressRequest())
		require.NoError(t, err)
		assert.Len(t, f.tx.assessments, 1)
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newTriageFixture(t, "")
		req := lowStressRequest()
		req.Intent = "career"
		_, err := f.svc.Submit(context.Background(), req)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("item out of range", func(t *testing.T) {
		f := newTriageFixture(t, "")
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		req := crisisRequest()
		req.Answers[0].Score = 4
		_, err := f.svc.Submit(context.Background(), req)
		assert.True(t, apperrors.IsValidation(err))
		assert.ErrorIs(t, err, scoring.ErrInvalidResponses)
	})

	t.Run("unknown student", func(t *testing.T) {
		f := newTriageFixture(t, "")
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(nil, model.ErrStudentNotFound)

		_, err := f.svc.Submit(context.Background(), lowStressRequest())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("student without messaging account", func(t *testing.T) {
		f := newTriageFixture(t, "")
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
		f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(&model.Student{ID: "stu-1"}, nil)

		_, err := f.svc.Submit(context.Background(), lowStressRequest())
		assert.True(t, apperrors.IsValidation(err))
		assert.Equal(t, "student_id", apperrors.FieldOf(err))
	})
}

func TestTriageService_SubmitRollsBackOnEnqueueFailure(t *testing.T) {
	f := newTriageFixture(t, "")
	f.tx.failEnqueueAt = 3
	f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(true, nil)
	f.students.EXPECT().GetByID(gomock.Any(), "stu-1").Return(linkedStudent(), nil)
	f.staff.EXPECT().ActiveContacts(gomock.Any(), gomock.Any()).Return(contacts(2), nil)

	_, err := f.svc.Submit(context.Background(), crisisRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	assert.Empty(t, f.tx.assessments)
	assert.Empty(t, f.tx.cases)
	assert.Empty(t, f.tx.jobs)
}

func TestTriageService_LatestForStudent(t *testing.T) {
	f := newTriageFixture(t, "")
	ctx := context.Background()

	f.assessments.EXPECT().LatestByStudent(gomock.Any(), "stu-1").Return(nil, nil)
	got, err := f.svc.LatestForStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.False(t, got.HasRecent)
	assert.Nil(t, got.Assessment)

	recent := &model.Assessment{ID: "a1", CreatedAt: testNow.Add(-29 * 24 * time.Hour)}
	f.assessments.EXPECT().LatestByStudent(gomock.Any(), "stu-1").Return(recent, nil)
	got, err = f.svc.LatestForStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.True(t, got.HasRecent)

	stale := &model.Assessment{ID: "a0", CreatedAt: testNow.Add(-31 * 24 * time.Hour)}
	f.assessments.EXPECT().LatestByStudent(gomock.Any(), "stu-1").Return(stale, nil)
	got, err = f.svc.LatestForStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.False(t, got.HasRecent)
	assert.Equal(t, "a0", got.Assessment.ID)

	_, err = f.svc.LatestForStudent(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewTriageService_RequiresDependencies(t *testing.T) {
	_, err := NewTriageService(TriageServiceOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = NewTriageService(TriageServiceOptions{
		Tx:          &fakeTx{},
		Students:    mocks.NewMockStudentRepository(ctrl),
		Staff:       mocks.NewMockStaffDirectory(ctrl),
		Assessments: mocks.NewMockAssessmentRepository(ctrl),
		CasePolicy:  "merge",
	})
	require.Error(t, err)
}
