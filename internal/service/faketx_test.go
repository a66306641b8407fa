package service

import (
	"context"
	"errors"
	"sync"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

var errInjected = errors.New("injected failure")

// fakeTx stages writes and only publishes them when fn returns nil, like a real transaction.
type fakeTx struct {
	mu sync.Mutex

	assessments  []*model.Assessment
	cases        []*model.Case
	appointments []*model.Appointment
	jobs         []*model.CreateJobRequest
	attached     map[string]caseAttachment

	// openCase is returned by OpenCaseForStudent.
	openCase *model.Case
	// failEnqueueAt makes the n-th Enqueue call (1-based) fail.
	failEnqueueAt int
	calls         int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(tx core.TxStore) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stage := &fakeTxStore{parent: f, attached: map[string]caseAttachment{}}
	if err := fn(stage); err != nil {
		return err
	}
	f.assessments = append(f.assessments, stage.assessments...)
	f.cases = append(f.cases, stage.cases...)
	f.appointments = append(f.appointments, stage.appointments...)
	f.jobs = append(f.jobs, stage.jobs...)
	if f.attached == nil {
		f.attached = map[string]caseAttachment{}
	}
	for k, v := range stage.attached {
		f.attached[k] = v
	}
	return nil
}

func (f *fakeTx) jobTypes() []model.JobType {
	out := make([]model.JobType, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Type)
	}
	return out
}

func (f *fakeTx) jobsOfType(t model.JobType) []*model.CreateJobRequest {
	var out []*model.CreateJobRequest
	for _, j := range f.jobs {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

type caseAttachment struct {
	assessmentID string
	priority     model.CasePriority
}

type fakeTxStore struct {
	parent       *fakeTx
	assessments  []*model.Assessment
	cases        []*model.Case
	appointments []*model.Appointment
	jobs         []*model.CreateJobRequest
	attached     map[string]caseAttachment
}

func (s *fakeTxStore) InsertAssessment(_ context.Context, a *model.Assessment) error {
	s.assessments = append(s.assessments, a)
	return nil
}

func (s *fakeTxStore) InsertCase(_ context.Context, c *model.Case) error {
	s.cases = append(s.cases, c)
	return nil
}

func (s *fakeTxStore) OpenCaseForStudent(_ context.Context, studentID string) (*model.Case, error) {
	if s.parent.openCase != nil && s.parent.openCase.StudentID == studentID {
		return s.parent.openCase, nil
	}
	return nil, nil
}

func (s *fakeTxStore) AttachAssessment(_ context.Context, caseID, assessmentID string, priority model.CasePriority) error {
	s.attached[caseID] = caseAttachment{assessmentID: assessmentID, priority: priority}
	return nil
}

func (s *fakeTxStore) InsertAppointment(_ context.Context, a *model.Appointment) error {
	s.appointments = append(s.appointments, a)
	return nil
}

func (s *fakeTxStore) Enqueue(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	s.parent.calls++
	if s.parent.failEnqueueAt > 0 && s.parent.calls == s.parent.failEnqueueAt {
		return nil, errInjected
	}
	s.jobs = append(s.jobs, req)
	job := &model.Job{Type: req.Type, Payload: req.Payload, Status: model.JobStatusPending}
	if req.RunAt != nil {
		job.RunAt = *req.RunAt
	}
	return job, nil
}
