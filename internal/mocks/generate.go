// Package mocks provides gomock implementations of the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	cases := mocks.NewMockCaseRepository(ctrl)
//	cases.EXPECT().UpdateStatus(gomock.Any(), gomock.Any()).Return(true, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=core_mocks.go github.com/nbu-mindcare/triage-api/internal/core AppointmentRepository,AssessmentRepository,CaseRepository,JobRepository,Messenger,MetricRepository,RateLimiter,ReaperRepository,StaffDirectory,StudentRepository
