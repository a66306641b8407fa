package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusOpen      CaseStatus = "open"
	CaseStatusAcked     CaseStatus = "acked"
	CaseStatusContacted CaseStatus = "contacted"
	CaseStatusFollowUp  CaseStatus = "follow_up"
	CaseStatusClosed    CaseStatus = "closed"
)

// CasePriority mirrors the risk level that opened the case.
type CasePriority string

const (
	CasePriorityHigh   CasePriority = "high"
	CasePriorityCrisis CasePriority = "crisis"
)

var (
	// ErrCaseAlreadyAcknowledged is returned to the losing side of a concurrent acknowledgment.
	ErrCaseAlreadyAcknowledged = errors.New("case not found or already acknowledged")
	// ErrCaseNotFound is returned when a case id does not resolve.
	ErrCaseNotFound = errors.New("case not found")
)

// Valid returns true if the status is known.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusOpen, CaseStatusAcked, CaseStatusContacted, CaseStatusFollowUp, CaseStatusClosed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusClosed
}

// Next returns the single forward successor of s.
func (s CaseStatus) Next() (CaseStatus, bool) {
	switch s {
	case CaseStatusOpen:
		return CaseStatusAcked, true
	case CaseStatusAcked:
		return CaseStatusContacted, true
	case CaseStatusContacted:
		return CaseStatusFollowUp, true
	case CaseStatusFollowUp:
		return CaseStatusClosed, true
	default:
		return "", false
	}
}

// Previous returns the state that must precede s.
func (s CaseStatus) Previous() (CaseStatus, bool) {
	for _, candidate := range []CaseStatus{CaseStatusOpen, CaseStatusAcked, CaseStatusContacted, CaseStatusFollowUp} {
		if next, _ := candidate.Next(); next == s {
			return candidate, true
		}
	}
	return "", false
}

// CanTransitionTo reports whether s -> next is a legal edge.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	want, ok := s.Next()
	return ok && want == next
}

// ParseCaseStatus parses and validates a status string.
func ParseCaseStatus(v string) (CaseStatus, error) {
	s := CaseStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", errors.New("status must be one of: open, acked, contacted, follow_up, closed")
	}
	return s, nil
}

// PriorityForRisk maps a case-opening risk level to its priority.
func PriorityForRisk(level RiskLevel) (CasePriority, bool) {
	switch level {
	case RiskCrisis:
		return CasePriorityCrisis, true
	case RiskHigh:
		return CasePriorityHigh, true
	default:
		return "", false
	}
}

// Case is a clinical follow-up record.
type Case struct {
	ID              string       `json:"id"`
	StudentID       string       `json:"student_id"`
	AssessmentID    string       `json:"assessment_id"`
	Priority        CasePriority `json:"priority"`
	Status          CaseStatus   `json:"status"`
	AssignedStaffID *string      `json:"assigned_staff_id,omitempty"`
	AckedAt         *time.Time   `json:"acked_at,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// UpdateCaseStatusParams describes a compare-and-swap status change.
type UpdateCaseStatusParams struct {
	ID              string
	Expected        CaseStatus
	Next            CaseStatus
	AssignedStaffID *string
	At              time.Time
}

// Validate checks the transition is a legal edge of the state machine.
func (p UpdateCaseStatusParams) Validate() error {
	if p.ID == "" {
		return errors.New("case id is required and cannot be empty")
	}
	if !p.Expected.CanTransitionTo(p.Next) {
		return fmt.Errorf("invalid case transition %s -> %s", p.Expected, p.Next)
	}
	if p.Next == CaseStatusAcked && (p.AssignedStaffID == nil || *p.AssignedStaffID == "") {
		return errors.New("assigned staff is required to acknowledge a case")
	}
	return nil
}

// CasePolicy decides what a qualifying submission does when the student already has a non-closed case.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type CasePolicy string

const (
	// CasePolicyPerSubmission opens one case per qualifying submission.
	CasePolicyPerSubmission CasePolicy = "per_submission"
	// CasePolicyReuseOpen attaches the submission to the student's existing non-closed case.
	CasePolicyReuseOpen CasePolicy = "reuse_open"
)

// Valid returns true if the policy is known.
func (p CasePolicy) Valid() bool {
	return p == CasePolicyPerSubmission || p == CasePolicyReuseOpen
}

// UnmarshalText implements encoding.TextUnmarshaler so the policy can be read from env.
func (p *CasePolicy) UnmarshalText(text []byte) error {
	v := CasePolicy(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid case policy: %q", string(text))
	}
	*p = v
	return nil
}
