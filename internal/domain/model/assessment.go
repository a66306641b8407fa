package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrAssessmentNotFound is returned when an assessment id does not resolve.
var ErrAssessmentNotFound = errors.New("assessment not found")

// Answer is a single scored response keyed by its question number.
type Answer struct {
	QuestionID int `json:"question_id"`
	Score      int `json:"score"`
}

// Scores holds the derived sub-scores. Sub-scores an instrument does not produce stay nil.
type Scores struct {
	Depression *int `json:"phq9_score"`
	Anxiety    *int `json:"gad7_score"`
	Stress     *int `json:"stress_score"`
}

// Assessment is an immutable screening record.
type Assessment struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	Instrument Instrument `json:"instrument"`
	Intent     Intent     `json:"intent"`
	Answers    []Answer   `json:"answers"`
	Scores     Scores     `json:"scores"`
	RiskLevel  RiskLevel  `json:"risk_level"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SubmitAssessmentRequest is the input to the triage pipeline.
type SubmitAssessmentRequest struct {
	StudentID  string     `json:"student_id"`
	Instrument Instrument `json:"instrument"`
	Intent     Intent     `json:"intent"`
	Answers    []Answer   `json:"answers"`
}

// Validate checks request shape. Per-item range checks happen during scoring.
func (r *SubmitAssessmentRequest) Validate() error {
	if r.StudentID == "" {
		return errors.New("student_id is required and cannot be empty")
	}
	if !r.Instrument.Valid() {
		return fmt.Errorf("instrument must be one of: %s, %s", InstrumentStressMini, InstrumentPHQ9GAD7)
	}
	if !r.Intent.Valid() {
		return errors.New("intent must be one of: academic, stress, relationship, sleep, other, unsure")
	}
	if len(r.Answers) == 0 {
		return errors.New("answers cannot be empty")
	}
	return nil
}

// SubmitAssessmentResult is returned synchronously to the submitter.
type SubmitAssessmentResult struct {
	AssessmentID      string    `json:"id"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Scores            Scores    `json:"scores"`
	RoutingSuggestion string    `json:"routing_suggestion"`
	CaseID            *string   `json:"case_id"`
}

// LatestAssessment backs the booking soft gate.
type LatestAssessment struct {
	HasRecent  bool        `json:"has_recent"`
	Assessment *Assessment `json:"assessment,omitempty"`
}
