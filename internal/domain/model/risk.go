// Package model defines the core data types shared by the triage pipeline.
package model

import (
	"fmt"
	"strings"
)

// RiskLevel is the severity classification produced by the scoring engine.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RiskLevel string

const (
	// RiskLow needs no follow-up beyond self-help material.
	RiskLow RiskLevel = "low"
	// RiskModerate suggests an advisor or psychologist.
	RiskModerate RiskLevel = "moderate"
	// RiskHigh opens a case for counselor follow-up.
	RiskHigh RiskLevel = "high"
	// RiskCrisis opens a case and schedules an escalation check.
	RiskCrisis RiskLevel = "crisis"
)

// RiskLevels lists every level in ascending severity.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskCrisis}
}

// Valid returns true if the RiskLevel is one of the known levels.
func (l RiskLevel) Valid() bool {
	return l.Severity() >= 0
}

// Severity returns the position of the level in the total order, or -1 when unknown.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskCrisis:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Severity() >= other.Severity()
}

// OpensCase reports whether an assessment at this level must open a case.
func (l RiskLevel) OpensCase() bool {
	return l == RiskHigh || l == RiskCrisis
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *RiskLevel) UnmarshalText(text []byte) error {
	v := RiskLevel(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid risk level: %q", string(text))
	}
	*l = v
	return nil
}

// Instrument identifies a screening questionnaire.
type Instrument string

const (
	// InstrumentStressMini is the short stress index.
	InstrumentStressMini Instrument = "stress_mini"
	// InstrumentPHQ9GAD7 is the two-part depression/anxiety instrument.
	InstrumentPHQ9GAD7 Instrument = "phq9_gad7"
)

// Valid returns true if the instrument is supported.
func (i Instrument) Valid() bool {
	return i == InstrumentStressMini || i == InstrumentPHQ9GAD7
}

// Intent is the topic a student picked before starting a screening.
type Intent string

const (
	IntentAcademic     Intent = "academic"
	IntentStress       Intent = "stress"
	IntentRelationship Intent = "relationship"
	IntentSleep        Intent = "sleep"
	IntentOther        Intent = "other"
	IntentUnsure       Intent = "unsure"
)

// Valid returns true if the intent is one of the known topics.
func (i Intent) Valid() bool {
	switch i {
	case IntentAcademic, IntentStress, IntentRelationship, IntentSleep, IntentOther, IntentUnsure:
		return true
	default:
		return false
	}
}
