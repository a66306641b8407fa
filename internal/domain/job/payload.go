// Package job defines the closed set of job payloads and the policies that govern job execution.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// PayloadVersion is written into every payload this build produces.
const PayloadVersion = 1

var (
	// ErrUnknownJobType is returned when a stored job carries a tag this build does not know.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrUnsupportedVersion is returned for payloads written by a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported payload version")
)

// Payload is implemented only by the variants in this file.
type Payload interface {
	Type() model.JobType
	validate() error
}

// NotifyStaff alerts one staff member about a new or upgraded case.
type NotifyStaff struct {
	Version   int                `json:"version"`
	Recipient string             `json:"recipient"`
	StaffID   string             `json:"staff_id"`
	CaseID    string             `json:"case_id"`
	Priority  model.CasePriority `json:"priority"`
}

func (NotifyStaff) Type() model.JobType { return model.JobTypeNotifyStaff }

func (p NotifyStaff) validate() error {
	if p.Recipient == "" || p.CaseID == "" {
		return errors.New("notify_staff: recipient and case_id are required")
	}
	return nil
}

// DeliverResult sends the screening outcome to the student.
type DeliverResult struct {
	Version           int             `json:"version"`
	Recipient         string          `json:"recipient"`
	AssessmentID      string          `json:"assessment_id"`
	RiskLevel         model.RiskLevel `json:"risk_level"`
	RoutingSuggestion string          `json:"routing_suggestion"`
	ShowBookingCTA    bool            `json:"show_booking_cta"`
}

func (DeliverResult) Type() model.JobType { return model.JobTypeDeliverResult }

func (p DeliverResult) validate() error {
	if p.Recipient == "" || p.AssessmentID == "" {
		return errors.New("deliver_result: recipient and assessment_id are required")
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("deliver_result: invalid risk level %q", p.RiskLevel)
	}
	return nil
}

// ReminderWindow selects which of the two reminder tags a Reminder is stored under.
type ReminderWindow int

const (
	ReminderDayBefore ReminderWindow = iota
	ReminderTwoHoursBefore
)

// Lead is how long before the appointment the reminder fires.
func (w ReminderWindow) Lead() time.Duration {
	if w == ReminderTwoHoursBefore {
		return 2 * time.Hour
	}
	return 24 * time.Hour
}

// Reminder nudges a student ahead of an appointment.
type Reminder struct {
	Version       int            `json:"version"`
	AppointmentID string         `json:"appointment_id"`
	Recipient     string         `json:"recipient"`
	Window        ReminderWindow `json:"-"`
}

func (p Reminder) Type() model.JobType {
	if p.Window == ReminderTwoHoursBefore {
		return model.JobTypeReminder2h
	}
	return model.JobTypeReminder1d
}

func (p Reminder) validate() error {
	if p.AppointmentID == "" || p.Recipient == "" {
		return errors.New("reminder: appointment_id and recipient are required")
	}
	return nil
}

// EscalationCheck re-examines a crisis case once its acknowledgment deadline has passed.
type EscalationCheck struct {
	Version  int       `json:"version"`
	CaseID   string    `json:"case_id"`
	Deadline time.Time `json:"deadline"`
}

func (EscalationCheck) Type() model.JobType { return model.JobTypeEscalationCheck }

func (p EscalationCheck) validate() error {
	if p.CaseID == "" {
		return errors.New("escalation_check: case_id is required")
	}
	return nil
}

// MetricRollup adds one submission to the daily aggregate.
type MetricRollup struct {
	Version   int             `json:"version"`
	Date      string          `json:"date"`
	Faculty   string          `json:"faculty"`
	RiskLevel model.RiskLevel `json:"risk_level"`
}

func (MetricRollup) Type() model.JobType { return model.JobTypeMetricRollup }

func (p MetricRollup) validate() error {
	if _, err := time.Parse(time.DateOnly, p.Date); err != nil {
		return fmt.Errorf("metric_rollup: invalid date %q", p.Date)
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("metric_rollup: invalid risk level %q", p.RiskLevel)
	}
	return nil
}

// Key returns the aggregate cell this rollup increments.
func (p MetricRollup) Key() model.DailyMetricKey {
	return model.DailyMetricKey{Date: p.Date, Faculty: p.Faculty, RiskLevel: p.RiskLevel}
}

// Encode stamps the current version on p and marshals it.
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.New("payload is required")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	var v any
	switch t := p.(type) {
	case NotifyStaff:
		t.Version = PayloadVersion
		v = t
	case DeliverResult:
		t.Version = PayloadVersion
		v = t
	case Reminder:
		t.Version = PayloadVersion
		v = t
	case EscalationCheck:
		t.Version = PayloadVersion
		v = t
	case MetricRollup:
		t.Version = PayloadVersion
		v = t
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownJobType, p)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Type(), err)
	}
	return raw, nil
}

// BuildRequest turns a payload into an enqueue request that runs no earlier than runAt.
func BuildRequest(p Payload, runAt time.Time) (*model.CreateJobRequest, error) {
	raw, err := Encode(p)
	if err != nil {
		return nil, err
	}
	at := runAt.UTC()
	return &model.CreateJobRequest{Type: p.Type(), Payload: raw, RunAt: &at}, nil
}

// Decode parses raw as the variant tagged by jobType.
func Decode(jobType model.JobType, raw json.RawMessage) (Payload, error) {
	switch jobType {
	case model.JobTypeNotifyStaff:
		return decodeAs[NotifyStaff](jobType, raw)
	case model.JobTypeDeliverResult:
		return decodeAs[DeliverResult](jobType, raw)
	case model.JobTypeReminder1d:
		return decodeAs[Reminder](jobType, raw)
	case model.JobTypeReminder2h:
		p, err := decodeAs[Reminder](jobType, raw)
		if err != nil {
			return nil, err
		}
		r := p.(Reminder)
		r.Window = ReminderTwoHoursBefore
		return r, nil
	case model.JobTypeEscalationCheck:
		return decodeAs[EscalationCheck](jobType, raw)
	case model.JobTypeMetricRollup:
		return decodeAs[MetricRollup](jobType, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
}

type versioned interface {
	Payload
	version() int
}

func (p NotifyStaff) version() int     { return p.Version }
func (p DeliverResult) version() int   { return p.Version }
func (p Reminder) version() int        { return p.Version }
func (p EscalationCheck) version() int { return p.Version }
func (p MetricRollup) version() int    { return p.Version }

func decodeAs[T versioned](jobType model.JobType, raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	// Rows written before versioning have no version field and are read as v1.
	if v := p.version(); v > PayloadVersion {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, jobType, v)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
