// Package message builds the outbound chat messages sent to students and staff.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// Message is a single chat bubble in the LINE Messaging API shape.
type Message struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	AltText  string    `json:"altText,omitempty"`
	Template *Template `json:"template,omitempty"`
}

// Template is a buttons template.
type Template struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Action is a button attached to a template.
type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URI   string `json:"uri,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Text builds a plain text bubble.
func Text(s string) Message {
	return Message{Type: "text", Text: s}
}

// Link builds a single-button template that opens uri.
func Link(alt, body, label, uri string) Message {
	return Message{
		Type:    "template",
		AltText: alt,
		Template: &Template{
			Type:    "buttons",
			Text:    body,
			Actions: []Action{{Type: "uri", Label: label, URI: uri}},
		},
	}
}

// Links carries the absolute URLs embedded in buttons.
type Links struct {
	AdminURL   string
	BookingURL string
}

// CaseURL is the counselor dashboard page for a case.
func (l Links) CaseURL(caseID string) string {
	return strings.TrimRight(l.AdminURL, "/") + "/counselor/cases/" + caseID
}

var bangkok = time.FixedZone("ICT", 7*60*60)

func localTime(t time.Time) string {
	return t.In(bangkok).Format("02 Jan 2006 15:04")
}

// StaffAlert tells a clinical staff member that a case needs acknowledgment.
func StaffAlert(links Links, caseID string, priority model.CasePriority) []Message {
	headline := "New high-risk case"
	if priority == model.CasePriorityCrisis {
		headline = "CRISIS case: acknowledge within 30 minutes"
	}
	body := fmt.Sprintf("%s\nCase %s is waiting in the queue.", headline, shortID(caseID))
	return []Message{
		Text(body),
		Link(headline, "Open the case to acknowledge it.", "Open case", links.CaseURL(caseID)),
	}
}

// EscalationAlert tells a supervisor that a crisis case passed its deadline unacknowledged.
func EscalationAlert(links Links, caseID string, deadline time.Time) []Message {
	body := fmt.Sprintf("ESCALATION: crisis case %s was not acknowledged by %s.\nPlease assign it now.",
		shortID(caseID), localTime(deadline))
	return []Message{
		Text(body),
		Link("Unacknowledged crisis case", "Unacknowledged after deadline.", "Open case", links.CaseURL(caseID)),
	}
}

// Result delivers the screening outcome. Crisis results carry the safety pack.
func Result(links Links, level model.RiskLevel, suggestion string, showBookingCTA bool) []Message {
	msgs := []Message{Text(fmt.Sprintf("Your screening result: %s\n\n%s", levelLabel(level), suggestion))}
	if level == model.RiskCrisis {
		return append(msgs, SafetyPack()...)
	}
	if showBookingCTA && links.BookingURL != "" {
		msgs = append(msgs, Link("Book a session", "Would you like to talk to someone?", "Book now", links.BookingURL))
	}
	return msgs
}

// SafetyPack lists the emergency contacts sent with every crisis result.
func SafetyPack() []Message {
	return []Message{Text(strings.Join([]string{
		"You do not have to go through this alone.",
		"Mental health hotline: 1323 (24 hours)",
		"Emergency medical services: 1669",
		"University counseling center: open weekdays 08:30-16:30",
	}, "\n"))}
}

// Reminder tells a student about an upcoming appointment.
func Reminder(appt *model.Appointment, lead time.Duration) []Message {
	when := "tomorrow"
	if lead < 24*time.Hour {
		when = "in 2 hours"
	}
	body := fmt.Sprintf("Reminder: you have an appointment %s (%s).", when, localTime(appt.ScheduledAt))
	if appt.Mode == model.AppointmentOnline && appt.MeetingURL != nil && *appt.MeetingURL != "" {
		return []Message{Text(body), Link("Join meeting", "Join your online session here.", "Join", *appt.MeetingURL)}
	}
	return []Message{Text(body + "\nPlease come to the counseling center.")}
}

func levelLabel(level model.RiskLevel) string {
	switch level {
	case model.RiskLow:
		return "low"
	case model.RiskModerate:
		return "moderate"
	case model.RiskHigh:
		return "high"
	default:
		return "urgent"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
