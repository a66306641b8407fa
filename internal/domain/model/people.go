package model

import (
	"errors"
	"time"
)

// StaffRole is the role a staff member holds.
type StaffRole string

const (
	StaffRoleAdvisor    StaffRole = "advisor"
	StaffRoleCounselor  StaffRole = "counselor"
	StaffRoleSupervisor StaffRole = "supervisor"
	StaffRoleAdmin      StaffRole = "admin"
)

// Clinical reports whether the role may own a case.
func (r StaffRole) Clinical() bool {
	return r == StaffRoleCounselor || r == StaffRoleSupervisor
}

// ErrStaffNotFound is returned when a staff id does not resolve.
var ErrStaffNotFound = errors.New("staff member not found")

// ErrStudentNotFound is returned when a student id does not resolve.
var ErrStudentNotFound = errors.New("student not found")

// Staff is a member of the support team.
type Staff struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       StaffRole `json:"role"`
	LineUserID *string   `json:"line_user_id,omitempty"`
	IsActive   bool      `json:"is_active"`
}

// StaffContact is a notifiable staff member.
type StaffContact struct {
	StaffID    string
	Name       string
	LineUserID string
}

// Student is the owner of assessments and cases.
type Student struct {
	ID          string    `json:"id"`
	StudentCode string    `json:"student_code"`
	Faculty     string    `json:"faculty"`
	LineUserID  *string   `json:"line_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Linked reports whether the student can receive messages.
func (s *Student) Linked() bool {
	return s != nil && s.LineUserID != nil && *s.LineUserID != ""
}
