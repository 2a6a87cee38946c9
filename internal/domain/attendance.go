package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the lifecycle state of a program enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "ACTIVE"
	EnrollmentExhausted EnrollmentStatus = "EXHAUSTED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment is a purchased package of program sessions.
type Enrollment struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             uuid.UUID        `json:"user_id"`
	ProgramID          uuid.UUID        `json:"program_id"`
	PackagePurchaseRef string           `json:"package_purchase_ref"`
	SessionsRemaining  int              `json:"sessions_remaining"`
	Status             EnrollmentStatus `json:"status"`
	Version            int64            `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Eligible reports whether a session can still be consumed.
func (e Enrollment) Eligible() bool {
	return e.Status == EnrollmentActive && e.SessionsRemaining > 0
}

// AfterSession returns the remaining sessions and status after one attendance.
func (e Enrollment) AfterSession() (int, EnrollmentStatus) {
	remaining := e.SessionsRemaining - 1
	if remaining <= 0 {
		return 0, EnrollmentExhausted
	}
	return remaining, EnrollmentActive
}

// AttendanceMark records that a participant attended an occurrence.
type AttendanceMark struct {
	ID           uuid.UUID `json:"id"`
	OccurrenceID uuid.UUID `json:"occurrence_id"`
	UserID       uuid.UUID `json:"user_id"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	MarkedBy     uuid.UUID `json:"marked_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// AttendanceOutcome distinguishes a fresh mark from a benign repeat.
type AttendanceOutcome string

const (
	AttendanceMarked        AttendanceOutcome = "MARKED"
	AttendanceAlreadyMarked AttendanceOutcome = "ALREADY_MARKED"
)

// AttendanceResult is returned by MarkAttendance.
type AttendanceResult struct {
	Outcome           AttendanceOutcome `json:"outcome"`
	Mark              *AttendanceMark   `json:"mark,omitempty"`
	SessionsRemaining *int              `json:"sessions_remaining,omitempty"`
	EnrollmentStatus  EnrollmentStatus  `json:"enrollment_status,omitempty"`
}
