package models

import (
	"errors"
	"fmt"
	"time"
)

// EnrollmentState represents the lifecycle of a (student, section) record.
type EnrollmentState string

// Possible enrollment states.
const (
	EnrollmentWaitlisted EnrollmentState = "waitlisted"
	EnrollmentEnrolled   EnrollmentState = "enrolled"
	EnrollmentCompleted  EnrollmentState = "completed"
	EnrollmentWithdrawn  EnrollmentState = "withdrawn"
	EnrollmentDropped    EnrollmentState = "dropped"
)

// ErrIllegalTransition is returned for any transition outside the lifecycle.
var ErrIllegalTransition = errors.New("illegal enrollment transition")

var transitions = map[EnrollmentState][]EnrollmentState{
	EnrollmentWaitlisted: {EnrollmentEnrolled},
	EnrollmentEnrolled:   {EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped},
}

// CanTransition reports whether s may move to next.
func (s EnrollmentState) CanTransition(next EnrollmentState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports completed, withdrawn and dropped.
func (s EnrollmentState) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped:
		return true
	}
	return false
}

// Active reports the non-terminal states; at most one active record exists per
// student and section.
func (s EnrollmentState) Active() bool {
	return s == EnrollmentWaitlisted || s == EnrollmentEnrolled
}

// HoldsSeat reports whether the record is counted in the section's enrolled count.
func (s EnrollmentState) HoldsSeat() bool {
	return s == EnrollmentEnrolled || s == EnrollmentCompleted
}

// Valid reports whether s is a known state.
func (s EnrollmentState) Valid() bool {
	switch s {
	case EnrollmentWaitlisted, EnrollmentEnrolled, EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped:
		return true
	}
	return false
}

// Enrollment captures a student's registration to a course section.
type Enrollment struct {
	ID               string          `db:"id" json:"id"`
	StudentID        string          `db:"student_id" json:"student_id"`
	SectionID        string          `db:"section_id" json:"section_id"`
	TermID           string          `db:"term_id" json:"term_id"`
	Credits          int             `db:"credits" json:"credits"`
	State            EnrollmentState `db:"state" json:"state"`
	Grade            *string         `db:"grade" json:"grade,omitempty"`
	WaitlistPosition *int64          `db:"waitlist_position" json:"waitlist_position,omitempty"`
	WaitlistedAt     *time.Time      `db:"waitlisted_at" json:"waitlisted_at,omitempty"`
	EnrolledAt       *time.Time      `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	WithdrawnAt      *time.Time      `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	DroppedAt        *time.Time      `db:"dropped_at" json:"dropped_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// NewEnrolled builds a record holding a seat.
func NewEnrolled(id, studentID string, section CourseSection, at time.Time) Enrollment {
	return Enrollment{
		ID:         id,
		StudentID:  studentID,
		SectionID:  section.ID,
		TermID:     section.TermID,
		Credits:    section.Credits,
		State:      EnrollmentEnrolled,
		EnrolledAt: &at,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// NewWaitlisted builds a queued record at the given position.
func NewWaitlisted(id, studentID string, section CourseSection, position int64, at time.Time) Enrollment {
	return Enrollment{
		ID:               id,
		StudentID:        studentID,
		SectionID:        section.ID,
		TermID:           section.TermID,
		Credits:          section.Credits,
		State:            EnrollmentWaitlisted,
		WaitlistPosition: &position,
		WaitlistedAt:     &at,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// Transition moves the record to next and stamps the matching timestamp.
// Leaving waitlisted clears the position.
func (e *Enrollment) Transition(next EnrollmentState, at time.Time) error {
	if !e.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, e.State, next)
	}
	switch next {
	case EnrollmentEnrolled:
		e.EnrolledAt = &at
	case EnrollmentCompleted:
		e.CompletedAt = &at
	case EnrollmentWithdrawn:
		e.WithdrawnAt = &at
	case EnrollmentDropped:
		e.DroppedAt = &at
	}
	e.WaitlistPosition = nil
	e.State = next
	e.UpdatedAt = at
	return nil
}

// Complete closes the record with a grade.
func (e *Enrollment) Complete(grade string, at time.Time) error {
	if err := e.Transition(EnrollmentCompleted, at); err != nil {
		return err
	}
	e.Grade = &grade
	return nil
}

// Requeue moves a waitlisted record to a new, later position.
func (e *Enrollment) Requeue(position int64, at time.Time) error {
	if e.State != EnrollmentWaitlisted {
		return fmt.Errorf("%w: requeue from %s", ErrIllegalTransition, e.State)
	}
	e.WaitlistPosition = &position
	e.UpdatedAt = at
	return nil
}

// Position returns the waitlist position or zero.
func (e Enrollment) Position() int64 {
	if e.WaitlistPosition == nil {
		return 0
	}
	return *e.WaitlistPosition
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SectionID string
	TermID    string
	State     EnrollmentState
}
