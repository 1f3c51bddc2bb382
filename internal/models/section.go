package models

import "time"

// SectionStatus is derived from the seat count.
type SectionStatus string

const (
	SectionStatusOpen SectionStatus = "open"
	SectionStatusFull SectionStatus = "full"
)

// CourseSection is one offering of a course within a term together with its
// seat ledger.
type CourseSection struct {
	ID                   string    `db:"id" json:"id"`
	TermID               string    `db:"term_id" json:"term_id"`
	CourseCode           string    `db:"course_code" json:"course_code"`
	Title                string    `db:"title" json:"title"`
	Credits              int       `db:"credits" json:"credits"`
	Capacity             int       `db:"capacity" json:"capacity"`
	EnrolledCount        int       `db:"enrolled_count" json:"enrolled_count"`
	NextWaitlistPosition int64     `db:"next_waitlist_position" json:"next_waitlist_position"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Status reports open while at least one seat remains.
func (s CourseSection) Status() SectionStatus {
	if s.EnrolledCount < s.Capacity {
		return SectionStatusOpen
	}
	return SectionStatusFull
}

// OpenSeats returns the number of free seats, never negative.
func (s CourseSection) OpenSeats() int {
	if s.EnrolledCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.EnrolledCount
}

// TakeWaitlistPosition hands out the next monotonic position. Positions are
// never reused, including when a student is re-queued.
func (s *CourseSection) TakeWaitlistPosition() int64 {
	if s.NextWaitlistPosition <= 0 {
		s.NextWaitlistPosition = 1
	}
	pos := s.NextWaitlistPosition
	s.NextWaitlistPosition++
	return pos
}

// WaitlistEntry is the queue view of a waitlisted enrollment.
type WaitlistEntry struct {
	EnrollmentID string    `db:"id" json:"enrollment_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	Position     int64     `db:"waitlist_position" json:"position"`
	WaitlistedAt time.Time `db:"waitlisted_at" json:"waitlisted_at"`
}

// SectionState is the read view returned by getSectionState.
type SectionState struct {
	Section  CourseSection   `json:"section"`
	Status   SectionStatus   `json:"status"`
	Waitlist []WaitlistEntry `json:"waitlist"`
}

// SectionFilter narrows section listings.
type SectionFilter struct {
	TermID   string
	OpenOnly bool
	Page     int
	PageSize int
}
