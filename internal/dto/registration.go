package dto

import "github.com/noah-isme/registrar-api/internal/models"

// RegisterRequest enrolls or waitlists a student in a section.
type RegisterRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// DropRequest removes a student from a section or its waitlist.
type DropRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// SwapRequest atomically replaces one enrollment with another.
type SwapRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	DropSectionID string `json:"drop_section_id" validate:"required"`
	AddSectionID  string `json:"add_section_id" validate:"required,nefield=DropSectionID"`
}

// CompleteRequest records a final grade for an enrolled student.
type CompleteRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Grade     string `json:"grade" validate:"required,max=4"`
}

// RegistrationResponse reports the outcome of a registration.
type RegistrationResponse struct {
	Outcome    string            `json:"outcome"`
	Enrollment models.Enrollment `json:"enrollment"`
}

// DropResponse reports what a drop did.
type DropResponse struct {
	Enrollment          models.Enrollment `json:"enrollment"`
	RemovedFromWaitlist bool              `json:"removed_from_waitlist"`
}

// SwapResponse returns both legs of a committed swap.
type SwapResponse struct {
	Dropped models.Enrollment `json:"dropped"`
	Added   models.Enrollment `json:"added"`
}

// PromotionResponse summarises one promotion pass.
type PromotionResponse struct {
	Promoted []string `json:"promoted"`
	Requeued []string `json:"requeued"`
	Skipped  []string `json:"skipped"`
}

// SweepResponse reports whether a triggered sweep ran or was skipped.
type SweepResponse struct {
	Job string `json:"job"`
	Ran bool   `json:"ran"`
}
