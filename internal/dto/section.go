package dto

// CreateSectionRequest opens a new course section.
type CreateSectionRequest struct {
	ID         string `json:"id" validate:"omitempty,max=64"`
	TermID     string `json:"term_id" validate:"required"`
	CourseCode string `json:"course_code" validate:"required,max=32"`
	Title      string `json:"title" validate:"required,max=200"`
	Credits    int    `json:"credits" validate:"required,min=1,max=12"`
	Capacity   int    `json:"capacity" validate:"required,min=1"`
}

// UpdateCapacityRequest changes a section's seat count.
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,min=1"`
}
