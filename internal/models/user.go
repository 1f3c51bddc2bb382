package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleRegistrar UserRole = "REGISTRAR"
	RoleAdvisor   UserRole = "ADVISOR"
	RoleStudent   UserRole = "STUDENT"
)

// Staff reports whether the role may act on behalf of any student.
func (r UserRole) Staff() bool {
	return r == RoleAdmin || r == RoleRegistrar
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
