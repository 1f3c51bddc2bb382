package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens issued by the
// campus identity provider.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	StudentID string   `json:"student_id,omitempty"`
	Email     string   `json:"email"`
	jwt.RegisteredClaims
}

// CanActFor reports whether the caller may act on studentID.
func (c *JWTClaims) CanActFor(studentID string) bool {
	if c == nil {
		return false
	}
	if c.Role.Staff() {
		return true
	}
	return c.Role == RoleStudent && c.StudentID != "" && c.StudentID == studentID
}
