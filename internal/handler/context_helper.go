package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// authorizeStudent writes 403 and returns false unless the caller is staff or
// the student themself.
func authorizeStudent(c *gin.Context, studentID string) bool {
	if claimsFromContext(c).CanActFor(studentID) {
		return true
	}
	response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not permitted to act for this student"))
	return false
}
