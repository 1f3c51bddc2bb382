package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type enrollmentReader interface {
	GetStudentEnrollments(ctx context.Context, studentID, termID string) ([]models.Enrollment, error)
}

type holdLister interface {
	ListHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error)
}

// StudentHandler serves per-student read views.
type StudentHandler struct {
	enrollments enrollmentReader
	holds       holdLister
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(enrollments enrollmentReader, holds holdLister) *StudentHandler {
	return &StudentHandler{enrollments: enrollments, holds: holds}
}

// Enrollments godoc
// @Summary List a student's enrollments
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param termId query string false "Filter by term"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *StudentHandler) Enrollments(c *gin.Context) {
	enrollments, err := h.enrollments.GetStudentEnrollments(c.Request.Context(), c.Param("id"), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Holds godoc
// @Summary List a student's financial holds
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/holds [get]
func (h *StudentHandler) Holds(c *gin.Context) {
	holds, err := h.holds.ListHolds(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, holds, nil)
}
