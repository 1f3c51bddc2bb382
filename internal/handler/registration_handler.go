package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type registrationService interface {
	Register(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*service.RegistrationResult, error)
	Drop(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*service.DropResult, error)
	Withdraw(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*models.Enrollment, error)
	Swap(ctx context.Context, settings models.RegistrationSettings, studentID, dropSectionID, addSectionID string) (*service.SwapResult, error)
}

type settingsSnapshotter interface {
	Snapshot(ctx context.Context) (models.RegistrationSettings, error)
}

// RegistrationHandler exposes the student-facing registration mutations.
type RegistrationHandler struct {
	registrations registrationService
	settings      settingsSnapshotter
	validator     *validator.Validate
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registrations registrationService, settings settingsSnapshotter, validate *validator.Validate) *RegistrationHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &RegistrationHandler{registrations: registrations, settings: settings, validator: validate}
}

// Register godoc
// @Summary Register for a section
// @Description Enrolls the student when a seat is free, otherwise places them on the waitlist.
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope "enrolled"
// @Success 202 {object} response.Envelope "waitlisted"
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bindJSON(c, h.validator, &req, "invalid registration payload") || !authorizeStudent(c, req.StudentID) {
		return
	}
	settings, ok := h.snapshot(c)
	if !ok {
		return
	}
	result, err := h.registrations.Register(c.Request.Context(), settings, req.StudentID, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome == service.OutcomeWaitlisted {
		status = http.StatusAccepted
	}
	response.JSON(c, status, dto.RegistrationResponse{Outcome: result.Outcome, Enrollment: result.Enrollment}, nil)
}

// Drop godoc
// @Summary Drop a section or leave its waitlist
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.DropRequest true "Drop payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /registrations/drop [post]
func (h *RegistrationHandler) Drop(c *gin.Context) {
	var req dto.DropRequest
	if !bindJSON(c, h.validator, &req, "invalid drop payload") || !authorizeStudent(c, req.StudentID) {
		return
	}
	settings, ok := h.snapshot(c)
	if !ok {
		return
	}
	result, err := h.registrations.Drop(c.Request.Context(), settings, req.StudentID, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DropResponse{Enrollment: result.Enrollment, RemovedFromWaitlist: result.RemovedFromWaitlist}, nil)
}

// Withdraw godoc
// @Summary Withdraw from a section after the add/drop window
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.DropRequest true "Withdraw payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/withdraw [post]
func (h *RegistrationHandler) Withdraw(c *gin.Context) {
	var req dto.DropRequest
	if !bindJSON(c, h.validator, &req, "invalid withdraw payload") || !authorizeStudent(c, req.StudentID) {
		return
	}
	settings, ok := h.snapshot(c)
	if !ok {
		return
	}
	enrollment, err := h.registrations.Withdraw(c.Request.Context(), settings, req.StudentID, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Swap godoc
// @Summary Atomically swap one enrolled section for another
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SwapRequest true "Swap payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/swap [post]
func (h *RegistrationHandler) Swap(c *gin.Context) {
	var req dto.SwapRequest
	if !bindJSON(c, h.validator, &req, "invalid swap payload") || !authorizeStudent(c, req.StudentID) {
		return
	}
	settings, ok := h.snapshot(c)
	if !ok {
		return
	}
	result, err := h.registrations.Swap(c.Request.Context(), settings, req.StudentID, req.DropSectionID, req.AddSectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SwapResponse{Dropped: result.Dropped, Added: result.Added}, nil)
}

func (h *RegistrationHandler) snapshot(c *gin.Context) (models.RegistrationSettings, bool) {
	settings, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return models.RegistrationSettings{}, false
	}
	return settings, true
}

func bindJSON(c *gin.Context, validate *validator.Validate, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}
