package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type sectionService interface {
	GetSectionState(ctx context.Context, sectionID string) (*models.SectionState, error)
	ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, *models.Pagination, error)
	CreateSection(ctx context.Context, req dto.CreateSectionRequest) (*models.CourseSection, error)
	UpdateCapacity(ctx context.Context, sectionID string, capacity int) (*models.CourseSection, error)
	Complete(ctx context.Context, studentID, sectionID, grade string) (*models.Enrollment, error)
	PromoteWaitlist(ctx context.Context, settings models.RegistrationSettings, sectionID string) (*service.PromotionReport, error)
}

// SectionHandler exposes section read views and registrar actions.
type SectionHandler struct {
	sections  sectionService
	settings  settingsSnapshotter
	validator *validator.Validate
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService, settings settingsSnapshotter, validate *validator.Validate) *SectionHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &SectionHandler{sections: sections, settings: settings, validator: validate}
}

// List godoc
// @Summary List sections
// @Tags Sections
// @Produce json
// @Security BearerAuth
// @Param termId query string false "Filter by term"
// @Param open query bool false "Only sections with free seats"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	filter := models.SectionFilter{TermID: c.Query("termId")}
	filter.OpenOnly, _ = strconv.ParseBool(c.DefaultQuery("open", "false"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	sections, pagination, err := h.sections.ListSections(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get section state
// @Description Seat counts, derived status and the ordered waitlist.
// @Tags Sections
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	state, err := h.sections.GetSectionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Create godoc
// @Summary Create section
// @Tags Sections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /sections [post]
func (h *SectionHandler) Create(c *gin.Context) {
	var req dto.CreateSectionRequest
	if !bindJSON(c, h.validator, &req, "invalid section payload") {
		return
	}
	section, err := h.sections.CreateSection(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// UpdateCapacity godoc
// @Summary Change section capacity
// @Description Raising capacity triggers waitlist promotion.
// @Tags Sections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Param payload body dto.UpdateCapacityRequest true "Capacity payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/capacity [put]
func (h *SectionHandler) UpdateCapacity(c *gin.Context) {
	var req dto.UpdateCapacityRequest
	if !bindJSON(c, h.validator, &req, "invalid capacity payload") {
		return
	}
	section, err := h.sections.UpdateCapacity(c.Request.Context(), c.Param("id"), req.Capacity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Complete godoc
// @Summary Record a final grade
// @Tags Sections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Param payload body dto.CompleteRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/grades [post]
func (h *SectionHandler) Complete(c *gin.Context) {
	var req dto.CompleteRequest
	if !bindJSON(c, h.validator, &req, "invalid grade payload") {
		return
	}
	enrollment, err := h.sections.Complete(c.Request.Context(), req.StudentID, c.Param("id"), req.Grade)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Promote godoc
// @Summary Promote waitlisted students into free seats
// @Tags Sections
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/promote [post]
func (h *SectionHandler) Promote(c *gin.Context) {
	settings, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.sections.PromoteWaitlist(c.Request.Context(), settings, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PromotionResponse{
		Promoted: report.Promoted,
		Requeued: report.Requeued,
		Skipped:  report.Skipped,
	}, nil)
}
