package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type sweepTrigger interface {
	RunWaitlistSweep(ctx context.Context) (bool, error)
	RunInvoiceSweep(ctx context.Context) (bool, error)
}

// JobsHandler lets operators trigger the background sweeps. A trigger that
// lands while the sweep is running reports ran=false.
type JobsHandler struct {
	scheduler sweepTrigger
}

// NewJobsHandler constructs JobsHandler.
func NewJobsHandler(scheduler sweepTrigger) *JobsHandler {
	return &JobsHandler{scheduler: scheduler}
}

// SweepWaitlists godoc
// @Summary Run the waitlist promotion sweep now
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /jobs/waitlists/sweep [post]
func (h *JobsHandler) SweepWaitlists(c *gin.Context) {
	h.run(c, service.JobWaitlistSweep, h.scheduler.RunWaitlistSweep)
}

// SweepInvoices godoc
// @Summary Run the overdue invoice sweep now
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /jobs/invoices/sweep [post]
func (h *JobsHandler) SweepInvoices(c *gin.Context) {
	h.run(c, service.JobInvoiceSweep, h.scheduler.RunInvoiceSweep)
}

func (h *JobsHandler) run(c *gin.Context, job string, fn func(context.Context) (bool, error)) {
	ran, err := fn(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SweepResponse{Job: job, Ran: ran}, nil)
}
