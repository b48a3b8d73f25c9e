package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type availabilityService interface {
	List(ctx context.Context) ([]models.AvailabilityWindow, error)
	Create(ctx context.Context, req service.CreateAvailabilityRequest) (*models.AvailabilityWindow, error)
	Delete(ctx context.Context, id string) error
}

type slotFinder interface {
	OpenSlots(ctx context.Context, req service.OpenSlotsRequest) ([]models.Slot, error)
}

// AvailabilityHandler exposes the tutor's weekly windows and their open slots.
type AvailabilityHandler struct {
	service availabilityService
	slots   slotFinder
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc availabilityService, slots slotFinder) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc, slots: slots}
}

// List godoc
// @Summary List availability windows
// @Tags Availability
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /availability [get]
func (h *AvailabilityHandler) List(c *gin.Context) {
	windows, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, windows)
}

// Create godoc
// @Summary Declare a weekly availability window
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body service.CreateAvailabilityRequest true "Window payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /availability [post]
func (h *AvailabilityHandler) Create(c *gin.Context) {
	var req service.CreateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid availability payload"))
		return
	}
	window, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// Delete godoc
// @Summary Remove an availability window
// @Description Lessons already booked from the window are kept.
// @Tags Availability
// @Param id path string true "Window ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Slots godoc
// @Summary List dated slots derived from availability
// @Tags Availability
// @Produce json
// @Param from query string false "First date (YYYY-MM-DD), defaults to tomorrow"
// @Param to query string false "Exclusive end date (YYYY-MM-DD), defaults to from + 14 days"
// @Success 200 {object} response.Envelope
// @Router /availability/slots [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	var req service.OpenSlotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, bindError(err, "invalid slot range"))
		return
	}
	slots, err := h.slots.OpenSlots(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}
