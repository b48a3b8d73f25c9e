package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type bookingService interface {
	Book(ctx context.Context, actor models.Actor, req service.BookRequest) (*models.Lesson, error)
}

// BookingHandler turns slot reservations into lessons.
type BookingHandler struct {
	service bookingService
}

// NewBookingHandler constructs the handler.
func NewBookingHandler(svc bookingService) *BookingHandler {
	return &BookingHandler{service: svc}
}

// Book godoc
// @Summary Book an availability window on a date
// @Description Students may omit student_id; it defaults to their own.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body service.BookRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Book(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid booking payload"))
		return
	}
	lesson, err := h.service.Book(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, lesson)
}
