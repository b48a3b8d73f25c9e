package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type dashboardService interface {
	Indicators(ctx context.Context, period models.Period) (*dto.PeriodIndicatorsResponse, bool, error)
}

// DashboardHandler wires the period aggregator to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Indicators godoc
// @Summary Period indicators
// @Description Lesson counts, accrued value, worked hours and confirmation rate for today, this week or this month.
// @Tags Dashboard
// @Produce json
// @Param period query string false "today, thisWeek or thisMonth" default(thisMonth)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /dashboard/indicators [get]
func (h *DashboardHandler) Indicators(c *gin.Context) {
	period := models.Period(strings.TrimSpace(c.DefaultQuery("period", string(models.PeriodThisMonth))))
	indicators, cacheHit, err := h.service.Indicators(c.Request.Context(), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetPeriod(c, indicators.Period, indicators.Start, indicators.End)
	middleware.SetCacheResult(c, service.IndicatorsCacheKey(indicators.Period, indicators.Start), cacheHit)
	response.JSON(c, http.StatusOK, indicators, nil, middleware.ResponseMeta(c))
}
