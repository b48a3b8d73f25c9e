package dto

import (
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// PeriodIndicatorsResponse is the dashboard payload for one period.
type PeriodIndicatorsResponse struct {
	Period               models.Period `json:"period"`
	Start                time.Time     `json:"start"`
	End                  time.Time     `json:"end"`
	ConfirmedLessonCount int           `json:"confirmedLessonCount"`
	ScheduledLessonCount int           `json:"scheduledLessonCount"`
	CompletedLessonCount int           `json:"completedLessonCount"`
	TotalAccruedValue    float64       `json:"totalAccruedValue"`
	TotalWorkedHours     float64       `json:"totalWorkedHours"`
	TotalWorkedMinutes   int           `json:"totalWorkedMinutes"`
	ConfirmationRate     float64       `json:"confirmationRate"`
	GeneratedAt          time.Time     `json:"generatedAt"`
}

// NewPeriodIndicatorsResponse flattens indicators for the given bounds.
func NewPeriodIndicatorsResponse(period models.Period, start, end time.Time, ind models.PeriodIndicators, generatedAt time.Time) *PeriodIndicatorsResponse {
	return &PeriodIndicatorsResponse{
		Period:               period,
		Start:                start,
		End:                  end,
		ConfirmedLessonCount: ind.ConfirmedLessonCount,
		ScheduledLessonCount: ind.ScheduledLessonCount,
		CompletedLessonCount: ind.CompletedLessonCount,
		TotalAccruedValue:    ind.TotalAccruedValue,
		TotalWorkedHours:     ind.TotalWorkedHours,
		TotalWorkedMinutes:   ind.TotalWorkedMinutes,
		ConfirmationRate:     ind.ConfirmationRate,
		GeneratedAt:          generatedAt,
	}
}
