package dto

import (
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// CalendarDayResponse is the flat single-day calendar view.
type CalendarDayResponse struct {
	View    models.CalendarGranularity `json:"view"`
	Start   time.Time                  `json:"start"`
	End     time.Time                  `json:"end"`
	Lessons []models.Lesson            `json:"lessons"`
}

// CalendarGridResponse keys lessons by YYYY-MM-DD for week and month grids.
// Every date in range is present, free days map to an empty list.
type CalendarGridResponse struct {
	View  models.CalendarGranularity `json:"view"`
	Start time.Time                  `json:"start"`
	End   time.Time                  `json:"end"`
	Days  map[string][]models.Lesson `json:"days"`
}

// NewCalendarResponse shapes a projected view for the wire.
func NewCalendarResponse(view *models.CalendarView) interface{} {
	if view.Granularity == models.CalendarDay {
		lessons := view.Lessons
		if lessons == nil {
			lessons = []models.Lesson{}
		}
		return &CalendarDayResponse{View: view.Granularity, Start: view.Start, End: view.End, Lessons: lessons}
	}
	return &CalendarGridResponse{View: view.Granularity, Start: view.Start, End: view.End, Days: view.Days}
}
