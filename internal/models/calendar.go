package models

import "time"

// CalendarGranularity selects how a calendar view groups lessons.
type CalendarGranularity string

const (
	CalendarDay   CalendarGranularity = "day"
	CalendarWeek  CalendarGranularity = "week"
	CalendarMonth CalendarGranularity = "month"
)

// Valid reports whether g is a supported granularity.
func (g CalendarGranularity) Valid() bool {
	switch g {
	case CalendarDay, CalendarWeek, CalendarMonth:
		return true
	}
	return false
}

// CalendarView is the projection of lessons over a date range. Exactly one of
// Lessons (day view) or Days (week and month views) is populated.
type CalendarView struct {
	Granularity CalendarGranularity `json:"granularity"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	Lessons     []Lesson            `json:"lessons,omitempty"`
	Days        map[string][]Lesson `json:"days,omitempty"`
}

// DateKey is the layout used to key calendar days.
const DateKey = "2006-01-02"
