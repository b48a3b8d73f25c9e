package models

import "time"

// Period selects a dashboard window relative to the current date.
type Period string

const (
	PeriodToday     Period = "today"
	PeriodThisWeek  Period = "thisWeek"
	PeriodThisMonth Period = "thisMonth"
)

// Periods lists every supported period.
var Periods = []Period{PeriodToday, PeriodThisWeek, PeriodThisMonth}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodToday, PeriodThisWeek, PeriodThisMonth:
		return true
	}
	return false
}

// Bounds resolves p to [start, end) in now's location. Weeks start on Sunday.
func (p Period) Bounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodThisWeek:
		start := midnight.AddDate(0, 0, -int(midnight.Weekday()))
		return start, start.AddDate(0, 0, 7)
	case PeriodThisMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	default:
		return midnight, midnight.AddDate(0, 0, 1)
	}
}

// PeriodIndicators are derived dashboard aggregates; never persisted.
type PeriodIndicators struct {
	ConfirmedLessonCount int     `json:"confirmed_lesson_count"`
	ScheduledLessonCount int     `json:"scheduled_lesson_count"`
	CompletedLessonCount int     `json:"completed_lesson_count"`
	TotalAccruedValue    float64 `json:"total_accrued_value"`
	TotalWorkedHours     float64 `json:"total_worked_hours"`
	TotalWorkedMinutes   int     `json:"total_worked_minutes"`
	ConfirmationRate     float64 `json:"confirmation_rate"`
}
