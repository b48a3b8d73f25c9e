package models

import (
	"fmt"
	"time"
)

// AvailabilityWindow is a recurring weekly opening, independent of any date.
type AvailabilityWindow struct {
	ID        string    `db:"id" json:"id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ParseClock converts an "HH:MM" wall-clock string into minutes after midnight.
func ParseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil || len(raw) != 5 {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Span returns the window bounds as minutes after midnight.
func (w AvailabilityWindow) Span() (start, end int, err error) {
	if start, err = ParseClock(w.StartTime); err != nil {
		return 0, 0, err
	}
	if end, err = ParseClock(w.EndTime); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// DurationMinutes is the window length.
func (w AvailabilityWindow) DurationMinutes() (int, error) {
	start, end, err := w.Span()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// On places the window on the calendar day of date, in date's location.
func (w AvailabilityWindow) On(date time.Time) (time.Time, time.Time, error) {
	start, end, err := w.Span()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := date.Date()
	loc := date.Location()
	startsAt := time.Date(y, m, d, start/60, start%60, 0, 0, loc)
	endsAt := time.Date(y, m, d, end/60, end%60, 0, 0, loc)
	return startsAt, endsAt, nil
}

// Slot is one occurrence of an AvailabilityWindow on a concrete date.
type Slot struct {
	WindowID        string    `json:"window_id"`
	Date            string    `json:"date"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
}
