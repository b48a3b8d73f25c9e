package models

import "time"

// LessonStatus is the lifecycle state of a lesson.
type LessonStatus string

const (
	LessonScheduled LessonStatus = "scheduled"
	LessonConfirmed LessonStatus = "confirmed"
	LessonCancelled LessonStatus = "cancelled"
	LessonCompleted LessonStatus = "completed"
)

// MinLessonMinutes is the shortest lesson the ledger accepts.
const MinLessonMinutes = 15

var lessonTransitions = map[LessonStatus][]LessonStatus{
	LessonScheduled: {LessonConfirmed, LessonCancelled},
	LessonConfirmed: {LessonCompleted, LessonCancelled},
	LessonCancelled: nil,
	LessonCompleted: nil,
}

// Valid reports whether s is a known status.
func (s LessonStatus) Valid() bool {
	_, ok := lessonTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s LessonStatus) Terminal() bool {
	return s.Valid() && len(lessonTransitions[s]) == 0
}

// CanTransitionTo reports whether s may move to next.
func (s LessonStatus) CanTransitionTo(next LessonStatus) bool {
	for _, allowed := range lessonTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Occupies reports whether a lesson in this status holds its calendar interval.
func (s LessonStatus) Occupies() bool {
	return s.Valid() && s != LessonCancelled
}

// Accrues reports whether a lesson in this status counts towards worked hours and revenue.
func (s LessonStatus) Accrues() bool {
	return s == LessonConfirmed || s == LessonCompleted
}

// Lesson is a ledger entry: one dated, timed session for one student and subject.
type Lesson struct {
	ID              string       `db:"id" json:"id"`
	Date            time.Time    `db:"starts_at" json:"date"`
	EndsAt          time.Time    `db:"ends_at" json:"ends_at"`
	DurationMinutes int          `db:"duration_minutes" json:"duration_minutes"`
	StudentID       string       `db:"student_id" json:"student_id"`
	SubjectID       string       `db:"subject_id" json:"subject_id"`
	Status          LessonStatus `db:"status" json:"status"`
	Value           float64      `db:"value" json:"value"`
	Notes           *string      `db:"notes" json:"notes,omitempty"`
	ContentCovered  *string      `db:"content_covered" json:"content_covered,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// End is the exclusive end of the occupied interval.
func (l Lesson) End() time.Time {
	return l.Date.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

// Overlaps reports whether [l.Date, l.End()) intersects [start, end).
func (l Lesson) Overlaps(start, end time.Time) bool {
	return l.Date.Before(end) && start.Before(l.End())
}

// LessonFilter narrows ledger listings. From is inclusive, To exclusive.
type LessonFilter struct {
	From      *time.Time
	To        *time.Time
	StudentID string
	Status    LessonStatus
	Page      int
	PageSize  int
}

// LessonConflictError is returned when a lesson interval collides with an occupied one.
type LessonConflictError struct {
	Message  string  `json:"message"`
	Conflict *Lesson `json:"conflict,omitempty"`
}

// Error implements the error interface for conflict errors.
func (e *LessonConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
