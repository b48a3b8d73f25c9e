package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

const maxCalendarRangeDays = 93

type calendarLessonReader interface {
	ListInRange(ctx context.Context, start, end time.Time, studentID string) ([]models.Lesson, error)
}

// CalendarRequest selects a calendar range. Start and End (exclusive) override
// the range derived from View and Date and must be given together.
type CalendarRequest struct {
	View      models.CalendarGranularity `form:"view" json:"view" validate:"omitempty,oneof=day week month"`
	Date      string                     `form:"date" json:"date" validate:"omitempty,yyyymmdd"`
	Start     string                     `form:"start" json:"start" validate:"omitempty,yyyymmdd"`
	End       string                     `form:"end" json:"end" validate:"omitempty,yyyymmdd"`
	StudentID string                     `form:"studentId" json:"studentId"`
}

// CalendarService projects ledger entries onto calendar grids and feeds.
type CalendarService struct {
	lessons   calendarLessonReader
	validator *validator.Validate
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewCalendarService constructs the service. Dates are interpreted in loc.
func NewCalendarService(lessons calendarLessonReader, validate *validator.Validate, logger *zap.Logger, loc *time.Location) *CalendarService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{lessons: lessons, validator: validate, logger: logger, loc: loc, now: time.Now}
}

// ResolveRange returns the day, Sunday-based week or month containing anchor.
func ResolveRange(anchor time.Time, granularity models.CalendarGranularity) (time.Time, time.Time) {
	switch granularity {
	case models.CalendarWeek:
		return models.PeriodThisWeek.Bounds(anchor)
	case models.CalendarMonth:
		return models.PeriodThisMonth.Bounds(anchor)
	default:
		return models.PeriodToday.Bounds(anchor)
	}
}

// Project groups lessons starting in [start, end) by their local start date.
// The day granularity yields a flat list; week and month yield every date in
// range, free days mapping to an empty list. A lesson that runs past midnight
// belongs to its start date only.
func Project(lessons []models.Lesson, start, end time.Time, granularity models.CalendarGranularity, loc *time.Location) *models.CalendarView {
	if loc == nil {
		loc = time.UTC
	}
	view := &models.CalendarView{Granularity: granularity, Start: start, End: end}
	inRange := func(l models.Lesson) bool {
		return !l.Date.Before(start) && l.Date.Before(end)
	}

	if granularity == models.CalendarDay {
		view.Lessons = []models.Lesson{}
		for _, lesson := range lessons {
			if inRange(lesson) {
				view.Lessons = append(view.Lessons, lesson)
			}
		}
		return view
	}

	view.Days = make(map[string][]models.Lesson)
	for day := startOfDay(start.In(loc)); day.Before(end); day = day.AddDate(0, 0, 1) {
		view.Days[day.Format(models.DateKey)] = []models.Lesson{}
	}
	for _, lesson := range lessons {
		if !inRange(lesson) {
			continue
		}
		key := lesson.Date.In(loc).Format(models.DateKey)
		view.Days[key] = append(view.Days[key], lesson)
	}
	return view
}

// View loads and projects lessons for the requested range. Students only see their own.
func (s *CalendarService) View(ctx context.Context, actor models.Actor, req CalendarRequest) (*models.CalendarView, error) {
	granularity, start, end, lessons, err := s.load(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	return Project(lessons, start, end, granularity, s.loc), nil
}

// ICS renders the requested range as an iCalendar feed.
func (s *CalendarService) ICS(ctx context.Context, actor models.Actor, req CalendarRequest) (string, error) {
	if req.View == "" && req.Start == "" {
		req.View = models.CalendarMonth
	}
	_, _, _, lessons, err := s.load(ctx, actor, req)
	if err != nil {
		return "", err
	}

	stamp := s.now().UTC()
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//tutoring-api//lessons//EN")
	for _, lesson := range lessons {
		event := cal.AddEvent(lesson.ID + "@tutoring-api")
		event.SetDtStampTime(stamp)
		event.SetCreatedTime(lesson.CreatedAt)
		event.SetModifiedAt(lesson.UpdatedAt)
		event.SetStartAt(lesson.Date)
		event.SetEndAt(lesson.End())
		event.SetSummary(fmt.Sprintf("Lesson (%s)", lesson.Status))
		event.SetDescription(lessonDescription(lesson))
		event.SetStatus(icsStatus(lesson.Status))
	}
	return cal.Serialize(), nil
}

func (s *CalendarService) load(ctx context.Context, actor models.Actor, req CalendarRequest) (models.CalendarGranularity, time.Time, time.Time, []models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", time.Time{}, time.Time{}, nil, validationError(err, "invalid calendar query")
	}
	granularity := req.View
	if granularity == "" {
		granularity = models.CalendarMonth
	}

	var start, end time.Time
	switch {
	case req.Start != "" && req.End != "":
		start, _ = parseDay(req.Start, s.loc)
		end, _ = parseDay(req.End, s.loc)
		if !end.After(start) {
			return "", time.Time{}, time.Time{}, nil, appErrors.Invalid("end", "end must be after start")
		}
		if end.Sub(start) > maxCalendarRangeDays*24*time.Hour {
			return "", time.Time{}, time.Time{}, nil, appErrors.Invalid("end", "range must not exceed 93 days")
		}
	case req.Start != "" || req.End != "":
		return "", time.Time{}, time.Time{}, nil, appErrors.Invalid("start", "start and end must be given together")
	default:
		anchor := s.now().In(s.loc)
		if req.Date != "" {
			anchor, _ = parseDay(req.Date, s.loc)
		}
		start, end = ResolveRange(anchor, granularity)
	}

	studentID := req.StudentID
	if !actor.IsAdmin() {
		if actor.StudentID == "" {
			return "", time.Time{}, time.Time{}, nil, appErrors.ErrForbidden
		}
		studentID = actor.StudentID
	}

	lessons, err := s.lessons.ListInRange(ctx, start, end, studentID)
	if err != nil {
		return "", time.Time{}, time.Time{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar lessons")
	}
	return granularity, start, end, lessons, nil
}

func icsStatus(status models.LessonStatus) ics.ObjectStatus {
	switch status {
	case models.LessonCancelled:
		return ics.ObjectStatusCancelled
	case models.LessonScheduled:
		return ics.ObjectStatusTentative
	default:
		return ics.ObjectStatusConfirmed
	}
}

func lessonDescription(lesson models.Lesson) string {
	parts := []string{
		"student: " + lesson.StudentID,
		"subject: " + lesson.SubjectID,
		fmt.Sprintf("value: %.2f", lesson.Value),
	}
	if lesson.ContentCovered != nil && *lesson.ContentCovered != "" {
		parts = append(parts, "covered: "+*lesson.ContentCovered)
	}
	if lesson.Notes != nil && *lesson.Notes != "" {
		parts = append(parts, "notes: "+*lesson.Notes)
	}
	return strings.Join(parts, "\n")
}
