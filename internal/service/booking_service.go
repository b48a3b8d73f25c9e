package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

const maxSlotRangeDays = 62

type bookingLessonRepository interface {
	InsertExclusive(ctx context.Context, lesson *models.Lesson) error
	ListOccupying(ctx context.Context, start, end time.Time) ([]models.Lesson, error)
}

type windowReader interface {
	List(ctx context.Context) ([]models.AvailabilityWindow, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
}

type directoryReader interface {
	StudentExists(ctx context.Context, id string) (bool, error)
	SubjectExists(ctx context.Context, id string) (bool, error)
}

// BookRequest reserves an availability window on a concrete date.
type BookRequest struct {
	WindowID  string `json:"window_id" validate:"required"`
	Date      string `json:"date" validate:"required,yyyymmdd"`
	SubjectID string `json:"subject_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
}

// OpenSlotsRequest bounds an open-slot listing. Dates are YYYY-MM-DD, To exclusive.
type OpenSlotsRequest struct {
	From string `form:"from" json:"from" validate:"omitempty,yyyymmdd"`
	To   string `form:"to" json:"to" validate:"omitempty,yyyymmdd"`
}

// BookingConfig tunes booking rules.
type BookingConfig struct {
	HourlyRate     float64
	Location       *time.Location
	EnforceWeekday bool
}

// BookingServiceParams groups constructor dependencies.
type BookingServiceParams struct {
	Lessons   bookingLessonRepository
	Windows   windowReader
	Directory directoryReader
	Observer  LedgerObserver
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    BookingConfig
}

// BookingService turns availability windows into lessons.
type BookingService struct {
	lessons   bookingLessonRepository
	windows   windowReader
	directory directoryReader
	observer  LedgerObserver
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BookingConfig
	now       func() time.Time
}

// NewBookingService constructs a BookingService with defaults applied.
func NewBookingService(params BookingServiceParams) *BookingService {
	cfg := params.Config
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	validate := params.Validator
	if validate == nil {
		validate = NewValidator()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		lessons:   params.Lessons,
		windows:   params.Windows,
		directory: params.Directory,
		observer:  params.Observer,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Book creates a scheduled lesson spanning the window on the requested date.
func (s *BookingService) Book(ctx context.Context, actor models.Actor, req BookRequest) (*models.Lesson, error) {
	if actor.Role == models.RoleStudent && req.StudentID == "" {
		req.StudentID = actor.StudentID
	}
	lesson, err := s.book(ctx, actor, req)
	switch {
	case err == nil:
		s.metrics.RecordBooking(BookingOutcomeCreated)
	case appErrors.HasCode(err, appErrors.ErrSlotTaken.Code):
		s.metrics.RecordBooking(BookingOutcomeConflict)
	default:
		s.metrics.RecordBooking(BookingOutcomeRejected)
	}
	return lesson, err
}

func (s *BookingService) book(ctx context.Context, actor models.Actor, req BookRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid booking payload")
	}
	if !actor.CanAccessStudent(req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot book on behalf of another student")
	}

	date, err := parseDay(req.Date, s.cfg.Location)
	if err != nil {
		return nil, appErrors.Invalid("date", "date must be YYYY-MM-DD")
	}
	today := startOfDay(s.now().In(s.cfg.Location))
	if !date.After(today) {
		return nil, appErrors.Invalid("date", "date must be after today")
	}

	window, err := s.windows.FindByID(ctx, req.WindowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability window")
	}
	if s.cfg.EnforceWeekday && int(date.Weekday()) != window.DayOfWeek {
		return nil, appErrors.Invalid("date", "date does not fall on the window's weekday")
	}

	if err := verifyReferences(ctx, s.directory, req.StudentID, req.SubjectID); err != nil {
		return nil, err
	}

	startsAt, endsAt, err := window.On(date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored availability window is malformed")
	}
	minutes := int(endsAt.Sub(startsAt).Minutes())
	if minutes < models.MinLessonMinutes {
		return nil, appErrors.Invalid("window_id", fmt.Sprintf("availability window is shorter than %d minutes", models.MinLessonMinutes))
	}
	lesson := &models.Lesson{
		Date:            startsAt,
		DurationMinutes: minutes,
		StudentID:       req.StudentID,
		SubjectID:       req.SubjectID,
		Status:          models.LessonScheduled,
		Value:           roundCents(s.cfg.HourlyRate * float64(minutes) / 60),
	}

	if err := s.lessons.InsertExclusive(ctx, lesson); err != nil {
		var conflict *models.LessonConflictError
		if errors.As(err, &conflict) {
			return nil, appErrors.Wrap(conflict, appErrors.ErrSlotTaken.Code, appErrors.ErrSlotTaken.Status, "slot already taken")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to book lesson")
	}

	s.logger.Info("lesson booked",
		zap.String("lesson_id", lesson.ID),
		zap.String("window_id", window.ID),
		zap.String("student_id", lesson.StudentID),
		zap.Time("starts_at", lesson.Date),
		zap.Int("duration_minutes", lesson.DurationMinutes),
	)
	if s.observer != nil {
		s.observer.LedgerChanged(ctx)
	}
	return lesson, nil
}

// OpenSlots expands every window into its dated occurrences in [from, to),
// skipping today and earlier, and marks occurrences already taken by a lesson.
func (s *BookingService) OpenSlots(ctx context.Context, req OpenSlotsRequest) ([]models.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid slot range")
	}
	today := startOfDay(s.now().In(s.cfg.Location))
	from := today.AddDate(0, 0, 1)
	if req.From != "" {
		from, _ = parseDay(req.From, s.cfg.Location)
	}
	to := from.AddDate(0, 0, 14)
	if req.To != "" {
		to, _ = parseDay(req.To, s.cfg.Location)
	}
	if !to.After(from) {
		return nil, appErrors.Invalid("to", "to must be after from")
	}
	if to.Sub(from) > maxSlotRangeDays*24*time.Hour {
		return nil, appErrors.Invalid("to", "range must not exceed 62 days")
	}
	if !from.After(today) {
		from = today.AddDate(0, 0, 1)
	}
	slots := []models.Slot{}
	if !to.After(from) {
		return slots, nil
	}

	windows, err := s.windows.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}
	occupied, err := s.lessons.ListOccupying(ctx, from, to.Add(24*time.Hour))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list booked lessons")
	}

	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, window := range windows {
			if window.DayOfWeek != int(day.Weekday()) {
				continue
			}
			startsAt, endsAt, err := window.On(day)
			if err != nil {
				s.logger.Warn("skipping malformed availability window", zap.String("window_id", window.ID), zap.Error(err))
				continue
			}
			if endsAt.Sub(startsAt) < models.MinLessonMinutes*time.Minute {
				continue
			}
			slot := models.Slot{
				WindowID:        window.ID,
				Date:            day.Format(models.DateKey),
				StartsAt:        startsAt,
				EndsAt:          endsAt,
				DurationMinutes: int(endsAt.Sub(startsAt).Minutes()),
				Available:       true,
			}
			for _, lesson := range occupied {
				if lesson.Overlaps(startsAt, endsAt) {
					slot.Available = false
					break
				}
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}
