package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type availabilityRepository interface {
	List(ctx context.Context) ([]models.AvailabilityWindow, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	Create(ctx context.Context, window *models.AvailabilityWindow) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateAvailabilityRequest declares a recurring weekly window.
type CreateAvailabilityRequest struct {
	DayOfWeek *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

// AvailabilityService manages the tutor's weekly availability.
type AvailabilityService struct {
	repo      availabilityRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(repo availabilityRepository, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, validator: validate, logger: logger}
}

// List returns all windows ordered by weekday and start time.
func (s *AvailabilityService) List(ctx context.Context) ([]models.AvailabilityWindow, error) {
	windows, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}
	if windows == nil {
		windows = []models.AvailabilityWindow{}
	}
	return windows, nil
}

// Get returns a single window.
func (s *AvailabilityService) Get(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	window, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability window")
	}
	return window, nil
}

// Create validates and stores a new window. Overlapping windows are allowed.
func (s *AvailabilityService) Create(ctx context.Context, req CreateAvailabilityRequest) (*models.AvailabilityWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid availability payload")
	}
	start, _ := models.ParseClock(req.StartTime)
	end, _ := models.ParseClock(req.EndTime)
	if start >= end {
		return nil, appErrors.Invalid("end_time", "end_time must be after start_time")
	}
	if end-start < models.MinLessonMinutes {
		return nil, appErrors.Invalid("end_time", fmt.Sprintf("window must span at least %d minutes", models.MinLessonMinutes))
	}

	window := &models.AvailabilityWindow{
		DayOfWeek: *req.DayOfWeek,
		StartTime: models.FormatClock(start),
		EndTime:   models.FormatClock(end),
	}
	if err := s.repo.Create(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create availability window")
	}
	s.logger.Info("availability window created", zap.String("window_id", window.ID), zap.Int("day_of_week", window.DayOfWeek), zap.String("start", window.StartTime), zap.String("end", window.EndTime))
	return window, nil
}

// Delete removes a window. Lessons booked from it are unaffected.
func (s *AvailabilityService) Delete(ctx context.Context, id string) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete availability window")
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
	}
	return nil
}
