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

type lessonRepository interface {
	List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error)
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	InsertExclusive(ctx context.Context, lesson *models.Lesson) error
	UpdateExclusive(ctx context.Context, lesson *models.Lesson) error
	TransitionStatus(ctx context.Context, id string, from, to models.LessonStatus, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateLessonRequest records a lesson directly in the ledger. Value defaults
// to the configured hourly rate applied to the duration.
type CreateLessonRequest struct {
	Date            time.Time           `json:"date" validate:"required"`
	DurationMinutes int                 `json:"duration_minutes" validate:"required,min=15"`
	StudentID       string              `json:"student_id" validate:"required"`
	SubjectID       string              `json:"subject_id" validate:"required"`
	Status          models.LessonStatus `json:"status" validate:"omitempty,oneof=scheduled confirmed completed"`
	Value           *float64            `json:"value" validate:"omitempty,min=0"`
	Notes           *string             `json:"notes"`
	ContentCovered  *string             `json:"content_covered"`
}

// UpdateLessonRequest carries optional field edits. Status is changed through UpdateStatus.
type UpdateLessonRequest struct {
	Date            *time.Time `json:"date"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,min=15"`
	StudentID       *string    `json:"student_id" validate:"omitempty,min=1"`
	SubjectID       *string    `json:"subject_id" validate:"omitempty,min=1"`
	Value           *float64   `json:"value" validate:"omitempty,min=0"`
	Notes           *string    `json:"notes"`
	ContentCovered  *string    `json:"content_covered"`
}

// UpdateLessonStatusRequest moves a lesson through its lifecycle.
type UpdateLessonStatusRequest struct {
	Status models.LessonStatus `json:"status" validate:"required,oneof=scheduled confirmed cancelled completed"`
}

// ListLessonsRequest filters the ledger. From and To are YYYY-MM-DD, To exclusive.
type ListLessonsRequest struct {
	From      string              `form:"from" json:"from" validate:"omitempty,yyyymmdd"`
	To        string              `form:"to" json:"to" validate:"omitempty,yyyymmdd"`
	StudentID string              `form:"studentId" json:"studentId"`
	Status    models.LessonStatus `form:"status" json:"status" validate:"omitempty,oneof=scheduled confirmed cancelled completed"`
	Page      int                 `form:"page" json:"page" validate:"omitempty,min=1"`
	PageSize  int                 `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
}

// LessonServiceConfig tunes ledger defaults.
type LessonServiceConfig struct {
	HourlyRate float64
	Location   *time.Location
}

// LessonServiceParams groups constructor dependencies.
type LessonServiceParams struct {
	Repo      lessonRepository
	Directory directoryReader
	Observer  LedgerObserver
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    LessonServiceConfig
}

// LessonService owns the lesson ledger and its status lifecycle.
type LessonService struct {
	repo      lessonRepository
	directory directoryReader
	observer  LedgerObserver
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LessonServiceConfig
	now       func() time.Time
}

// NewLessonService constructs a LessonService.
func NewLessonService(params LessonServiceParams) *LessonService {
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
	return &LessonService{
		repo:      params.Repo,
		directory: params.Directory,
		observer:  params.Observer,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// List returns a page of lessons ordered by date. Students only ever see their own.
func (s *LessonService) List(ctx context.Context, actor models.Actor, req ListLessonsRequest) ([]models.Lesson, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, validationError(err, "invalid lesson filter")
	}
	filter := models.LessonFilter{StudentID: req.StudentID, Status: req.Status, Page: req.Page, PageSize: req.PageSize}
	if !actor.IsAdmin() {
		if actor.StudentID == "" {
			return nil, nil, appErrors.ErrForbidden
		}
		filter.StudentID = actor.StudentID
	}
	if req.From != "" {
		from, _ := parseDay(req.From, s.cfg.Location)
		filter.From = &from
	}
	if req.To != "" {
		to, _ := parseDay(req.To, s.cfg.Location)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return nil, nil, appErrors.Invalid("to", "to must be after from")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	lessons, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	if lessons == nil {
		lessons = []models.Lesson{}
	}
	return lessons, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a lesson the actor is allowed to see.
func (s *LessonService) Get(ctx context.Context, actor models.Actor, id string) (*models.Lesson, error) {
	lesson, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessStudent(lesson.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "lesson belongs to another student")
	}
	return lesson, nil
}

// Create records a lesson. Past dates are accepted so lessons already given can be logged.
func (s *LessonService) Create(ctx context.Context, req CreateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lesson payload")
	}
	if req.Date.IsZero() {
		return nil, appErrors.Invalid("date", "date is required")
	}
	if err := verifyReferences(ctx, s.directory, req.StudentID, req.SubjectID); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.LessonScheduled
	}
	value := roundCents(s.cfg.HourlyRate * float64(req.DurationMinutes) / 60)
	if req.Value != nil {
		value = roundCents(*req.Value)
	}
	lesson := &models.Lesson{
		Date:            req.Date.In(s.cfg.Location),
		DurationMinutes: req.DurationMinutes,
		StudentID:       req.StudentID,
		SubjectID:       req.SubjectID,
		Status:          status,
		Value:           value,
		Notes:           req.Notes,
		ContentCovered:  req.ContentCovered,
	}
	if err := s.repo.InsertExclusive(ctx, lesson); err != nil {
		return nil, s.writeError(err, "failed to create lesson")
	}

	s.logger.Info("lesson created", zap.String("lesson_id", lesson.ID), zap.String("status", string(lesson.Status)), zap.Time("starts_at", lesson.Date))
	s.changed(ctx)
	return lesson, nil
}

// Update applies field edits. Moving or resizing a lesson that still occupies
// the calendar re-checks overlap against every other lesson.
func (s *LessonService) Update(ctx context.Context, id string, req UpdateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lesson payload")
	}
	lesson, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	studentID, subjectID := lesson.StudentID, lesson.SubjectID
	if req.StudentID != nil {
		studentID = *req.StudentID
	}
	if req.SubjectID != nil {
		subjectID = *req.SubjectID
	}
	if studentID != lesson.StudentID || subjectID != lesson.SubjectID {
		if err := verifyReferences(ctx, s.directory, studentID, subjectID); err != nil {
			return nil, err
		}
	}
	lesson.StudentID, lesson.SubjectID = studentID, subjectID

	if req.Date != nil {
		if req.Date.IsZero() {
			return nil, appErrors.Invalid("date", "date must not be empty")
		}
		lesson.Date = req.Date.In(s.cfg.Location)
	}
	if req.DurationMinutes != nil {
		lesson.DurationMinutes = *req.DurationMinutes
	}
	if req.Value != nil {
		lesson.Value = roundCents(*req.Value)
	}
	if req.Notes != nil {
		lesson.Notes = req.Notes
	}
	if req.ContentCovered != nil {
		lesson.ContentCovered = req.ContentCovered
	}

	if err := s.repo.UpdateExclusive(ctx, lesson); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, s.writeError(err, "failed to update lesson")
	}
	s.changed(ctx)
	return lesson, nil
}

// UpdateStatus moves a lesson along the status lifecycle. Requesting the
// current status returns the lesson unchanged.
func (s *LessonService) UpdateStatus(ctx context.Context, id string, req UpdateLessonStatusRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid status payload")
	}
	lesson, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if lesson.Status == req.Status {
		return lesson, nil
	}
	if !lesson.Status.CanTransitionTo(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move lesson from %s to %s", lesson.Status, req.Status))
	}

	at := s.now().UTC()
	ok, err := s.repo.TransitionStatus(ctx, id, lesson.Status, req.Status, at)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson status")
	}
	if !ok {
		if _, err := s.load(ctx, id); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "lesson status changed concurrently, reload and retry")
	}

	from := lesson.Status
	lesson.Status = req.Status
	lesson.UpdatedAt = at
	s.metrics.RecordLessonTransition(string(from), string(req.Status))
	s.logger.Info("lesson status changed", zap.String("lesson_id", id), zap.String("from", string(from)), zap.String("to", string(req.Status)))
	s.changed(ctx)
	return lesson, nil
}

// Delete removes a lesson from the ledger.
func (s *LessonService) Delete(ctx context.Context, id string) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson")
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
	}
	s.changed(ctx)
	return nil
}

func (s *LessonService) load(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) writeError(err error, message string) error {
	var conflict *models.LessonConflictError
	if errors.As(err, &conflict) {
		return appErrors.Wrap(conflict, appErrors.ErrSlotTaken.Code, appErrors.ErrSlotTaken.Status, "lesson overlaps an existing lesson")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *LessonService) changed(ctx context.Context) {
	if s.observer != nil {
		s.observer.LedgerChanged(ctx)
	}
}
