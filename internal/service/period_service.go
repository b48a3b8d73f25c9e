package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

// WarmIndicatorsJob recomputes and caches every period's indicators.
const WarmIndicatorsJob = "indicators.warm"

const indicatorsCachePattern = "dash:indicators:*"

type periodLessonReader interface {
	SnapshotRange(ctx context.Context, start, end time.Time) ([]models.Lesson, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// PeriodServiceConfig tunes aggregation behaviour.
type PeriodServiceConfig struct {
	CacheTTL time.Duration
	Location *time.Location
}

// PeriodServiceParams groups constructor dependencies.
type PeriodServiceParams struct {
	Lessons periodLessonReader
	Cache   *CacheService
	Metrics *MetricsService
	Logger  *zap.Logger
	Config  PeriodServiceConfig
}

// PeriodService computes dashboard indicators over today, this week and this month.
type PeriodService struct {
	lessons periodLessonReader
	cache   *CacheService
	queue   jobEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
	cfg     PeriodServiceConfig
	now     func() time.Time

	// generation counts ledger changes. Cache writes computed under an older
	// generation are dropped; mu orders them against invalidation.
	mu         sync.Mutex
	generation uint64
}

// NewPeriodService constructs a PeriodService.
func NewPeriodService(params PeriodServiceParams) *PeriodService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{
		lessons: params.Lessons,
		cache:   params.Cache,
		metrics: params.Metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// AttachQueue sets the queue used to warm indicators after ledger changes.
// Without one, changes only invalidate the cache.
func (s *PeriodService) AttachQueue(q jobEnqueuer) {
	s.queue = q
}

// Resolve turns a period into [start, end) in the tutor's timezone.
func (s *PeriodService) Resolve(period models.Period, now time.Time) (time.Time, time.Time, error) {
	if !period.Valid() {
		return time.Time{}, time.Time{}, appErrors.Invalid("period", "period must be one of today, thisWeek, thisMonth")
	}
	start, end := period.Bounds(now.In(s.cfg.Location))
	return start, end, nil
}

// ComputeIndicators aggregates lessons into period indicators. Callers pass the
// lessons dated inside the period; the function itself never filters by date.
func ComputeIndicators(lessons []models.Lesson) models.PeriodIndicators {
	var (
		ind           models.PeriodIndicators
		accruedCents  int64
		workedMinutes int
	)
	for _, lesson := range lessons {
		switch lesson.Status {
		case models.LessonConfirmed:
			ind.ConfirmedLessonCount++
		case models.LessonCompleted:
			ind.CompletedLessonCount++
		}
		if lesson.Status.Occupies() {
			ind.ScheduledLessonCount++
		}
		if lesson.Status.Accrues() {
			accruedCents += int64(math.Round(lesson.Value * 100))
			workedMinutes += lesson.DurationMinutes
		}
	}
	ind.TotalAccruedValue = float64(accruedCents) / 100
	ind.TotalWorkedMinutes = workedMinutes
	ind.TotalWorkedHours = float64(workedMinutes) / 60
	if ind.ScheduledLessonCount > 0 {
		rate := float64(ind.ConfirmedLessonCount+ind.CompletedLessonCount) / float64(ind.ScheduledLessonCount)
		ind.ConfirmationRate = math.Round(rate*10000) / 10000
	}
	return ind
}

// Indicators returns the indicators for period and reports whether they came from cache.
func (s *PeriodService) Indicators(ctx context.Context, period models.Period) (*dto.PeriodIndicatorsResponse, bool, error) {
	start, end, err := s.Resolve(period, s.now())
	if err != nil {
		return nil, false, err
	}
	key := IndicatorsCacheKey(period, start)

	var cached dto.PeriodIndicatorsResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	gen := s.currentGeneration()
	resp, err := s.compute(ctx, period, start, end)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.persist(ctx, gen, key, resp); err != nil {
		s.logger.Warn("period indicator cache write failed", zap.String("key", key), zap.Error(err))
	}
	return resp, false, nil
}

// LedgerChanged drops cached indicators and schedules a warm pass.
func (s *PeriodService) LedgerChanged(ctx context.Context) {
	s.mu.Lock()
	s.generation++
	err := s.cache.Invalidate(context.WithoutCancel(ctx), indicatorsCachePattern)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("failed to invalidate period indicators", zap.Error(err))
	}
	if s.queue == nil || !s.cache.Enabled() {
		return
	}
	job := jobs.Job{ID: fmt.Sprintf("warm-%d", s.now().UnixNano()), Type: WarmIndicatorsJob, Key: WarmIndicatorsJob}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue indicator warm job", zap.Error(err))
	}
}

// HandleJob is the queue handler for warm jobs.
func (s *PeriodService) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Type != WarmIndicatorsJob {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}
	return s.Warm(ctx)
}

// Warm recomputes every period and stores the results.
func (s *PeriodService) Warm(ctx context.Context) error {
	began := time.Now()
	now := s.now()
	gen := s.currentGeneration()
	for _, period := range models.Periods {
		start, end, err := s.Resolve(period, now)
		if err != nil {
			return err
		}
		resp, err := s.compute(ctx, period, start, end)
		if err != nil {
			return err
		}
		stored, err := s.persist(ctx, gen, IndicatorsCacheKey(period, start), resp)
		if err != nil {
			return err
		}
		if !stored {
			// The ledger moved on; the warm job it enqueued takes over.
			s.logger.Debug("indicator warm superseded by ledger change")
			return nil
		}
	}
	s.metrics.ObserveIndicatorWarm(time.Since(began))
	return nil
}

func (s *PeriodService) compute(ctx context.Context, period models.Period, start, end time.Time) (*dto.PeriodIndicatorsResponse, error) {
	lessons, err := s.lessons.SnapshotRange(ctx, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons for period")
	}
	return dto.NewPeriodIndicatorsResponse(period, start, end, ComputeIndicators(lessons), s.now().UTC()), nil
}

func (s *PeriodService) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// persist stores value unless the ledger changed since gen was read.
func (s *PeriodService) persist(ctx context.Context, gen uint64, key string, value interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false, nil
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		return false, err
	}
	return true, nil
}

// IndicatorsCacheKey names the cache entry holding period's indicators for the range starting at start.
func IndicatorsCacheKey(period models.Period, start time.Time) string {
	return fmt.Sprintf("dash:indicators:%s:%s", period, start.Format(models.DateKey))
}
