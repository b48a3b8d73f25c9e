package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

func newTestPeriodService(ledger *memoryLedger, cache *CacheService) *PeriodService {
	svc := NewPeriodService(PeriodServiceParams{
		Lessons: ledger,
		Cache:   cache,
		Metrics: NewMetricsService(),
		Config:  PeriodServiceConfig{CacheTTL: time.Minute},
	})
	svc.now = fixedClock
	return svc
}

func TestComputeIndicatorsCountsOnlyAccruingLessons(t *testing.T) {
	lessons := []models.Lesson{
		lessonAt("a", testNow, 90, models.LessonConfirmed, 90),
		lessonAt("b", testNow.Add(3*time.Hour), 60, models.LessonCancelled, 60),
	}

	ind := ComputeIndicators(lessons)
	assert.Equal(t, 1, ind.ConfirmedLessonCount)
	assert.Equal(t, 1, ind.ScheduledLessonCount)
	assert.Equal(t, 0, ind.CompletedLessonCount)
	assert.Equal(t, 90.0, ind.TotalAccruedValue)
	assert.Equal(t, 1.5, ind.TotalWorkedHours)
	assert.Equal(t, 90, ind.TotalWorkedMinutes)
	assert.Equal(t, 1.0, ind.ConfirmationRate)
}

func TestComputeIndicatorsMixedStatuses(t *testing.T) {
	lessons := []models.Lesson{
		lessonAt("a", testNow, 60, models.LessonScheduled, 50),
		lessonAt("b", testNow, 45, models.LessonConfirmed, 33.33),
		lessonAt("c", testNow, 50, models.LessonCompleted, 41.67),
		lessonAt("d", testNow, 60, models.LessonCancelled, 60),
	}

	ind := ComputeIndicators(lessons)
	assert.Equal(t, 3, ind.ScheduledLessonCount)
	assert.Equal(t, 1, ind.ConfirmedLessonCount)
	assert.Equal(t, 1, ind.CompletedLessonCount)
	assert.Equal(t, 75.0, ind.TotalAccruedValue)
	assert.Equal(t, 95, ind.TotalWorkedMinutes)
	assert.InDelta(t, 95.0/60, ind.TotalWorkedHours, 1e-12)
	assert.Equal(t, 0.6667, ind.ConfirmationRate)

	assert.Equal(t, ind, ComputeIndicators(lessons))
}

func TestComputeIndicatorsEmpty(t *testing.T) {
	assert.Equal(t, models.PeriodIndicators{}, ComputeIndicators(nil))
}

func TestPeriodResolveBounds(t *testing.T) {
	svc := newTestPeriodService(newMemoryLedger(), nil)

	cases := []struct {
		period     models.Period
		start, end time.Time
	}{
		{models.PeriodToday, time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC), time.Date(2030, 3, 5, 0, 0, 0, 0, time.UTC)},
		{models.PeriodThisWeek, time.Date(2030, 3, 3, 0, 0, 0, 0, time.UTC), time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)},
		{models.PeriodThisMonth, time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			start, end, err := svc.Resolve(tc.period, testNow)
			require.NoError(t, err)
			assert.True(t, tc.start.Equal(start), "start %s", start)
			assert.True(t, tc.end.Equal(end), "end %s", end)
		})
	}

	_, _, err := svc.Resolve("lastYear", testNow)
	assert.Equal(t, "period", appErrors.FromError(err).Field)
}

func TestPeriodResolveUsesTutorTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	svc := NewPeriodService(PeriodServiceParams{Config: PeriodServiceConfig{Location: loc}})

	// 02:00 UTC on Monday is still Sunday evening at UTC-3.
	start, _, err := svc.Resolve(models.PeriodToday, time.Date(2030, 3, 4, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2030-03-03", start.Format(models.DateKey))
}

func TestPeriodIndicatorsOnlyCountLessonsInPeriod(t *testing.T) {
	ledger := newMemoryLedger(
		lessonAt("today", testNow.Add(2*time.Hour), 60, models.LessonConfirmed, 60),
		lessonAt("thursday", testNow.AddDate(0, 0, 3), 60, models.LessonCompleted, 60),
		lessonAt("april", time.Date(2030, 4, 2, 9, 0, 0, 0, time.UTC), 60, models.LessonConfirmed, 60),
	)
	svc := newTestPeriodService(ledger, nil)

	today, _, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.Equal(t, 1, today.ConfirmedLessonCount)
	assert.Equal(t, 60.0, today.TotalAccruedValue)

	week, _, err := svc.Indicators(context.Background(), models.PeriodThisWeek)
	require.NoError(t, err)
	assert.Equal(t, 2, week.ScheduledLessonCount)
	assert.Equal(t, 120.0, week.TotalAccruedValue)
	assert.Equal(t, 2.0, week.TotalWorkedHours)

	month, _, err := svc.Indicators(context.Background(), models.PeriodThisMonth)
	require.NoError(t, err)
	assert.Equal(t, 2, month.ScheduledLessonCount)
	assert.Equal(t, models.PeriodThisMonth, month.Period)
}

func TestPeriodIndicatorsServedFromCache(t *testing.T) {
	ledger := newMemoryLedger(lessonAt("a", testNow.Add(time.Hour), 60, models.LessonConfirmed, 60))
	store := newMemoryCache()
	svc := newTestPeriodService(ledger, NewCacheService(store, nil, time.Minute, nil, true))

	first, hit, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"dash:indicators:today:2030-03-04"}, store.keys())

	// A write that bypasses the observer is invisible until the entry is invalidated.
	ledger.lessons["b"] = lessonAt("b", testNow.Add(3*time.Hour), 60, models.LessonConfirmed, 60)

	second, hit, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.ConfirmedLessonCount, second.ConfirmedLessonCount)

	svc.LedgerChanged(context.Background())
	third, hit, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, third.ConfirmedLessonCount)
}

// changingReader runs onRead after the snapshot is taken, standing in for a
// booking that commits while indicators are still being computed.
type changingReader struct {
	*memoryLedger
	onRead func()
}

func (r *changingReader) SnapshotRange(ctx context.Context, start, end time.Time) ([]models.Lesson, error) {
	lessons, err := r.memoryLedger.SnapshotRange(ctx, start, end)
	if r.onRead != nil {
		r.onRead()
		r.onRead = nil
	}
	return lessons, err
}

func TestPeriodIndicatorsDropsSnapshotOutdatedByLedgerChange(t *testing.T) {
	ledger := newMemoryLedger(lessonAt("a", testNow.Add(time.Hour), 60, models.LessonConfirmed, 60))
	reader := &changingReader{memoryLedger: ledger}
	store := newMemoryCache()
	svc := NewPeriodService(PeriodServiceParams{
		Lessons: reader,
		Cache:   NewCacheService(store, nil, time.Minute, nil, true),
		Metrics: NewMetricsService(),
		Config:  PeriodServiceConfig{CacheTTL: time.Minute},
	})
	svc.now = fixedClock
	reader.onRead = func() {
		ledger.lessons["b"] = lessonAt("b", testNow.Add(3*time.Hour), 60, models.LessonConfirmed, 60)
		svc.LedgerChanged(context.Background())
	}

	stale, hit, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, stale.ConfirmedLessonCount)
	assert.Empty(t, store.keys())

	fresh, hit, err := svc.Indicators(context.Background(), models.PeriodToday)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, fresh.ConfirmedLessonCount)
	assert.Equal(t, []string{"dash:indicators:today:2030-03-04"}, store.keys())
}

func TestPeriodWarmStopsWhenLedgerChanges(t *testing.T) {
	reader := &changingReader{memoryLedger: newMemoryLedger()}
	store := newMemoryCache()
	svc := NewPeriodService(PeriodServiceParams{
		Lessons: reader,
		Cache:   NewCacheService(store, nil, time.Minute, nil, true),
		Metrics: NewMetricsService(),
	})
	svc.now = fixedClock
	reader.onRead = func() { svc.LedgerChanged(context.Background()) }

	require.NoError(t, svc.Warm(context.Background()))
	assert.Empty(t, store.keys())
}

func TestPeriodLedgerChangedEnqueuesWarm(t *testing.T) {
	store := newMemoryCache()
	store.entries["dash:indicators:today:2030-03-04"] = []byte(`{}`)
	store.entries["other:key"] = []byte(`{}`)
	queue := &recordingQueue{}
	svc := newTestPeriodService(newMemoryLedger(), NewCacheService(store, nil, time.Minute, nil, true))
	svc.AttachQueue(queue)

	svc.LedgerChanged(context.Background())

	assert.Equal(t, []string{"other:key"}, store.keys())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, WarmIndicatorsJob, queue.jobs[0].Type)
	assert.Equal(t, WarmIndicatorsJob, queue.jobs[0].Key)
}

func TestPeriodLedgerChangedSkipsQueueWithoutCache(t *testing.T) {
	queue := &recordingQueue{}
	svc := newTestPeriodService(newMemoryLedger(), nil)
	svc.AttachQueue(queue)

	svc.LedgerChanged(context.Background())
	assert.Empty(t, queue.jobs)
}

func TestPeriodLedgerChangedToleratesFullQueue(t *testing.T) {
	queue := &recordingQueue{err: errors.New("queue full")}
	svc := newTestPeriodService(newMemoryLedger(), NewCacheService(newMemoryCache(), nil, time.Minute, nil, true))
	svc.AttachQueue(queue)

	assert.NotPanics(t, func() { svc.LedgerChanged(context.Background()) })
}

func TestPeriodWarmFillsEveryPeriod(t *testing.T) {
	store := newMemoryCache()
	svc := newTestPeriodService(newMemoryLedger(lessonAt("a", testNow, 60, models.LessonConfirmed, 60)), NewCacheService(store, nil, time.Minute, nil, true))

	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{Type: WarmIndicatorsJob}))
	assert.Equal(t, []string{
		"dash:indicators:thisMonth:2030-03-01",
		"dash:indicators:thisWeek:2030-03-03",
		"dash:indicators:today:2030-03-04",
	}, store.keys())

	_, hit, err := svc.Indicators(context.Background(), models.PeriodThisWeek)
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Error(t, svc.HandleJob(context.Background(), jobs.Job{Type: "report.export"}))
}
