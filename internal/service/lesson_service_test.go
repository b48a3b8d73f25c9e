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
)

func newTestLessonService(ledger *memoryLedger, observer LedgerObserver) *LessonService {
	svc := NewLessonService(LessonServiceParams{
		Repo:      ledger,
		Directory: newDirectory(),
		Observer:  observer,
		Metrics:   NewMetricsService(),
		Config:    LessonServiceConfig{HourlyRate: 60},
	})
	svc.now = fixedClock
	return svc
}

var tuesdayTwoPM = time.Date(2030, 3, 5, 14, 0, 0, 0, time.UTC)

func TestLessonCreateDefaultsValueFromRate(t *testing.T) {
	observer := &countingObserver{}
	svc := newTestLessonService(newMemoryLedger(), observer)

	lesson, err := svc.Create(context.Background(), CreateLessonRequest{
		Date:            tuesdayTwoPM,
		DurationMinutes: 45,
		StudentID:       "student-1",
		SubjectID:       "physics",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LessonScheduled, lesson.Status)
	assert.Equal(t, 45.0, lesson.Value)
	assert.Equal(t, tuesdayTwoPM.Add(45*time.Minute), lesson.EndsAt)
	assert.Equal(t, 1, observer.count())
}

func TestLessonCreateExplicitValueAndPastDate(t *testing.T) {
	svc := newTestLessonService(newMemoryLedger(), nil)

	value := 80.126
	lesson, err := svc.Create(context.Background(), CreateLessonRequest{
		Date:            testNow.AddDate(0, 0, -10),
		DurationMinutes: 60,
		StudentID:       "student-1",
		SubjectID:       "math",
		Status:          models.LessonCompleted,
		Value:           &value,
	})
	require.NoError(t, err)
	assert.Equal(t, 80.13, lesson.Value)
	assert.Equal(t, models.LessonCompleted, lesson.Status)
}

func TestLessonCreateRejectsShortAndCancelled(t *testing.T) {
	svc := newTestLessonService(newMemoryLedger(), nil)

	_, err := svc.Create(context.Background(), CreateLessonRequest{Date: tuesdayTwoPM, DurationMinutes: 10, StudentID: "student-1", SubjectID: "math"})
	assert.Equal(t, "duration_minutes", appErrors.FromError(err).Field)

	_, err = svc.Create(context.Background(), CreateLessonRequest{Date: tuesdayTwoPM, DurationMinutes: 60, StudentID: "student-1", SubjectID: "math", Status: models.LessonCancelled})
	assert.Equal(t, "status", appErrors.FromError(err).Field)
}

func TestLessonCreateOverlapIsSlotTaken(t *testing.T) {
	existing := lessonAt("l1", tuesdayTwoPM, 60, models.LessonConfirmed, 60)
	svc := newTestLessonService(newMemoryLedger(existing), nil)

	_, err := svc.Create(context.Background(), CreateLessonRequest{Date: tuesdayTwoPM.Add(30 * time.Minute), DurationMinutes: 60, StudentID: "student-2", SubjectID: "math"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSlotTaken.Code))

	var conflict *models.LessonConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "l1", conflict.Conflict.ID)
}

func TestLessonCreateBackToBackIsAllowed(t *testing.T) {
	existing := lessonAt("l1", tuesdayTwoPM, 60, models.LessonConfirmed, 60)
	svc := newTestLessonService(newMemoryLedger(existing), nil)

	_, err := svc.Create(context.Background(), CreateLessonRequest{Date: tuesdayTwoPM.Add(time.Hour), DurationMinutes: 60, StudentID: "student-2", SubjectID: "math"})
	assert.NoError(t, err)
}

func TestLessonUpdateRechecksOverlapExcludingItself(t *testing.T) {
	first := lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60)
	second := lessonAt("l2", tuesdayTwoPM.Add(2*time.Hour), 60, models.LessonScheduled, 60)
	svc := newTestLessonService(newMemoryLedger(first, second), nil)

	longer := 90
	updated, err := svc.Update(context.Background(), "l1", UpdateLessonRequest{DurationMinutes: &longer})
	require.NoError(t, err)
	assert.Equal(t, 90, updated.DurationMinutes)

	moved := tuesdayTwoPM.Add(90 * time.Minute)
	_, err = svc.Update(context.Background(), "l1", UpdateLessonRequest{Date: &moved})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSlotTaken.Code))
}

func TestLessonUpdateUnknownReferences(t *testing.T) {
	svc := newTestLessonService(newMemoryLedger(lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60)), nil)

	subject := "chemistry"
	_, err := svc.Update(context.Background(), "l1", UpdateLessonRequest{SubjectID: &subject})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	_, err = svc.Update(context.Background(), "missing", UpdateLessonRequest{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestLessonUpdateStatusLifecycle(t *testing.T) {
	observer := &countingObserver{}
	ledger := newMemoryLedger(lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60))
	svc := newTestLessonService(ledger, observer)

	lesson, err := svc.UpdateStatus(context.Background(), "l1", UpdateLessonStatusRequest{Status: models.LessonConfirmed})
	require.NoError(t, err)
	assert.Equal(t, models.LessonConfirmed, lesson.Status)
	assert.Equal(t, testNow.UTC(), lesson.UpdatedAt)
	assert.Equal(t, 1, observer.count())

	lesson, err = svc.UpdateStatus(context.Background(), "l1", UpdateLessonStatusRequest{Status: models.LessonCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.LessonCompleted, lesson.Status)

	_, err = svc.UpdateStatus(context.Background(), "l1", UpdateLessonStatusRequest{Status: models.LessonScheduled})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Equal(t, "cannot move lesson from completed to scheduled", appErr.Message)
	assert.Equal(t, 2, observer.count())
}

func TestLessonUpdateStatusSameStatusIsNoop(t *testing.T) {
	observer := &countingObserver{}
	svc := newTestLessonService(newMemoryLedger(lessonAt("l1", tuesdayTwoPM, 60, models.LessonCancelled, 60)), observer)

	lesson, err := svc.UpdateStatus(context.Background(), "l1", UpdateLessonStatusRequest{Status: models.LessonCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.LessonCancelled, lesson.Status)
	assert.Zero(t, observer.count())
}

func TestLessonUpdateStatusLostRace(t *testing.T) {
	ledger := newMemoryLedger(lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60))
	ledger.casMiss = true
	observer := &countingObserver{}
	svc := newTestLessonService(ledger, observer)

	_, err := svc.UpdateStatus(context.Background(), "l1", UpdateLessonStatusRequest{Status: models.LessonCancelled})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.Zero(t, observer.count())
}

func TestLessonListScopesStudents(t *testing.T) {
	mine := lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60)
	theirs := lessonAt("l2", tuesdayTwoPM.Add(2*time.Hour), 60, models.LessonScheduled, 60)
	theirs.StudentID = "student-2"
	svc := newTestLessonService(newMemoryLedger(mine, theirs), nil)

	lessons, page, err := svc.List(context.Background(), studentActor, ListLessonsRequest{StudentID: "student-2"})
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "l1", lessons[0].ID)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	lessons, page, err = svc.List(context.Background(), adminActor, ListLessonsRequest{})
	require.NoError(t, err)
	assert.Len(t, lessons, 2)
	assert.Equal(t, 2, page.TotalCount)
}

func TestLessonListRejectsInvertedRange(t *testing.T) {
	svc := newTestLessonService(newMemoryLedger(), nil)

	_, _, err := svc.List(context.Background(), adminActor, ListLessonsRequest{From: "2030-03-10", To: "2030-03-01"})
	assert.Equal(t, "to", appErrors.FromError(err).Field)
}

func TestLessonGetForbidsOtherStudents(t *testing.T) {
	theirs := lessonAt("l2", tuesdayTwoPM, 60, models.LessonScheduled, 60)
	theirs.StudentID = "student-2"
	svc := newTestLessonService(newMemoryLedger(theirs), nil)

	_, err := svc.Get(context.Background(), studentActor, "l2")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	lesson, err := svc.Get(context.Background(), adminActor, "l2")
	require.NoError(t, err)
	assert.Equal(t, "student-2", lesson.StudentID)
}

func TestLessonDelete(t *testing.T) {
	observer := &countingObserver{}
	svc := newTestLessonService(newMemoryLedger(lessonAt("l1", tuesdayTwoPM, 60, models.LessonScheduled, 60)), observer)

	require.NoError(t, svc.Delete(context.Background(), "l1"))
	assert.Equal(t, 1, observer.count())

	err := svc.Delete(context.Background(), "l1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}
