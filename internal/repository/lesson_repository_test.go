package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
)

var lessonRowColumns = []string{"id", "starts_at", "ends_at", "duration_minutes", "student_id", "subject_id", "status", "value", "notes", "content_covered", "created_at", "updated_at"}

const overlapPattern = "SELECT .* FROM lessons WHERE status <> 'cancelled' AND starts_at < \\$2 AND ends_at > \\$1"

func sampleLesson() *models.Lesson {
	return &models.Lesson{
		Date:            time.Date(2030, 3, 5, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
		StudentID:       "s1",
		SubjectID:       "math",
		Status:          models.LessonScheduled,
		Value:           120,
	}
}

func TestLessonListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	now := time.Now()
	rows := sqlmock.NewRows(lessonRowColumns).
		AddRow("l1", now, now.Add(time.Hour), 60, "s1", "math", "confirmed", 60.0, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + lessonColumns + " FROM lessons WHERE 1=1 AND student_id = $1 AND status = $2 ORDER BY starts_at ASC LIMIT 20 OFFSET 0")).
		WithArgs("s1", "confirmed").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lessons WHERE 1=1 AND student_id = $1 AND status = $2")).
		WithArgs("s1", "confirmed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	lessons, total, err := repo.List(context.Background(), models.LessonFilter{StudentID: "s1", Status: models.LessonConfirmed})
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.LessonConfirmed, lessons[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveStoresFreeInterval(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("INSERT INTO lessons").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	lesson := sampleLesson()
	require.NoError(t, repo.InsertExclusive(context.Background(), lesson))
	assert.NotEmpty(t, lesson.ID)
	assert.Equal(t, lesson.Date.Add(2*time.Hour), lesson.EndsAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveRejectsOverlap(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	start := time.Date(2030, 3, 5, 15, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns).
		AddRow("taken", start, start.Add(time.Hour), 60, "s2", "math", "confirmed", 60.0, nil, nil, now, now))
	mock.ExpectRollback()

	err := repo.InsertExclusive(context.Background(), sampleLesson())
	var conflict *models.LessonConflictError
	require.True(t, errors.As(err, &conflict))
	require.NotNil(t, conflict.Conflict)
	assert.Equal(t, "taken", conflict.Conflict.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveSkipsOverlapCheckForCancelled(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO lessons").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	lesson := sampleLesson()
	lesson.Status = models.LessonCancelled
	require.NoError(t, repo.InsertExclusive(context.Background(), lesson))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveRetriesSerializationFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 1)

	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("INSERT INTO lessons").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("INSERT INTO lessons").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertExclusive(context.Background(), sampleLesson()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveGivesUpAfterRetries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("INSERT INTO lessons").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	err := repo.InsertExclusive(context.Background(), sampleLesson())
	require.Error(t, err)
	var conflict *models.LessonConflictError
	assert.False(t, errors.As(err, &conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExclusiveMapsExclusionViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("INSERT INTO lessons").WillReturnError(&pq.Error{Code: "23P01", Constraint: "lessons_no_overlap"})
	mock.ExpectRollback()

	err := repo.InsertExclusive(context.Background(), sampleLesson())
	var conflict *models.LessonConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExclusiveExcludesItself(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	lesson := sampleLesson()
	lesson.ID = "l1"
	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern + " AND id <> \\$3").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "l1").
		WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("UPDATE lessons SET starts_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateExclusive(context.Background(), lesson))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExclusiveMissingLesson(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	lesson := sampleLesson()
	lesson.ID = "gone"
	mock.ExpectBegin()
	mock.ExpectQuery(overlapPattern).WillReturnRows(sqlmock.NewRows(lessonRowColumns))
	mock.ExpectExec("UPDATE lessons SET starts_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateExclusive(context.Background(), lesson)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE lessons SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("l1", "scheduled", "confirmed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionStatus(context.Background(), "l1", models.LessonScheduled, models.LessonConfirmed, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRangeUsesReadOnlyTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, 0)

	start := time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lessons WHERE starts_at >= \\$1 AND starts_at < \\$2").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows(lessonRowColumns).
			AddRow("l1", start, start.Add(90*time.Minute), 90, "s1", "math", "confirmed", 90.0, nil, nil, start, start))
	mock.ExpectCommit()

	lessons, err := repo.SnapshotRange(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, 90.0, lessons[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}
