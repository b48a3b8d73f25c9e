package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
)

func TestAvailabilityListOrdersByDayAndStart(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "day_of_week", "start_time", "end_time", "created_at"}).
		AddRow("w1", 2, "14:00", "16:00", now).
		AddRow("w2", 4, "09:00", "10:30", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, day_of_week, start_time, end_time, created_at FROM availability_windows ORDER BY day_of_week ASC, start_time ASC")).
		WillReturnRows(rows)

	windows, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 2, windows[0].DayOfWeek)
	assert.Equal(t, "16:00", windows[0].EndTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("INSERT INTO availability_windows").WillReturnResult(sqlmock.NewResult(1, 1))

	window := &models.AvailabilityWindow{DayOfWeek: 2, StartTime: "14:00", EndTime: "16:00"}
	require.NoError(t, repo.Create(context.Background(), window))
	assert.NotEmpty(t, window.ID)
	assert.False(t, window.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityDeleteReportsMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM availability_windows WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
