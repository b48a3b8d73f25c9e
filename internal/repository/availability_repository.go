package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const availabilityColumns = `id, day_of_week, start_time, end_time, created_at`

// AvailabilityRepository persists the tutor's weekly availability windows.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// List returns every window ordered by weekday then start time.
func (r *AvailabilityRepository) List(ctx context.Context) ([]models.AvailabilityWindow, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability_windows ORDER BY day_of_week ASC, start_time ASC`
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query); err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return windows, nil
}

// FindByID loads a window by id. sql.ErrNoRows is returned unwrapped.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability_windows WHERE id = $1`
	var window models.AvailabilityWindow
	if err := r.db.GetContext(ctx, &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// Create stores a new window.
func (r *AvailabilityRepository) Create(ctx context.Context, window *models.AvailabilityWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	if window.CreatedAt.IsZero() {
		window.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO availability_windows (id, day_of_week, start_time, end_time, created_at) VALUES (:id, :day_of_week, :start_time, :end_time, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("create availability window: %w", err)
	}
	return nil
}

// Delete removes a window and reports whether a row existed.
func (r *AvailabilityRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete availability window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete availability window rows affected: %w", err)
	}
	return affected > 0, nil
}
