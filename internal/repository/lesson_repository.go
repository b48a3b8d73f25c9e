package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const lessonColumns = `id, starts_at, ends_at, duration_minutes, student_id, subject_id, status, value, notes, content_covered, created_at, updated_at`

const (
	pqSerializationFailure = "40001"
	pqExclusionViolation   = "23P01"
)

// LessonRepository persists ledger entries. Writes that place a lesson on the
// calendar run inside a SERIALIZABLE transaction so two concurrent bookings
// cannot both observe a free interval.
type LessonRepository struct {
	db         *sqlx.DB
	maxRetries int
}

// NewLessonRepository creates a lesson repository. maxRetries bounds how many
// times a serialization failure is retried.
func NewLessonRepository(db *sqlx.DB, maxRetries int) *LessonRepository {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LessonRepository{db: db, maxRetries: maxRetries}
}

// List returns lessons matching the filter ordered by date, with the total count.
func (r *LessonRepository) List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	base := "FROM lessons WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY starts_at ASC LIMIT %d OFFSET %d", lessonColumns, base, size, offset)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lessons: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count lessons: %w", err)
	}
	return lessons, total, nil
}

// FindByID loads a lesson. sql.ErrNoRows is returned unwrapped.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListInRange returns every lesson whose date falls in [start, end), optionally
// restricted to one student.
func (r *LessonRepository) ListInRange(ctx context.Context, start, end time.Time, studentID string) ([]models.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE starts_at >= $1 AND starts_at < $2`
	args := []interface{}{start, end}
	if studentID != "" {
		query += ` AND student_id = $3`
		args = append(args, studentID)
	}
	query += ` ORDER BY starts_at ASC`

	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, fmt.Errorf("list lessons in range: %w", err)
	}
	return lessons, nil
}

// SnapshotRange reads the lessons dated in [start, end) inside a read-only
// REPEATABLE READ transaction so aggregates see one consistent ledger state.
func (r *LessonRepository) SnapshotRange(ctx context.Context, start, end time.Time) ([]models.Lesson, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin lesson snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE starts_at >= $1 AND starts_at < $2 ORDER BY starts_at ASC`
	var lessons []models.Lesson
	if err := tx.SelectContext(ctx, &lessons, query, start, end); err != nil {
		return nil, fmt.Errorf("snapshot lessons: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lesson snapshot: %w", err)
	}
	return lessons, nil
}

// ListOccupying returns non-cancelled lessons whose interval intersects [start, end).
func (r *LessonRepository) ListOccupying(ctx context.Context, start, end time.Time) ([]models.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE status <> 'cancelled' AND starts_at < $2 AND ends_at > $1 ORDER BY starts_at ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, start, end); err != nil {
		return nil, fmt.Errorf("list occupying lessons: %w", err)
	}
	return lessons, nil
}

// InsertExclusive stores a lesson unless a non-cancelled lesson already
// occupies an overlapping interval, in which case *models.LessonConflictError
// is returned and nothing is written.
func (r *LessonRepository) InsertExclusive(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	lesson.EndsAt = lesson.End()

	const insert = `INSERT INTO lessons (id, starts_at, ends_at, duration_minutes, student_id, subject_id, status, value, notes, content_covered, created_at, updated_at) VALUES (:id, :starts_at, :ends_at, :duration_minutes, :student_id, :subject_id, :status, :value, :notes, :content_covered, :created_at, :updated_at)`
	return r.exclusive(ctx, "insert lesson", func(tx *sqlx.Tx) error {
		if lesson.Status.Occupies() {
			if err := r.checkOverlap(ctx, tx, lesson.Date, lesson.EndsAt, ""); err != nil {
				return err
			}
		}
		if _, err := tx.NamedExecContext(ctx, insert, lesson); err != nil {
			return err
		}
		return nil
	})
}

// UpdateExclusive rewrites the mutable fields of a lesson. When the lesson
// still occupies the calendar the overlap check re-runs, ignoring the lesson itself.
// sql.ErrNoRows is returned when the lesson no longer exists.
func (r *LessonRepository) UpdateExclusive(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	lesson.EndsAt = lesson.End()

	const update = `UPDATE lessons SET starts_at = :starts_at, ends_at = :ends_at, duration_minutes = :duration_minutes, student_id = :student_id, subject_id = :subject_id, value = :value, notes = :notes, content_covered = :content_covered, updated_at = :updated_at WHERE id = :id`
	return r.exclusive(ctx, "update lesson", func(tx *sqlx.Tx) error {
		if lesson.Status.Occupies() {
			if err := r.checkOverlap(ctx, tx, lesson.Date, lesson.EndsAt, lesson.ID); err != nil {
				return err
			}
		}
		res, err := tx.NamedExecContext(ctx, update, lesson)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// TransitionStatus moves a lesson from one status to another. It reports false
// when the lesson is missing or no longer in the expected status.
func (r *LessonRepository) TransitionStatus(ctx context.Context, id string, from, to models.LessonStatus, at time.Time) (bool, error) {
	const query = `UPDATE lessons SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("transition lesson status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition lesson status rows affected: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a lesson and reports whether it existed.
func (r *LessonRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete lesson: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete lesson rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *LessonRepository) checkOverlap(ctx context.Context, tx *sqlx.Tx, start, end time.Time, excludeID string) error {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE status <> 'cancelled' AND starts_at < $2 AND ends_at > $1`
	args := []interface{}{start, end}
	if excludeID != "" {
		query += ` AND id <> $3`
		args = append(args, excludeID)
	}
	query += ` ORDER BY starts_at ASC LIMIT 1`

	var existing models.Lesson
	err := tx.GetContext(ctx, &existing, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	return &models.LessonConflictError{
		Message:  fmt.Sprintf("interval overlaps lesson %s", existing.ID),
		Conflict: &existing,
	}
}

// exclusive runs fn in a SERIALIZABLE transaction, retrying serialization
// failures. Exclusion-constraint violations surface as conflicts.
func (r *LessonRepository) exclusive(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = r.runSerializable(ctx, fn)
		if !hasPQCode(err, pqSerializationFailure) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	var conflict *models.LessonConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict), errors.Is(err, sql.ErrNoRows):
		return err
	case hasPQCode(err, pqExclusionViolation):
		return &models.LessonConflictError{Message: "interval overlaps an existing lesson"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *LessonRepository) runSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func hasPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
