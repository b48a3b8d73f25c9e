package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// DirectoryRepository answers existence lookups over the students and subjects
// directories that lessons reference.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates a directory repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// StudentExists reports whether an active student with id exists.
func (r *DirectoryRepository) StudentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM students WHERE id = $1 AND active = TRUE)`, id); err != nil {
		return false, fmt.Errorf("check student exists: %w", err)
	}
	return exists, nil
}

// SubjectExists reports whether a subject with id exists.
func (r *DirectoryRepository) SubjectExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check subject exists: %w", err)
	}
	return exists, nil
}

// CreateStudent registers a student. Used by operator tooling only.
func (r *DirectoryRepository) CreateStudent(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt, student.UpdatedAt = now, now
	student.Active = true
	const query = `INSERT INTO students (id, full_name, active, created_at, updated_at) VALUES (:id, :full_name, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// EnsureSubject returns the subject named name, creating it when missing.
func (r *DirectoryRepository) EnsureSubject(ctx context.Context, name string) (*models.Subject, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO subjects (id, name, created_at, updated_at) VALUES ($1, $2, $3, $3)
ON CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at
RETURNING id, name, created_at, updated_at`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, uuid.NewString(), name, now); err != nil {
		return nil, fmt.Errorf("ensure subject: %w", err)
	}
	return &subject, nil
}
