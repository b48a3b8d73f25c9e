package service

import (
	"context"
	"math"
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

// LedgerObserver is notified after every committed lesson mutation.
type LedgerObserver interface {
	LedgerChanged(ctx context.Context)
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(models.DateKey, raw, loc)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func verifyReferences(ctx context.Context, directory directoryReader, studentID, subjectID string) error {
	ok, err := directory.StudentExists(ctx, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify student")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	ok, err = directory.SubjectExists(ctx, subjectID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify subject")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	return nil
}
