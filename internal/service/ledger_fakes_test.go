package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

var testNow = time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC) // Monday

func fixedClock() time.Time { return testNow }

// memoryLedger is an in-memory lesson store that enforces the same
// non-overlap rule as the database.
type memoryLedger struct {
	mu        sync.Mutex
	lessons   map[string]models.Lesson
	seq       int
	insertErr error
	casMiss   bool
}

func newMemoryLedger(lessons ...models.Lesson) *memoryLedger {
	m := &memoryLedger{lessons: make(map[string]models.Lesson)}
	for _, l := range lessons {
		l.EndsAt = l.End()
		m.lessons[l.ID] = l
	}
	return m
}

func (m *memoryLedger) overlapping(start, end time.Time, excludeID string) *models.Lesson {
	for _, existing := range m.sorted() {
		if existing.ID == excludeID || !existing.Status.Occupies() {
			continue
		}
		if existing.Overlaps(start, end) {
			found := existing
			return &found
		}
	}
	return nil
}

func (m *memoryLedger) sorted() []models.Lesson {
	out := make([]models.Lesson, 0, len(m.lessons))
	for _, l := range m.lessons {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (m *memoryLedger) InsertExclusive(_ context.Context, lesson *models.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if lesson.Status.Occupies() {
		if conflict := m.overlapping(lesson.Date, lesson.End(), ""); conflict != nil {
			return &models.LessonConflictError{Message: "overlap", Conflict: conflict}
		}
	}
	m.seq++
	lesson.ID = fmt.Sprintf("lesson-%d", m.seq)
	lesson.EndsAt = lesson.End()
	m.lessons[lesson.ID] = *lesson
	return nil
}

func (m *memoryLedger) UpdateExclusive(_ context.Context, lesson *models.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[lesson.ID]; !ok {
		return sql.ErrNoRows
	}
	if lesson.Status.Occupies() {
		if conflict := m.overlapping(lesson.Date, lesson.End(), lesson.ID); conflict != nil {
			return &models.LessonConflictError{Message: "overlap", Conflict: conflict}
		}
	}
	lesson.EndsAt = lesson.End()
	m.lessons[lesson.ID] = *lesson
	return nil
}

func (m *memoryLedger) FindByID(_ context.Context, id string) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (m *memoryLedger) List(_ context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lesson
	for _, l := range m.sorted() {
		if filter.StudentID != "" && l.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.From != nil && l.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !l.Date.Before(*filter.To) {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

func (m *memoryLedger) ListInRange(_ context.Context, start, end time.Time, studentID string) ([]models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lesson
	for _, l := range m.sorted() {
		if l.Date.Before(start) || !l.Date.Before(end) {
			continue
		}
		if studentID != "" && l.StudentID != studentID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memoryLedger) SnapshotRange(ctx context.Context, start, end time.Time) ([]models.Lesson, error) {
	return m.ListInRange(ctx, start, end, "")
}

func (m *memoryLedger) ListOccupying(_ context.Context, start, end time.Time) ([]models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lesson
	for _, l := range m.sorted() {
		if l.Status.Occupies() && l.Overlaps(start, end) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryLedger) TransitionStatus(_ context.Context, id string, from, to models.LessonStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok || l.Status != from || m.casMiss {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = at
	m.lessons[id] = l
	return true, nil
}

func (m *memoryLedger) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[id]; !ok {
		return false, nil
	}
	delete(m.lessons, id)
	return true, nil
}

type memoryWindows struct {
	windows []models.AvailabilityWindow
	created int
}

func (m *memoryWindows) List(context.Context) ([]models.AvailabilityWindow, error) {
	return m.windows, nil
}

func (m *memoryWindows) FindByID(_ context.Context, id string) (*models.AvailabilityWindow, error) {
	for _, w := range m.windows {
		if w.ID == id {
			found := w
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryWindows) Create(_ context.Context, window *models.AvailabilityWindow) error {
	m.created++
	window.ID = fmt.Sprintf("window-%d", m.created)
	m.windows = append(m.windows, *window)
	return nil
}

func (m *memoryWindows) Delete(_ context.Context, id string) (bool, error) {
	for i, w := range m.windows {
		if w.ID == id {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type staticDirectory struct {
	students map[string]bool
	subjects map[string]bool
}

func newDirectory() *staticDirectory {
	return &staticDirectory{
		students: map[string]bool{"student-1": true, "student-2": true},
		subjects: map[string]bool{"math": true, "physics": true},
	}
}

func (d *staticDirectory) StudentExists(_ context.Context, id string) (bool, error) {
	return d.students[id], nil
}

func (d *staticDirectory) SubjectExists(_ context.Context, id string) (bool, error) {
	return d.subjects[id], nil
}

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) LedgerChanged(context.Context) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *memoryCache) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (c *memoryCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

var (
	adminActor   = models.Actor{UserID: "tutor", Role: models.RoleAdmin}
	studentActor = models.Actor{UserID: "u-1", Role: models.RoleStudent, StudentID: "student-1"}
)

func lessonAt(id string, start time.Time, minutes int, status models.LessonStatus, value float64) models.Lesson {
	return models.Lesson{
		ID:              id,
		Date:            start,
		DurationMinutes: minutes,
		StudentID:       "student-1",
		SubjectID:       "math",
		Status:          status,
		Value:           value,
	}
}

func intPtr(v int) *int { return &v }
