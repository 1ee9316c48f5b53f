package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditRecorderStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorderStub) Record(log *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
}

func (a *auditRecorderStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

var (
	teacherA = &models.Principal{ID: "teacher-a", Role: models.RoleTeacher}
	teacherB = &models.Principal{ID: "teacher-b", Role: models.RoleTeacher}
	studentA = &models.Principal{ID: "student-a", Role: models.RoleStudent}
	studentB = &models.Principal{ID: "student-b", Role: models.RoleStudent}
)

type fixture struct {
	db          *memory.DB
	clock       *fakeClock
	audit       *auditRecorderStub
	assignments *AssignmentService
	submissions *SubmissionService
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	db := memory.New()
	return newFixtureWithStores(t, db, db.Assignments(), db.Submissions(), opts...)
}

func newFixtureWithStores(t *testing.T, db *memory.DB, assignments AssignmentStore, submissions SubmissionStore, opts ...EngineOption) *fixture {
	t.Helper()
	clock := newFakeClock()
	audit := &auditRecorderStub{}
	all := append([]EngineOption{WithClock(clock.Now), WithAudit(audit)}, opts...)
	return &fixture{
		db:          db,
		clock:       clock,
		audit:       audit,
		assignments: NewAssignmentService(assignments, submissions, nil, nil, all...),
		submissions: NewSubmissionService(assignments, submissions, nil, nil, all...),
	}
}

// draft creates an assignment owned by teacherA, due in 48 hours.
func (f *fixture) draft(t *testing.T) *models.Assignment {
	t.Helper()
	a, err := f.assignments.Create(context.Background(), teacherA, dto.CreateAssignmentRequest{
		Title:       "Essay",
		Description: "Write 500 words",
		DueDate:     f.clock.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) published(t *testing.T) *models.Assignment {
	t.Helper()
	a := f.draft(t)
	a, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	require.NoError(t, err)
	return a
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
}

// assignmentInvariants checks the timestamp rules tied to status.
func assignmentInvariants(t *testing.T, a *models.Assignment) {
	t.Helper()
	require.Equal(t, a.Status != models.AssignmentStatusDraft, a.PublishedAt != nil, "publishedAt for %s", a.Status)
	require.Equal(t, a.Status == models.AssignmentStatusCompleted, a.CompletedAt != nil, "completedAt for %s", a.Status)
	if a.PublishedAt != nil && a.CompletedAt != nil {
		require.False(t, a.CompletedAt.Before(*a.PublishedAt))
	}
}

// failingAssignments wraps a store and fails selected calls.
type failingAssignments struct {
	AssignmentStore
	getErr    error
	updateErr error
}

func (f *failingAssignments) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.AssignmentStore.GetByID(ctx, id)
}

func (f *failingAssignments) Update(ctx context.Context, a *models.Assignment) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.AssignmentStore.Update(ctx, a)
}

// blindSubmissions hides existing submissions from the pre-check so the
// unique index is the only guard.
type blindSubmissions struct {
	SubmissionStore
}

func (b *blindSubmissions) FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	return nil, sql.ErrNoRows
}

// hookedSubmissions runs beforeCreate ahead of every insert, after the
// service has already checked the assignment.
type hookedSubmissions struct {
	SubmissionStore
	beforeCreate func()
}

func (h *hookedSubmissions) Create(ctx context.Context, submission *models.Submission) error {
	if h.beforeCreate != nil {
		h.beforeCreate()
	}
	return h.SubmissionStore.Create(ctx, submission)
}
