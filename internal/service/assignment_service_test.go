package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository/memory"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
)

func statusPtr(s models.AssignmentStatus) *models.AssignmentStatus { return &s }
func strPtr(s string) *string                                    { return &s }

func TestAssignmentCreate(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, models.AssignmentStatusDraft, a.Status)
	assert.Equal(t, teacherA.ID, a.CreatedBy)
	assert.Equal(t, f.clock.Now(), a.CreatedAt)
	assignmentInvariants(t, a)
	assert.Equal(t, []string{models.AuditActionAssignmentCreate}, f.audit.actions())
}

func TestAssignmentCreateRequiresTeacher(t *testing.T) {
	f := newFixture(t)
	_, err := f.assignments.Create(context.Background(), studentA, dto.CreateAssignmentRequest{Title: "t", Description: "d", DueDate: f.clock.Now()})
	requireKind(t, err, appErrors.ErrForbidden)

	_, err = f.assignments.Create(context.Background(), nil, dto.CreateAssignmentRequest{Title: "t", Description: "d", DueDate: f.clock.Now()})
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAssignmentCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]dto.CreateAssignmentRequest{
		"missing title":       {Description: "d", DueDate: f.clock.Now()},
		"blank title":         {Title: "   ", Description: "d", DueDate: f.clock.Now()},
		"missing description": {Title: "t", DueDate: f.clock.Now()},
		"missing due date":    {Title: "t", Description: "d"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.assignments.Create(context.Background(), teacherA, req)
			requireKind(t, err, appErrors.ErrValidation)
		})
	}
}

func TestAssignmentCreateAcceptsPastDueDate(t *testing.T) {
	f := newFixture(t)
	a, err := f.assignments.Create(context.Background(), teacherA, dto.CreateAssignmentRequest{Title: "t", Description: "d", DueDate: f.clock.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusDraft, a.Status)
}

func TestAssignmentLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	f.clock.Advance(time.Minute)
	published, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.Equal(t, f.clock.Now(), *published.PublishedAt)
	assignmentInvariants(t, published)

	f.clock.Advance(time.Minute)
	completed, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCompleted, completed.Status)
	assert.Equal(t, *published.PublishedAt, *completed.PublishedAt)
	assignmentInvariants(t, completed)

	stored, err := f.assignments.Get(context.Background(), teacherA, a.ID)
	require.NoError(t, err)
	assignmentInvariants(t, stored)
	assert.Equal(t, models.AssignmentStatusCompleted, stored.Status)
}

func TestAssignmentTransitionMatrix(t *testing.T) {
	all := []models.AssignmentStatus{models.AssignmentStatusDraft, models.AssignmentStatusPublished, models.AssignmentStatusCompleted}
	setup := map[models.AssignmentStatus][]models.AssignmentStatus{
		models.AssignmentStatusDraft:     nil,
		models.AssignmentStatusPublished: {models.AssignmentStatusPublished},
		models.AssignmentStatusCompleted: {models.AssignmentStatusPublished, models.AssignmentStatusCompleted},
	}
	legal := map[[2]models.AssignmentStatus]bool{
		{models.AssignmentStatusDraft, models.AssignmentStatusPublished}:     true,
		{models.AssignmentStatusPublished, models.AssignmentStatusCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				a := f.draft(t)
				for _, step := range setup[from] {
					_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, step)
					require.NoError(t, err)
				}

				got, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, to)
				if legal[[2]models.AssignmentStatus{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					assignmentInvariants(t, got)
					return
				}
				requireKind(t, err, appErrors.ErrInvalidTransition)
				appErr := appErrors.FromError(err)
				assert.Equal(t, string(from), appErr.Details["from"])
				assert.Equal(t, string(to), appErr.Details["to"])

				stored, err := f.assignments.Get(context.Background(), teacherA, a.ID)
				require.NoError(t, err)
				assert.Equal(t, from, stored.Status)
				assignmentInvariants(t, stored)
			})
		}
	}
}

func TestAssignmentTransitionUnknownStatus(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)
	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, "archived")
	requireKind(t, err, appErrors.ErrValidation)
}

// Scenario E: completed straight from draft.
func TestAssignmentCannotSkipPublished(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusCompleted)
	requireKind(t, err, appErrors.ErrInvalidTransition)

	_, err = f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{Status: statusPtr(models.AssignmentStatusCompleted)})
	requireKind(t, err, appErrors.ErrInvalidTransition)
}

// Scenario B: completed back to published.
func TestAssignmentCannotReopen(t *testing.T) {
	f := newFixture(t)
	a := f.published(t)
	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusCompleted)
	require.NoError(t, err)

	_, err = f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	requireKind(t, err, appErrors.ErrInvalidTransition)
}

func TestAssignmentTransitionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, "missing", models.AssignmentStatusPublished)
	requireKind(t, err, appErrors.ErrNotFound)
}

func TestAssignmentUpdateFields(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)
	due := f.clock.Now().Add(72 * time.Hour)

	updated, err := f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{
		Title:   strPtr("Essay v2"),
		DueDate: &due,
	})
	require.NoError(t, err)
	assert.Equal(t, "Essay v2", updated.Title)
	assert.Equal(t, a.Description, updated.Description)
	assert.True(t, due.Equal(updated.DueDate))
	assert.Equal(t, models.AssignmentStatusDraft, updated.Status)
}

func TestAssignmentUpdateWithSameStatusIgnoresStatus(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	updated, err := f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{
		Title:  strPtr("Renamed"),
		Status: statusPtr(models.AssignmentStatusDraft),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, models.AssignmentStatusDraft, updated.Status)
}

func TestAssignmentUpdateWithPublish(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	updated, err := f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{
		Title:  strPtr("Final"),
		Status: statusPtr(models.AssignmentStatusPublished),
	})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Equal(t, models.AssignmentStatusPublished, updated.Status)
	assignmentInvariants(t, updated)
}

func TestAssignmentUpdateIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	_, err := f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{
		Title:  strPtr("Should not stick"),
		Status: statusPtr(models.AssignmentStatusCompleted),
	})
	requireKind(t, err, appErrors.ErrInvalidTransition)

	stored, err := f.assignments.Get(context.Background(), teacherA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Essay", stored.Title)
	assert.Equal(t, models.AssignmentStatusDraft, stored.Status)
}

func TestAssignmentUpdateCompletedForbidden(t *testing.T) {
	f := newFixture(t)
	a := f.published(t)
	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusCompleted)
	require.NoError(t, err)

	_, err = f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{Title: strPtr("late edit")})
	requireKind(t, err, appErrors.ErrForbidden)
	assert.Equal(t, "completed assignments cannot be modified", appErrors.FromError(err).Message)

	_, err = f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{})
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAssignmentUpdateValidation(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)
	var zero time.Time

	for name, req := range map[string]dto.UpdateAssignmentRequest{
		"blank title":       {Title: strPtr("")},
		"blank description": {Description: strPtr(" ")},
		"zero due date":     {DueDate: &zero},
		"unknown status":    {Status: statusPtr("archived")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.assignments.Update(context.Background(), teacherA, a.ID, req)
			requireKind(t, err, appErrors.ErrValidation)
		})
	}
}

func TestAssignmentUpdateEmptyReturnsCurrent(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)
	got, err := f.assignments.Update(context.Background(), teacherA, a.ID, dto.UpdateAssignmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, []string{models.AuditActionAssignmentCreate}, f.audit.actions())
}

func TestAssignmentDeleteDraft(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	require.NoError(t, f.assignments.Delete(context.Background(), teacherA, a.ID))
	_, err := f.assignments.Get(context.Background(), teacherA, a.ID)
	requireKind(t, err, appErrors.ErrNotFound)
	assert.Contains(t, f.audit.actions(), models.AuditActionAssignmentDelete)
}

func TestAssignmentDeleteNonDraft(t *testing.T) {
	f := newFixture(t)
	a := f.published(t)
	_, err := f.submissions.Submit(context.Background(), studentA, dto.SubmitAssignmentRequest{AssignmentID: a.ID, Answer: "42"})
	require.NoError(t, err)

	err = f.assignments.Delete(context.Background(), teacherA, a.ID)
	requireKind(t, err, appErrors.ErrInvalidState)
	assert.Equal(t, "only draft assignments can be deleted", appErrors.FromError(err).Message)

	stored, err := f.assignments.Get(context.Background(), teacherA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPublished, stored.Status)
	subs, err := f.submissions.ListForAssignment(context.Background(), teacherA, a.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

// Scenario D for the lifecycle engine.
func TestAssignmentForeignTeacherForbidden(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)
	ctx := context.Background()

	_, err := f.assignments.Get(ctx, teacherB, a.ID)
	requireKind(t, err, appErrors.ErrForbidden)
	_, err = f.assignments.Update(ctx, teacherB, a.ID, dto.UpdateAssignmentRequest{Title: strPtr("mine now")})
	requireKind(t, err, appErrors.ErrForbidden)
	_, err = f.assignments.TransitionStatus(ctx, teacherB, a.ID, models.AssignmentStatusPublished)
	requireKind(t, err, appErrors.ErrForbidden)
	requireKind(t, f.assignments.Delete(ctx, teacherB, a.ID), appErrors.ErrForbidden)

	stored, err := f.assignments.Get(ctx, teacherA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Essay", stored.Title)
}

func TestAssignmentStudentGetRequiresPublished(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	_, err := f.assignments.Get(context.Background(), studentA, a.ID)
	requireKind(t, err, appErrors.ErrForbidden)

	_, err = f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	require.NoError(t, err)
	got, err := f.assignments.Get(context.Background(), studentA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusCompleted)
	require.NoError(t, err)
	_, err = f.assignments.Get(context.Background(), studentA, a.ID)
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAssignmentListForTeacher(t *testing.T) {
	f := newFixture(t)
	first := f.draft(t)
	f.clock.Advance(time.Minute)
	second := f.published(t)
	_, err := f.assignments.Create(context.Background(), teacherB, dto.CreateAssignmentRequest{Title: "other", Description: "d", DueDate: f.clock.Now()})
	require.NoError(t, err)
	_, err = f.submissions.Submit(context.Background(), studentA, dto.SubmitAssignmentRequest{AssignmentID: second.ID, Answer: "a"})
	require.NoError(t, err)
	_, err = f.submissions.Submit(context.Background(), studentB, dto.SubmitAssignmentRequest{AssignmentID: second.ID, Answer: "b"})
	require.NoError(t, err)

	items, err := f.assignments.ListForTeacher(context.Background(), teacherA, dto.TeacherAssignmentQuery{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, 2, items[0].SubmissionCount)
	assert.Equal(t, first.ID, items[1].ID)
	assert.Zero(t, items[1].SubmissionCount)

	drafts, err := f.assignments.ListForTeacher(context.Background(), teacherA, dto.TeacherAssignmentQuery{Status: statusPtr(models.AssignmentStatusDraft)})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, first.ID, drafts[0].ID)

	_, err = f.assignments.ListForTeacher(context.Background(), teacherA, dto.TeacherAssignmentQuery{Status: statusPtr("bogus")})
	requireKind(t, err, appErrors.ErrValidation)

	_, err = f.assignments.ListForTeacher(context.Background(), studentA, dto.TeacherAssignmentQuery{})
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAssignmentListForStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(title string, due time.Duration) *models.Assignment {
		a, err := f.assignments.Create(ctx, teacherA, dto.CreateAssignmentRequest{Title: title, Description: "d", DueDate: f.clock.Now().Add(due)})
		require.NoError(t, err)
		a, err = f.assignments.TransitionStatus(ctx, teacherA, a.ID, models.AssignmentStatusPublished)
		require.NoError(t, err)
		return a
	}
	later := mk("later", 72*time.Hour)
	sooner := mk("sooner", 24*time.Hour)
	f.draft(t)

	sub, err := f.submissions.Submit(ctx, studentA, dto.SubmitAssignmentRequest{AssignmentID: sooner.ID, Answer: "done"})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	items, err := f.assignments.ListForStudent(ctx, studentA)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, sooner.ID, items[0].ID)
	assert.True(t, items[0].HasSubmitted)
	require.NotNil(t, items[0].SubmissionID)
	assert.Equal(t, sub.ID, *items[0].SubmissionID)
	assert.False(t, items[0].CanSubmit)

	assert.Equal(t, later.ID, items[1].ID)
	assert.False(t, items[1].HasSubmitted)
	assert.Nil(t, items[1].SubmissionID)
	assert.True(t, items[1].CanSubmit)

	_, err = f.assignments.ListForStudent(ctx, teacherA)
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAssignmentConcurrentTransitions(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.FromError(err).Code == appErrors.ErrInvalidTransition.Code:
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, rejected)
	stored, err := f.assignments.Get(context.Background(), teacherA, a.ID)
	require.NoError(t, err)
	assignmentInvariants(t, stored)
}

func TestAssignmentLostRaceReportsWinnerState(t *testing.T) {
	f := newFixture(t)
	a := f.draft(t)

	// a second writer publishes between our read and our write
	stale, err := f.db.Assignments().GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	require.NoError(t, err)

	err = f.assignments.save(context.Background(), stale, statusPtr(models.AssignmentStatusPublished))
	requireKind(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "published", appErrors.FromError(err).Details["from"])

	stale.Title = "edit"
	err = f.assignments.save(context.Background(), stale, nil)
	requireKind(t, err, appErrors.ErrTransient)
	assert.True(t, appErrors.Retryable(err))
}

func TestAssignmentStoreTimeoutIsTransient(t *testing.T) {
	db := memory.New()
	store := &failingAssignments{AssignmentStore: db.Assignments()}
	f := newFixtureWithStores(t, db, store, db.Submissions(), WithStoreTimeout(time.Second))
	a := f.draft(t)

	store.updateErr = context.DeadlineExceeded
	_, err := f.assignments.TransitionStatus(context.Background(), teacherA, a.ID, models.AssignmentStatusPublished)
	requireKind(t, err, appErrors.ErrTransient)
	assert.True(t, appErrors.Retryable(err))

	store.updateErr = nil
	store.getErr = assert.AnError
	_, err = f.assignments.Get(context.Background(), teacherA, a.ID)
	requireKind(t, err, appErrors.ErrInternal)
	assert.False(t, appErrors.Retryable(err))
}
