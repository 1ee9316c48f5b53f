package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-portal-api/internal/models"
)

const submissionIDFixture = "3f2c9a52-8b1e-4c1d-a7f0-5b6e2d9c1a44"

func TestSubmissionRepositoryCreateTranslatesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "submissions_assignment_student_key"})

	err := repo.Create(context.Background(), &models.Submission{AssignmentID: "a-1", StudentID: "s-1", Answer: "42"})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryCreateTranslatesMissingAssignment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "submissions_assignment_id_fkey"})

	err := repo.Create(context.Background(), &models.Submission{AssignmentID: "gone", StudentID: "s-1", Answer: "42"})
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestSubmissionRepositoryCreateKeepsOtherConstraintErrors(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "submissions_pkey"})

	err := repo.Create(context.Background(), &models.Submission{ID: "dup", AssignmentID: "a-1", StudentID: "s-1", Answer: "42"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateSubmission)
}

func TestSubmissionRepositoryCreateRejectsClosedAssignment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(`INSERT INTO submissions \(.+\)\s+SELECT .+\s+FROM assignments a\s+WHERE a\.id = CAST\(\$\d+ AS UUID\) AND a\.status = 'published' AND a\.due_date >= \$\d+\s+FOR SHARE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), &models.Submission{AssignmentID: assignmentIDFixture, StudentID: "s-1", Answer: "42"})
	assert.ErrorIs(t, err, ErrAssignmentClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryLookupsSkipMalformedIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "abc")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = repo.FindByAssignmentAndStudent(ctx, "not-a-uuid", "s-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	items, err := repo.ListByAssignment(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, items)
	feedback := "late"
	assert.ErrorIs(t, repo.UpdateReview(ctx, ReviewParams{ID: "x", Feedback: &feedback}), sql.ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryCreateSetsDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	submission := &models.Submission{AssignmentID: "a-1", StudentID: "s-1", Answer: "42"}
	require.NoError(t, repo.Create(context.Background(), submission))
	assert.NotEmpty(t, submission.ID)
	assert.False(t, submission.SubmittedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryListByStudentJoinsSummary(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "assignment_id", "student_id", "answer", "submitted_at", "reviewed", "reviewed_at", "feedback",
		"assignment.id", "assignment.title", "assignment.description", "assignment.due_date", "assignment.status", "assignment.created_by",
	}).AddRow("sub-1", "a-1", "s-1", "42", now, false, nil, nil, "a-1", "Essay", "Write", now, "published", "teacher-1")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN assignments a ON a.id = s.assignment_id")).
		WithArgs("s-1").
		WillReturnRows(rows)

	items, err := repo.ListByStudent(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sub-1", items[0].ID)
	assert.Equal(t, "Essay", items[0].Assignment.Title)
	assert.Equal(t, "teacher-1", items[0].Assignment.CreatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryUpdateReview(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET reviewed = $1, reviewed_at = $2, feedback = $3 WHERE id = $4")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reviewed := true
	at := time.Now().UTC()
	feedback := "good"
	require.NoError(t, repo.UpdateReview(context.Background(), ReviewParams{ID: submissionIDFixture, Reviewed: &reviewed, ReviewedAt: &at, Feedback: &feedback}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryUpdateReviewMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET feedback = $1 WHERE id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	feedback := "late"
	err := repo.UpdateReview(context.Background(), ReviewParams{ID: "7d1fa0de-43b5-4c55-9d24-0e0f1c1d2e3f", Feedback: &feedback})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSubmissionRepositoryUpdateReviewNoFields(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	require.NoError(t, NewSubmissionRepository(db).UpdateReview(context.Background(), ReviewParams{ID: submissionIDFixture}))
	require.NoError(t, mock.ExpectationsWereMet())
}
