package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
)

const submissionColumns = `id, assignment_id, student_id, answer, submitted_at, reviewed, reviewed_at, feedback`

// SubmissionRef pairs a submission id with its assignment.
type SubmissionRef struct {
	ID           string `db:"id"`
	AssignmentID string `db:"assignment_id"`
}

// ReviewParams lists the review columns to write. Fields left nil are not
// touched; ReviewedAt is written whenever Reviewed is set, so a nil
// ReviewedAt alongside Reviewed clears the timestamp.
type ReviewParams struct {
	ID         string
	Reviewed   *bool
	ReviewedAt *time.Time
	Feedback   *string
}

// SubmissionRepository persists submissions in PostgreSQL. Uniqueness of
// (assignment_id, student_id) is enforced by the table constraint.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a submission only while its assignment is published and
// not past due at SubmittedAt. The eligibility check and the insert are one
// statement; the assignment row is share-locked so a concurrent transition
// either lands first and the insert matches nothing, or waits for it. A
// miss yields ErrAssignmentClosed. A concurrent insert for the same pair
// loses on the unique constraint and yields ErrDuplicateSubmission.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submissions (` + submissionColumns + `)
SELECT CAST(:id AS UUID), a.id, :student_id, :answer, :submitted_at, :reviewed, :reviewed_at, :feedback
FROM assignments a
WHERE a.id = CAST(:assignment_id AS UUID) AND a.status = 'published' AND a.due_date >= :submitted_at
FOR SHARE`
	result, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		if translated := translateSubmissionInsert(err); translated != err {
			return translated
		}
		return fmt.Errorf("create submission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check submission insert rows: %w", err)
	}
	if rows == 0 {
		return ErrAssignmentClosed
	}
	return nil
}

// GetByID fetches a submission; sql.ErrNoRows is returned untouched.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindByAssignmentAndStudent fetches the submission for a pair, if any.
func (r *SubmissionRepository) FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	if !validID(assignmentID) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE assignment_id = $1 AND student_id = $2`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListByStudent returns a student's submissions joined with assignment
// summaries, newest first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionWithAssignment, error) {
	const query = `
SELECT
	s.id, s.assignment_id, s.student_id, s.answer, s.submitted_at, s.reviewed, s.reviewed_at, s.feedback,
	a.id AS "assignment.id",
	a.title AS "assignment.title",
	a.description AS "assignment.description",
	a.due_date AS "assignment.due_date",
	a.status AS "assignment.status",
	a.created_by AS "assignment.created_by"
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE s.student_id = $1
ORDER BY s.submitted_at DESC`
	var items []dto.SubmissionWithAssignment
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return items, nil
}

// ListRefsByStudent returns the (submission, assignment) id pairs of a student.
func (r *SubmissionRepository) ListRefsByStudent(ctx context.Context, studentID string) ([]SubmissionRef, error) {
	const query = `SELECT id, assignment_id FROM submissions WHERE student_id = $1`
	var refs []SubmissionRef
	if err := r.db.SelectContext(ctx, &refs, query, studentID); err != nil {
		return nil, fmt.Errorf("list student submission refs: %w", err)
	}
	return refs, nil
}

// ListByAssignment returns submissions for an assignment, newest first.
func (r *SubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	if !validID(assignmentID) {
		return []models.Submission{}, nil
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE assignment_id = $1 ORDER BY submitted_at DESC`
	var items []models.Submission
	if err := r.db.SelectContext(ctx, &items, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment submissions: %w", err)
	}
	return items, nil
}

// UpdateReview writes the review columns present in params.
func (r *SubmissionRepository) UpdateReview(ctx context.Context, params ReviewParams) error {
	if !validID(params.ID) {
		return sql.ErrNoRows
	}
	setParts := make([]string, 0, 3)
	args := map[string]interface{}{"id": params.ID}
	if params.Reviewed != nil {
		setParts = append(setParts, "reviewed = :reviewed", "reviewed_at = :reviewed_at")
		args["reviewed"] = *params.Reviewed
		args["reviewed_at"] = params.ReviewedAt
	}
	if params.Feedback != nil {
		setParts = append(setParts, "feedback = :feedback")
		args["feedback"] = *params.Feedback
	}
	if len(setParts) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE submissions SET %s WHERE id = :id", strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("update submission review: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check submission review rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
