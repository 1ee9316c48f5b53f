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

const assignmentColumns = `id, title, description, due_date, status, created_by, published_at, completed_at, version, created_at, updated_at`

// AssignmentRepository persists assignments in PostgreSQL. Writes use the
// version column as a compare-and-swap guard.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new assignment row.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	now := time.Now().UTC()
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.Status == "" {
		assignment.Status = models.AssignmentStatusDraft
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = assignment.CreatedAt
	assignment.Version = 1

	const query = `INSERT INTO assignments (` + assignmentColumns + `)
	VALUES (:id, :title, :description, :due_date, :status, :created_by, :published_at, :completed_at, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// GetByID fetches an assignment; sql.ErrNoRows is returned untouched and
// also answers ids that are not uuids.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Update writes every mutable column if the stored version still matches
// assignment.Version. On success the version is advanced in place; a miss
// returns ErrStaleRecord and nothing is written.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	updatedAt := time.Now().UTC()
	const query = `UPDATE assignments SET
	title = :title,
	description = :description,
	due_date = :due_date,
	status = :status,
	published_at = :published_at,
	completed_at = :completed_at,
	version = version + 1,
	updated_at = :updated_at
WHERE id = :id AND version = :version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           assignment.ID,
		"title":        assignment.Title,
		"description":  assignment.Description,
		"due_date":     assignment.DueDate,
		"status":       assignment.Status,
		"published_at": assignment.PublishedAt,
		"completed_at": assignment.CompletedAt,
		"updated_at":   updatedAt,
		"version":      assignment.Version,
	})
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check assignment update rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleRecord
	}
	assignment.Version++
	assignment.UpdatedAt = updatedAt
	return nil
}

// DeleteDraft removes a draft assignment and every submission referencing it
// in one transaction. The delete only succeeds when the row is still a draft
// at the expected version; otherwise the transaction is rolled back and
// ErrStaleRecord is returned. It reports how many submissions were removed.
func (r *AssignmentRepository) DeleteDraft(ctx context.Context, id string, version int64) (removed int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin assignment delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT status, version FROM assignments WHERE id = $1 FOR UPDATE`
	var current struct {
		Status  models.AssignmentStatus `db:"status"`
		Version int64                   `db:"version"`
	}
	if err = tx.GetContext(ctx, &current, lockQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrStaleRecord
		}
		return 0, fmt.Errorf("lock assignment: %w", err)
	}
	if current.Version != version || current.Status != models.AssignmentStatusDraft {
		err = ErrStaleRecord
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE assignment_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete assignment submissions: %w", err)
	}
	if removed, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("check submission delete rows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete assignment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit assignment delete: %w", err)
	}
	return removed, nil
}

// ListByOwner returns assignments created by filter.CreatedBy, newest first,
// each with its current submission count.
func (r *AssignmentRepository) ListByOwner(ctx context.Context, filter models.AssignmentFilter) ([]dto.TeacherAssignmentItem, error) {
	if filter.CreatedBy == "" {
		return nil, fmt.Errorf("createdBy is required")
	}

	query := strings.Builder{}
	query.WriteString(`
SELECT
	a.id, a.title, a.description, a.due_date, a.status, a.created_by,
	a.published_at, a.completed_at, a.version, a.created_at, a.updated_at,
	COUNT(s.id) AS submission_count
FROM assignments a
LEFT JOIN submissions s ON s.assignment_id = a.id
WHERE a.created_by = $1`)

	args := []interface{}{filter.CreatedBy}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		fmt.Fprintf(&query, " AND a.status = $%d", len(args))
	}
	query.WriteString("\nGROUP BY a.id\nORDER BY a.created_at DESC")

	var items []dto.TeacherAssignmentItem
	if err := r.db.SelectContext(ctx, &items, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list teacher assignments: %w", err)
	}
	return items, nil
}

// ListPublished returns every published assignment ordered by ascending due date.
func (r *AssignmentRepository) ListPublished(ctx context.Context) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE status = $1 ORDER BY due_date ASC, id ASC`
	var items []models.Assignment
	if err := r.db.SelectContext(ctx, &items, query, models.AssignmentStatusPublished); err != nil {
		return nil, fmt.Errorf("list published assignments: %w", err)
	}
	return items, nil
}

// Ping checks database reachability for readiness probes.
func (r *AssignmentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
