package memory

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
)

// SubmissionStore keeps submissions in memory with a unique index on
// (assignment, student).
type SubmissionStore struct {
	db *DB
}

// Create inserts a submission while the assignment accepts it: published
// with a due date at or after SubmittedAt. It fails with
// repository.ErrMissingReference when the assignment does not exist,
// repository.ErrAssignmentClosed when it no longer accepts submissions and
// repository.ErrDuplicateSubmission when the pair already has one.
func (s *SubmissionStore) Create(ctx context.Context, submission *models.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}

	sh := s.db.shardFor(submission.AssignmentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	parent, ok := sh.assignments[submission.AssignmentID]
	if !ok {
		return repository.ErrMissingReference
	}
	if parent.Status != models.AssignmentStatusPublished || !parent.AcceptsSubmissionsAt(submission.SubmittedAt) {
		return repository.ErrAssignmentClosed
	}
	key := pairKey{assignmentID: submission.AssignmentID, studentID: submission.StudentID}
	if _, taken := sh.byPair[key]; taken {
		return repository.ErrDuplicateSubmission
	}
	sh.submissions[submission.ID] = cloneSubmission(submission)
	sh.byPair[key] = submission.ID
	s.db.owners.Store(submission.ID, submission.AssignmentID)
	return nil
}

// GetByID returns a copy of the stored submission.
func (s *SubmissionStore) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.db.shardOfSubmission(id)
	if sh == nil {
		return nil, sql.ErrNoRows
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	stored, ok := sh.submissions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneSubmission(stored), nil
}

// FindByAssignmentAndStudent looks a submission up through the unique index.
func (s *SubmissionStore) FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.db.shardFor(assignmentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	id, ok := sh.byPair[pairKey{assignmentID: assignmentID, studentID: studentID}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneSubmission(sh.submissions[id]), nil
}

// ListByStudent returns a student's submissions newest first with assignment summaries.
func (s *SubmissionStore) ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionWithAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]dto.SubmissionWithAssignment, 0)
	s.db.each(func(sh *shard) {
		for _, sub := range sh.submissions {
			if sub.StudentID != studentID {
				continue
			}
			parent, ok := sh.assignments[sub.AssignmentID]
			if !ok {
				continue
			}
			items = append(items, dto.SubmissionWithAssignment{
				Submission: *cloneSubmission(sub),
				Assignment: dto.SummaryOf(parent),
			})
		}
	})
	sort.Slice(items, func(i, j int) bool {
		return newerSubmission(&items[i].Submission, &items[j].Submission)
	})
	return items, nil
}

// ListRefsByStudent returns the (submission, assignment) ids of a student.
func (s *SubmissionStore) ListRefsByStudent(ctx context.Context, studentID string) ([]repository.SubmissionRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refs := make([]repository.SubmissionRef, 0)
	s.db.each(func(sh *shard) {
		for key, id := range sh.byPair {
			if key.studentID == studentID {
				refs = append(refs, repository.SubmissionRef{ID: id, AssignmentID: key.assignmentID})
			}
		}
	})
	return refs, nil
}

// ListByAssignment returns an assignment's submissions newest first.
func (s *SubmissionStore) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.db.shardFor(assignmentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	items := make([]models.Submission, 0)
	for _, sub := range sh.submissions {
		if sub.AssignmentID == assignmentID {
			items = append(items, *cloneSubmission(sub))
		}
	}
	sort.Slice(items, func(i, j int) bool { return newerSubmission(&items[i], &items[j]) })
	return items, nil
}

// UpdateReview writes the review fields present in params.
func (s *SubmissionStore) UpdateReview(ctx context.Context, params repository.ReviewParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params.Reviewed == nil && params.Feedback == nil {
		return nil
	}
	sh := s.db.shardOfSubmission(params.ID)
	if sh == nil {
		return sql.ErrNoRows
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	stored, ok := sh.submissions[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	next := cloneSubmission(stored)
	if params.Reviewed != nil {
		next.Reviewed = *params.Reviewed
		next.ReviewedAt = nil
		if params.ReviewedAt != nil {
			t := *params.ReviewedAt
			next.ReviewedAt = &t
		}
	}
	if params.Feedback != nil {
		f := *params.Feedback
		next.Feedback = &f
	}
	sh.submissions[params.ID] = next
	return nil
}

func newerSubmission(a, b *models.Submission) bool {
	if a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.ID > b.ID
	}
	return a.SubmittedAt.After(b.SubmittedAt)
}
