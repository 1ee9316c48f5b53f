package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
)

// AssignmentStore keeps assignments in memory.
type AssignmentStore struct {
	db *DB
}

// Create inserts a new assignment.
func (s *AssignmentStore) Create(ctx context.Context, assignment *models.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

	sh := s.db.shardFor(assignment.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.assignments[assignment.ID]; exists {
		return fmt.Errorf("create assignment: duplicate id %s", assignment.ID)
	}
	sh.assignments[assignment.ID] = cloneAssignment(assignment)
	return nil
}

// GetByID returns a copy of the stored assignment.
func (s *AssignmentStore) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.db.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	stored, ok := sh.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneAssignment(stored), nil
}

// Update replaces the stored record when its version still equals
// assignment.Version, then advances the version in place.
func (s *AssignmentStore) Update(ctx context.Context, assignment *models.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.db.shardFor(assignment.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	stored, ok := sh.assignments[assignment.ID]
	if !ok || stored.Version != assignment.Version {
		return repository.ErrStaleRecord
	}
	next := cloneAssignment(assignment)
	next.CreatedBy = stored.CreatedBy
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now().UTC()
	sh.assignments[assignment.ID] = next

	assignment.Version = next.Version
	assignment.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteDraft removes a draft at the expected version together with its
// submissions.
func (s *AssignmentStore) DeleteDraft(ctx context.Context, id string, version int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sh := s.db.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	stored, ok := sh.assignments[id]
	if !ok || stored.Version != version || stored.Status != models.AssignmentStatusDraft {
		return 0, repository.ErrStaleRecord
	}
	var removed int64
	for subID, sub := range sh.submissions {
		if sub.AssignmentID != id {
			continue
		}
		delete(sh.byPair, pairKey{assignmentID: sub.AssignmentID, studentID: sub.StudentID})
		delete(sh.submissions, subID)
		s.db.owners.Delete(subID)
		removed++
	}
	delete(sh.assignments, id)
	return removed, nil
}

// ListByOwner returns the owner's assignments newest first with submission counts.
func (s *AssignmentStore) ListByOwner(ctx context.Context, filter models.AssignmentFilter) ([]dto.TeacherAssignmentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter.CreatedBy == "" {
		return nil, fmt.Errorf("createdBy is required")
	}
	items := make([]dto.TeacherAssignmentItem, 0)
	s.db.each(func(sh *shard) {
		counts := make(map[string]int)
		for _, sub := range sh.submissions {
			counts[sub.AssignmentID]++
		}
		for _, a := range sh.assignments {
			if a.CreatedBy != filter.CreatedBy {
				continue
			}
			if filter.Status != nil && a.Status != *filter.Status {
				continue
			}
			items = append(items, dto.TeacherAssignmentItem{Assignment: *cloneAssignment(a), SubmissionCount: counts[a.ID]})
		}
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// ListPublished returns every published assignment by ascending due date.
func (s *AssignmentStore) ListPublished(ctx context.Context) ([]models.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]models.Assignment, 0)
	s.db.each(func(sh *shard) {
		for _, a := range sh.assignments {
			if a.Status == models.AssignmentStatusPublished {
				items = append(items, *cloneAssignment(a))
			}
		}
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].DueDate.Equal(items[j].DueDate) {
			return items[i].ID < items[j].ID
		}
		return items[i].DueDate.Before(items[j].DueDate)
	})
	return items, nil
}

// Ping reports store availability.
func (s *AssignmentStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
