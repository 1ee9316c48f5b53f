package models

import "time"

// AssignmentStatus captures lifecycle states for an assignment.
type AssignmentStatus string

const (
	AssignmentStatusDraft     AssignmentStatus = "draft"
	AssignmentStatusPublished AssignmentStatus = "published"
	AssignmentStatusCompleted AssignmentStatus = "completed"
)

// Valid reports whether the status is a known lifecycle state.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusDraft, AssignmentStatusPublished, AssignmentStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal step.
// The lifecycle is strictly draft -> published -> completed.
func (s AssignmentStatus) CanTransitionTo(target AssignmentStatus) bool {
	switch s {
	case AssignmentStatusDraft:
		return target == AssignmentStatusPublished
	case AssignmentStatusPublished:
		return target == AssignmentStatusCompleted
	}
	return false
}

// Assignment is a teacher-authored task students submit answers to.
// PublishedAt is set iff Status is published or completed; CompletedAt is set
// iff Status is completed.
type Assignment struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	DueDate     time.Time        `db:"due_date" json:"dueDate"`
	Status      AssignmentStatus `db:"status" json:"status"`
	CreatedBy   string           `db:"created_by" json:"createdBy"`
	PublishedAt *time.Time       `db:"published_at" json:"publishedAt,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	Version     int64            `db:"version" json:"-"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}

// OwnedBy reports whether the principal id created the assignment.
func (a *Assignment) OwnedBy(userID string) bool {
	return a != nil && userID != "" && a.CreatedBy == userID
}

// AcceptsSubmissionsAt reports whether the deadline has not passed at t.
func (a *Assignment) AcceptsSubmissionsAt(t time.Time) bool {
	return !t.After(a.DueDate)
}

// AssignmentFilter constrains assignment listing queries.
type AssignmentFilter struct {
	CreatedBy string
	Status    *AssignmentStatus
}
