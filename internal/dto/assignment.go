package dto

import (
	"time"

	"github.com/noah-isme/assignment-portal-api/internal/models"
)

// CreateAssignmentRequest defines the payload for authoring a new assignment.
type CreateAssignmentRequest struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description" validate:"required"`
	DueDate     time.Time `json:"dueDate" validate:"required"`
}

// UpdateAssignmentRequest carries optional field edits. A nil field is left
// untouched; Status, when present and different from the current one, is
// applied with the lifecycle rules and the whole update is rejected if the
// change is illegal.
type UpdateAssignmentRequest struct {
	Title       *string                  `json:"title,omitempty"`
	Description *string                  `json:"description,omitempty"`
	DueDate     *time.Time               `json:"dueDate,omitempty"`
	Status      *models.AssignmentStatus `json:"status,omitempty"`
}

// Empty reports whether no field was supplied.
func (r UpdateAssignmentRequest) Empty() bool {
	return r.Title == nil && r.Description == nil && r.DueDate == nil && r.Status == nil
}

// TransitionAssignmentRequest moves an assignment to the target status.
type TransitionAssignmentRequest struct {
	Status models.AssignmentStatus `json:"status" validate:"required"`
}

// TeacherAssignmentQuery filters the teacher's own assignments.
type TeacherAssignmentQuery struct {
	Status *models.AssignmentStatus
}

// TeacherAssignmentItem annotates an owned assignment with its submission count.
type TeacherAssignmentItem struct {
	models.Assignment
	SubmissionCount int `db:"submission_count" json:"submissionCount"`
}

// StudentAssignmentItem is a published assignment as seen by one student.
type StudentAssignmentItem struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	DueDate      time.Time               `json:"dueDate"`
	Status       models.AssignmentStatus `json:"status"`
	CreatedAt    time.Time               `json:"createdAt"`
	HasSubmitted bool                    `json:"hasSubmitted"`
	SubmissionID *string                 `json:"submissionId,omitempty"`
	CanSubmit    bool                    `json:"canSubmit"`
}

// AssignmentSummary is the subset of assignment fields joined onto submissions.
type AssignmentSummary struct {
	ID          string                  `db:"id" json:"id"`
	Title       string                  `db:"title" json:"title"`
	Description string                  `db:"description" json:"description"`
	DueDate     time.Time               `db:"due_date" json:"dueDate"`
	Status      models.AssignmentStatus `db:"status" json:"status"`
	CreatedBy   string                  `db:"created_by" json:"createdBy"`
}

// SummaryOf projects an assignment to its summary.
func SummaryOf(a *models.Assignment) AssignmentSummary {
	if a == nil {
		return AssignmentSummary{}
	}
	return AssignmentSummary{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		DueDate:     a.DueDate,
		Status:      a.Status,
		CreatedBy:   a.CreatedBy,
	}
}
