package models

import "time"

// Submission is a student's single answer to an assignment. At most one
// exists per (AssignmentID, StudentID).
type Submission struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignmentId"`
	StudentID    string     `db:"student_id" json:"studentId"`
	Answer       string     `db:"answer" json:"answer"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submittedAt"`
	Reviewed     bool       `db:"reviewed" json:"reviewed"`
	ReviewedAt   *time.Time `db:"reviewed_at" json:"reviewedAt,omitempty"`
	Feedback     *string    `db:"feedback" json:"feedback,omitempty"`
}
