package dto

import "github.com/noah-isme/assignment-portal-api/internal/models"

// SubmitAssignmentRequest defines the payload for a student answer.
type SubmitAssignmentRequest struct {
	AssignmentID string `json:"assignmentId" validate:"required"`
	Answer       string `json:"answer" validate:"required"`
}

// ReviewSubmissionRequest carries the optional review flag and feedback. A
// request with neither field is a no-op.
type ReviewSubmissionRequest struct {
	Reviewed *bool   `json:"reviewed,omitempty"`
	Feedback *string `json:"feedback,omitempty"`
}

// SubmissionWithAssignment joins a submission with its assignment summary.
type SubmissionWithAssignment struct {
	models.Submission
	Assignment AssignmentSummary `db:"assignment" json:"assignment"`
}

// ExportFormat enumerates roster export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered roster ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
