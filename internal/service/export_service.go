package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
	"github.com/noah-isme/assignment-portal-api/pkg/export"
)

const (
	exportColumnStudent     = "Student ID"
	exportColumnSubmittedAt = "Submitted At"
	exportColumnReviewed    = "Reviewed"
	exportColumnReviewedAt  = "Reviewed At"
	exportColumnFeedback    = "Feedback"
	exportColumnAnswer      = "Answer"
)

var filenameUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

type rosterSource interface {
	Roster(ctx context.Context, principal *models.Principal, assignmentID string) (*models.Assignment, []models.Submission, error)
}

type renderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders an assignment's submissions as a downloadable roster.
type ExportService struct {
	roster    rosterSource
	renderers map[dto.ExportFormat]renderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService with CSV and PDF renderers.
func NewExportService(roster rosterSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		roster: roster,
		renderers: map[dto.ExportFormat]renderer{
			dto.ExportFormatCSV: export.NewCSVExporter(),
			dto.ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// ExportSubmissions renders the roster of an assignment owned by the principal.
func (s *ExportService) ExportSubmissions(ctx context.Context, principal *models.Principal, assignmentID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	if format == "" {
		format = dto.ExportFormatCSV
	}
	r, ok := s.renderers[format]
	if !ok {
		return nil, validationFailed("format", "format must be csv or pdf")
	}

	assignment, submissions, err := s.roster.Roster(ctx, principal, assignmentID)
	if err != nil {
		return nil, err
	}

	body, err := r.Render(rosterDataset(assignment, submissions))
	if err != nil {
		s.logger.Error("render roster failed", zap.String("assignment_id", assignmentID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportFile{
		Filename:    exportFilename(assignment, r.Extension()),
		ContentType: r.ContentType(),
		Body:        body,
	}, nil
}

func rosterDataset(assignment *models.Assignment, submissions []models.Submission) export.Dataset {
	rows := make([]map[string]string, 0, len(submissions))
	for _, sub := range submissions {
		row := map[string]string{
			exportColumnStudent:     sub.StudentID,
			exportColumnSubmittedAt: sub.SubmittedAt.UTC().Format(time.RFC3339),
			exportColumnReviewed:    strconv.FormatBool(sub.Reviewed),
			exportColumnAnswer:      sub.Answer,
		}
		if sub.ReviewedAt != nil {
			row[exportColumnReviewedAt] = sub.ReviewedAt.UTC().Format(time.RFC3339)
		}
		if sub.Feedback != nil {
			row[exportColumnFeedback] = *sub.Feedback
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Title:   fmt.Sprintf("%s submissions", assignment.Title),
		Headers: []string{exportColumnStudent, exportColumnSubmittedAt, exportColumnReviewed, exportColumnReviewedAt, exportColumnFeedback, exportColumnAnswer},
		Rows:    rows,
	}
}

func exportFilename(assignment *models.Assignment, ext string) string {
	slug := strings.Trim(filenameUnsafe.ReplaceAllString(strings.ToLower(assignment.Title), "-"), "-")
	if slug == "" {
		slug = assignment.ID
	}
	return fmt.Sprintf("%s-submissions.%s", slug, ext)
}
