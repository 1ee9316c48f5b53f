package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
)

// Submission outcomes reported to metrics.
const (
	submissionAccepted         = "accepted"
	submissionAlreadySubmitted = "already_submitted"
	submissionDeadlinePassed   = "deadline_passed"
	submissionNotPublished     = "not_published"
)

// SubmissionService admits student answers and runs the review workflow.
type SubmissionService struct {
	engine
	assignments AssignmentStore
	submissions SubmissionStore
	validator   *validator.Validate
}

// NewSubmissionService constructs the submission engine.
func NewSubmissionService(assignments AssignmentStore, submissions SubmissionStore, validate *validator.Validate, logger *zap.Logger, opts ...EngineOption) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	return &SubmissionService{
		engine:      newEngine(logger, opts),
		assignments: assignments,
		submissions: submissions,
		validator:   validate,
	}
}

// Submit records the student's single answer to a published assignment
// whose deadline has not passed. Concurrent submits for the same pair are
// settled by the store's unique constraint; every loser gets AlreadySubmitted.
func (s *SubmissionService) Submit(ctx context.Context, principal *models.Principal, req dto.SubmitAssignmentRequest) (*models.Submission, error) {
	if err := requireStudent(principal, "submit answers"); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if err := requireText("answer", req.Answer); err != nil {
		return nil, err
	}
	if err := maxRunes("answer", req.Answer, s.limits.AnswerMaxLength); err != nil {
		return nil, err
	}

	assignment, err := s.loadAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.rejectClosed(assignment, now); err != nil {
		return nil, err
	}

	err = s.call(ctx, "submission.find_pair", func(ctx context.Context) error {
		_, callErr := s.submissions.FindByAssignmentAndStudent(ctx, assignment.ID, principal.ID)
		return callErr
	})
	switch {
	case err == nil:
		s.metrics.RecordSubmission(submissionAlreadySubmitted)
		return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "already submitted to this assignment")
	case !isNotFound(err):
		return nil, s.storeFailure(err, "failed to check existing submission")
	}

	submission := &models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    principal.ID,
		Answer:       req.Answer,
		SubmittedAt:  now,
	}
	err = s.call(ctx, "submission.create", func(ctx context.Context) error {
		return s.submissions.Create(ctx, submission)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateSubmission):
			s.metrics.RecordSubmission(submissionAlreadySubmitted)
			return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "already submitted to this assignment")
		case errors.Is(err, repository.ErrMissingReference), errors.Is(err, repository.ErrAssignmentClosed):
			return nil, s.explainClosed(ctx, assignment.ID, now)
		}
		return nil, s.storeFailure(err, "failed to create submission")
	}

	s.metrics.RecordSubmission(submissionAccepted)
	s.logger.Info("submission accepted",
		zap.String("submission_id", submission.ID),
		zap.String("assignment_id", assignment.ID),
		zap.String("student_id", principal.ID),
	)
	s.emitAudit(principal, models.AuditActionSubmissionCreate, submission.ID, nil, submission)
	return submission, nil
}

// Review sets the reviewed flag and feedback of a submission. Only the
// teacher owning the parent assignment may review; a request with neither
// field returns the submission unchanged.
func (s *SubmissionService) Review(ctx context.Context, principal *models.Principal, id string, req dto.ReviewSubmissionRequest) (*models.Submission, error) {
	if err := requireTeacher(principal, "review submissions"); err != nil {
		return nil, err
	}
	var feedback *string
	if req.Feedback != nil {
		trimmed := strings.TrimSpace(*req.Feedback)
		if err := maxRunes("feedback", trimmed, s.limits.FeedbackMaxLength); err != nil {
			return nil, err
		}
		feedback = &trimmed
	}

	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	assignment, err := s.loadAssignment(ctx, submission.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, assignment); err != nil {
		return nil, err
	}
	if req.Reviewed == nil && feedback == nil {
		return submission, nil
	}

	before := *submission
	params := repository.ReviewParams{ID: submission.ID, Feedback: feedback}
	if req.Reviewed != nil {
		params.Reviewed = req.Reviewed
		switch {
		case !*req.Reviewed:
			params.ReviewedAt = nil
		case submission.Reviewed && submission.ReviewedAt != nil:
			params.ReviewedAt = submission.ReviewedAt
		default:
			now := s.now()
			params.ReviewedAt = &now
		}
	}

	err = s.call(ctx, "submission.review", func(ctx context.Context) error {
		return s.submissions.UpdateReview(ctx, params)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, s.storeFailure(err, "failed to review submission")
	}

	if params.Reviewed != nil {
		submission.Reviewed = *params.Reviewed
		submission.ReviewedAt = params.ReviewedAt
	}
	if feedback != nil {
		submission.Feedback = feedback
	}

	s.logger.Info("submission reviewed",
		zap.String("submission_id", submission.ID),
		zap.Bool("reviewed", submission.Reviewed),
	)
	s.emitAudit(principal, models.AuditActionSubmissionReview, submission.ID, &before, submission)
	return submission, nil
}

// Get returns a submission with its assignment summary to the student who
// wrote it or the teacher owning the assignment.
func (s *SubmissionService) Get(ctx context.Context, principal *models.Principal, id string) (*dto.SubmissionWithAssignment, error) {
	if err := requireRole(principal); err != nil {
		return nil, err
	}
	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsStudent() && submission.StudentID != principal.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "access denied")
	}

	assignment, err := s.loadAssignment(ctx, submission.AssignmentID)
	if err != nil {
		if principal.IsTeacher() && errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "access denied")
		}
		return nil, err
	}
	if principal.IsTeacher() {
		if err := requireOwner(principal, assignment); err != nil {
			return nil, err
		}
	}
	return &dto.SubmissionWithAssignment{Submission: *submission, Assignment: dto.SummaryOf(assignment)}, nil
}

// ListMine returns the student's submissions, newest first.
func (s *SubmissionService) ListMine(ctx context.Context, principal *models.Principal) ([]dto.SubmissionWithAssignment, error) {
	if err := requireStudent(principal, "list their submissions"); err != nil {
		return nil, err
	}
	var items []dto.SubmissionWithAssignment
	err := s.call(ctx, "submission.list_student", func(ctx context.Context) error {
		var callErr error
		items, callErr = s.submissions.ListByStudent(ctx, principal.ID)
		return callErr
	})
	if err != nil {
		return nil, s.storeFailure(err, "failed to list submissions")
	}
	if items == nil {
		items = []dto.SubmissionWithAssignment{}
	}
	return items, nil
}

// ListForAssignment returns an owned assignment's submissions, newest first.
func (s *SubmissionService) ListForAssignment(ctx context.Context, principal *models.Principal, assignmentID string) ([]models.Submission, error) {
	_, items, err := s.Roster(ctx, principal, assignmentID)
	return items, err
}

// Roster returns an owned assignment together with its submissions.
func (s *SubmissionService) Roster(ctx context.Context, principal *models.Principal, assignmentID string) (*models.Assignment, []models.Submission, error) {
	if err := requireTeacher(principal, "list assignment submissions"); err != nil {
		return nil, nil, err
	}
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireOwner(principal, assignment); err != nil {
		return nil, nil, err
	}

	var items []models.Submission
	err = s.call(ctx, "submission.list_assignment", func(ctx context.Context) error {
		var callErr error
		items, callErr = s.submissions.ListByAssignment(ctx, assignment.ID)
		return callErr
	})
	if err != nil {
		return nil, nil, s.storeFailure(err, "failed to list submissions")
	}
	if items == nil {
		items = []models.Submission{}
	}
	return assignment, items, nil
}

// rejectClosed maps an assignment that does not accept submissions at now to
// the matching domain error.
func (s *SubmissionService) rejectClosed(assignment *models.Assignment, now time.Time) error {
	if assignment.Status != models.AssignmentStatusPublished {
		s.metrics.RecordSubmission(submissionNotPublished)
		return appErrors.Clone(appErrors.ErrInvalidState, "assignment is not published")
	}
	if !assignment.AcceptsSubmissionsAt(now) {
		s.metrics.RecordSubmission(submissionDeadlinePassed)
		return appErrors.Clone(appErrors.ErrDeadlinePassed, "submission deadline has passed")
	}
	return nil
}

// explainClosed runs after the store refused an insert because the
// assignment changed after it was loaded. The fresh row says why.
func (s *SubmissionService) explainClosed(ctx context.Context, assignmentID string, now time.Time) error {
	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if err := s.rejectClosed(current, now); err != nil {
		return err
	}
	// The row accepts submissions again, so the refusal raced a transition
	// that has since been superseded. A retry will see the current state.
	return appErrors.Clone(appErrors.ErrTransient, "assignment changed while submitting")
}

func (s *SubmissionService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	if id == "" {
		return nil, validationFailed("assignmentId", "assignment id is required")
	}
	var assignment *models.Assignment
	err := s.call(ctx, "assignment.get", func(ctx context.Context) error {
		var callErr error
		assignment, callErr = s.assignments.GetByID(ctx, id)
		return callErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, s.storeFailure(err, "failed to load assignment")
	}
	return assignment, nil
}

func (s *SubmissionService) loadSubmission(ctx context.Context, id string) (*models.Submission, error) {
	if id == "" {
		return nil, validationFailed("id", "submission id is required")
	}
	var submission *models.Submission
	err := s.call(ctx, "submission.get", func(ctx context.Context) error {
		var callErr error
		submission, callErr = s.submissions.GetByID(ctx, id)
		return callErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, s.storeFailure(err, "failed to load submission")
	}
	return submission, nil
}

func (s *SubmissionService) emitAudit(principal *models.Principal, action, resourceID string, before, after *models.Submission) {
	if s.audit == nil {
		return
	}
	var oldValues, newValues []byte
	if before != nil {
		oldValues, _ = json.Marshal(before)
	}
	if after != nil {
		newValues, _ = json.Marshal(after)
	}
	userID := principal.ID
	s.record(&models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   models.AuditResourceSubmission,
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "submission-service",
	})
}
