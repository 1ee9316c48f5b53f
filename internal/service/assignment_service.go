package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
)

// The published list is cached under a key carrying the generation counter.
// Writers bump the counter after committing, so a reader that loaded the
// list before the write can only store it under a generation nobody reads.
const (
	publishedAssignmentsGenerationKey = "assignments:published:gen"
	publishedAssignmentsCachePattern  = "assignments:published:v*"
)

func publishedAssignmentsCacheKey(generation int64) string {
	return fmt.Sprintf("assignments:published:v%d", generation)
}

// AssignmentService owns the assignment lifecycle: draft -> published -> completed.
type AssignmentService struct {
	engine
	assignments AssignmentStore
	submissions SubmissionStore
	validator   *validator.Validate
}

// NewAssignmentService constructs the lifecycle engine.
func NewAssignmentService(assignments AssignmentStore, submissions SubmissionStore, validate *validator.Validate, logger *zap.Logger, opts ...EngineOption) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	return &AssignmentService{
		engine:      newEngine(logger, opts),
		assignments: assignments,
		submissions: submissions,
		validator:   validate,
	}
}

// Create authors a new draft assignment owned by the principal.
func (s *AssignmentService) Create(ctx context.Context, principal *models.Principal, req dto.CreateAssignmentRequest) (*models.Assignment, error) {
	if err := requireTeacher(principal, "create assignments"); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if err := requireText("title", req.Title); err != nil {
		return nil, err
	}
	if err := requireText("description", req.Description); err != nil {
		return nil, err
	}

	now := s.now()
	assignment := &models.Assignment{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate.UTC(),
		Status:      models.AssignmentStatusDraft,
		CreatedBy:   principal.ID,
		CreatedAt:   now,
	}
	if err := s.call(ctx, "assignment.create", func(ctx context.Context) error {
		return s.assignments.Create(ctx, assignment)
	}); err != nil {
		return nil, s.storeFailure(err, "failed to create assignment")
	}

	s.logger.Info("assignment created", zap.String("assignment_id", assignment.ID), zap.String("teacher_id", principal.ID))
	s.emitAudit(principal, models.AuditActionAssignmentCreate, assignment.ID, nil, assignment)
	return assignment, nil
}

// Get returns an assignment. Students see published assignments only;
// teachers see their own in any status.
func (s *AssignmentService) Get(ctx context.Context, principal *models.Principal, id string) (*models.Assignment, error) {
	if err := requireRole(principal); err != nil {
		return nil, err
	}
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsStudent() {
		if assignment.Status != models.AssignmentStatusPublished {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "access denied")
		}
		return assignment, nil
	}
	if err := requireOwner(principal, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Update edits fields and optionally the status of an assignment. A status
// equal to the current one is ignored. The change is all-or-nothing: an
// illegal status change rejects the field edits too.
func (s *AssignmentService) Update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := requireTeacher(principal, "update assignments"); err != nil {
		return nil, err
	}
	if err := s.validateUpdate(req); err != nil {
		return nil, err
	}

	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, assignment); err != nil {
		return nil, err
	}
	if assignment.Status == models.AssignmentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "completed assignments cannot be modified")
	}
	if req.Empty() {
		return assignment, nil
	}

	before := *assignment
	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate.UTC()
	}

	var target *models.AssignmentStatus
	if req.Status != nil && *req.Status != assignment.Status {
		target = req.Status
		if err := s.applyTransition(assignment, *target); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, assignment, target); err != nil {
		return nil, err
	}
	if target != nil {
		s.metrics.RecordTransition(string(before.Status), string(*target))
	}
	if target != nil || before.Status == models.AssignmentStatusPublished {
		s.invalidatePublished(ctx)
	}

	s.logger.Info("assignment updated",
		zap.String("assignment_id", assignment.ID),
		zap.String("status", string(assignment.Status)),
	)
	s.emitAudit(principal, models.AuditActionAssignmentUpdate, assignment.ID, &before, assignment)
	return assignment, nil
}

// TransitionStatus moves an assignment to target. Only draft -> published and
// published -> completed are accepted.
func (s *AssignmentService) TransitionStatus(ctx context.Context, principal *models.Principal, id string, target models.AssignmentStatus) (*models.Assignment, error) {
	if err := requireTeacher(principal, "change assignment status"); err != nil {
		return nil, err
	}
	if err := parseStatus(target); err != nil {
		return nil, err
	}

	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, assignment); err != nil {
		return nil, err
	}

	before := *assignment
	if err := s.applyTransition(assignment, target); err != nil {
		return nil, err
	}
	if err := s.save(ctx, assignment, &target); err != nil {
		return nil, err
	}
	s.invalidatePublished(ctx)
	s.metrics.RecordTransition(string(before.Status), string(target))

	s.logger.Info("assignment status changed",
		zap.String("assignment_id", assignment.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(target)),
	)
	s.emitAudit(principal, models.AuditActionAssignmentTransition, assignment.ID, &before, assignment)
	return assignment, nil
}

// Delete removes a draft assignment together with any submissions referencing it.
func (s *AssignmentService) Delete(ctx context.Context, principal *models.Principal, id string) error {
	if err := requireTeacher(principal, "delete assignments"); err != nil {
		return err
	}
	assignment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, assignment); err != nil {
		return err
	}
	if assignment.Status != models.AssignmentStatusDraft {
		return appErrors.Clone(appErrors.ErrInvalidState, "only draft assignments can be deleted")
	}

	var removed int64
	err = s.call(ctx, "assignment.delete", func(ctx context.Context) error {
		var callErr error
		removed, callErr = s.assignments.DeleteDraft(ctx, assignment.ID, assignment.Version)
		return callErr
	})
	if err != nil {
		if !errors.Is(err, repository.ErrStaleRecord) {
			return s.storeFailure(err, "failed to delete assignment")
		}
		current, loadErr := s.load(ctx, id)
		if loadErr != nil {
			return loadErr
		}
		if current.Status != models.AssignmentStatusDraft {
			return appErrors.Clone(appErrors.ErrInvalidState, "only draft assignments can be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "assignment modified concurrently")
	}

	s.logger.Info("assignment deleted", zap.String("assignment_id", id), zap.Int64("submissions_removed", removed))
	s.emitAudit(principal, models.AuditActionAssignmentDelete, id, assignment, nil)
	return nil
}

// ListForTeacher returns the principal's own assignments, newest first, with
// submission counts.
func (s *AssignmentService) ListForTeacher(ctx context.Context, principal *models.Principal, query dto.TeacherAssignmentQuery) ([]dto.TeacherAssignmentItem, error) {
	if err := requireTeacher(principal, "list their assignments"); err != nil {
		return nil, err
	}
	if query.Status != nil {
		if err := parseStatus(*query.Status); err != nil {
			return nil, err
		}
	}

	var items []dto.TeacherAssignmentItem
	err := s.call(ctx, "assignment.list_owner", func(ctx context.Context) error {
		var callErr error
		items, callErr = s.assignments.ListByOwner(ctx, models.AssignmentFilter{CreatedBy: principal.ID, Status: query.Status})
		return callErr
	})
	if err != nil {
		return nil, s.storeFailure(err, "failed to list assignments")
	}
	if items == nil {
		items = []dto.TeacherAssignmentItem{}
	}
	return items, nil
}

// ListForStudent returns every published assignment by ascending due date,
// annotated with the student's submission state.
func (s *AssignmentService) ListForStudent(ctx context.Context, principal *models.Principal) ([]dto.StudentAssignmentItem, error) {
	if err := requireStudent(principal, "list published assignments"); err != nil {
		return nil, err
	}

	published, err := s.publishedAssignments(ctx)
	if err != nil {
		return nil, err
	}

	var refs []repository.SubmissionRef
	err = s.call(ctx, "submission.list_refs", func(ctx context.Context) error {
		var callErr error
		refs, callErr = s.submissions.ListRefsByStudent(ctx, principal.ID)
		return callErr
	})
	if err != nil {
		return nil, s.storeFailure(err, "failed to load submissions")
	}
	submitted := make(map[string]string, len(refs))
	for _, ref := range refs {
		submitted[ref.AssignmentID] = ref.ID
	}

	now := s.now()
	items := make([]dto.StudentAssignmentItem, 0, len(published))
	for i := range published {
		a := published[i]
		item := dto.StudentAssignmentItem{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			DueDate:     a.DueDate,
			Status:      a.Status,
			CreatedAt:   a.CreatedAt,
			CanSubmit:   a.DueDate.After(now),
		}
		if subID, ok := submitted[a.ID]; ok {
			item.HasSubmitted = true
			item.SubmissionID = &subID
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *AssignmentService) publishedAssignments(ctx context.Context) ([]models.Assignment, error) {
	generation, cacheable := s.cache.Generation(ctx, publishedAssignmentsGenerationKey)
	if cacheable {
		var cached []models.Assignment
		if hit, err := s.cache.Get(ctx, publishedAssignmentsCacheKey(generation), &cached); err == nil && hit {
			return cached, nil
		}
	}

	var published []models.Assignment
	err := s.call(ctx, "assignment.list_published", func(ctx context.Context) error {
		var callErr error
		published, callErr = s.assignments.ListPublished(ctx)
		return callErr
	})
	if err != nil {
		return nil, s.storeFailure(err, "failed to list published assignments")
	}
	if published == nil {
		published = []models.Assignment{}
	}
	if cacheable {
		_ = s.cache.Set(ctx, publishedAssignmentsCacheKey(generation), published, 0)
	}
	return published, nil
}

// invalidatePublished runs after a committed write that changes which
// assignments are published or how they read.
func (s *AssignmentService) invalidatePublished(ctx context.Context) {
	next, err := s.cache.Bump(ctx, publishedAssignmentsGenerationKey)
	if err != nil {
		_ = s.cache.Invalidate(ctx, publishedAssignmentsCachePattern)
		return
	}
	_ = s.cache.Delete(ctx, publishedAssignmentsCacheKey(next-1))
}

func (s *AssignmentService) validateUpdate(req dto.UpdateAssignmentRequest) error {
	if req.Title != nil {
		if err := requireText("title", *req.Title); err != nil {
			return err
		}
	}
	if req.Description != nil {
		if err := requireText("description", *req.Description); err != nil {
			return err
		}
	}
	if req.DueDate != nil && req.DueDate.IsZero() {
		return validationFailed("dueDate", "dueDate must be a valid timestamp")
	}
	if req.Status != nil {
		return parseStatus(*req.Status)
	}
	return nil
}

// applyTransition mutates assignment in place for a legal transition.
func (s *AssignmentService) applyTransition(assignment *models.Assignment, target models.AssignmentStatus) error {
	from := assignment.Status
	if !from.CanTransitionTo(target) {
		return appErrors.InvalidTransition(string(from), string(target))
	}
	now := s.now()
	switch target {
	case models.AssignmentStatusPublished:
		assignment.PublishedAt = &now
	case models.AssignmentStatusCompleted:
		assignment.CompletedAt = &now
	}
	assignment.Status = target
	return nil
}

func (s *AssignmentService) load(ctx context.Context, id string) (*models.Assignment, error) {
	if id == "" {
		return nil, validationFailed("id", "assignment id is required")
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

// save persists assignment with a version check. On a lost race the record
// is reloaded once to report the winner's state; the call is never retried.
func (s *AssignmentService) save(ctx context.Context, assignment *models.Assignment, target *models.AssignmentStatus) error {
	err := s.call(ctx, "assignment.update", func(ctx context.Context) error {
		return s.assignments.Update(ctx, assignment)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrStaleRecord) {
		return s.storeFailure(err, "failed to update assignment")
	}

	current, loadErr := s.load(ctx, assignment.ID)
	if loadErr != nil {
		return loadErr
	}
	s.logger.Info("assignment update lost race",
		zap.String("assignment_id", assignment.ID),
		zap.String("current_status", string(current.Status)),
	)
	if target != nil && !current.Status.CanTransitionTo(*target) {
		return appErrors.InvalidTransition(string(current.Status), string(*target))
	}
	if current.Status == models.AssignmentStatusCompleted {
		return appErrors.Clone(appErrors.ErrForbidden, "completed assignments cannot be modified")
	}
	return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "assignment modified concurrently")
}

func (s *AssignmentService) emitAudit(principal *models.Principal, action, resourceID string, before, after *models.Assignment) {
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
		Resource:   models.AuditResourceAssignment,
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "assignment-service",
	})
}
