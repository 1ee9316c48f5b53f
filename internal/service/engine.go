package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
)

// AssignmentStore persists assignments. Update and DeleteDraft compare the
// stored version with the one supplied and fail with
// repository.ErrStaleRecord on mismatch.
type AssignmentStore interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	Update(ctx context.Context, assignment *models.Assignment) error
	DeleteDraft(ctx context.Context, id string, version int64) (int64, error)
	ListByOwner(ctx context.Context, filter models.AssignmentFilter) ([]dto.TeacherAssignmentItem, error)
	ListPublished(ctx context.Context) ([]models.Assignment, error)
}

// SubmissionStore persists submissions. Create must enforce uniqueness of
// (assignment, student) atomically and report violations as
// repository.ErrDuplicateSubmission.
type SubmissionStore interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionWithAssignment, error)
	ListRefsByStudent(ctx context.Context, studentID string) ([]repository.SubmissionRef, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
	UpdateReview(ctx context.Context, params repository.ReviewParams) error
}

type auditRecorder interface {
	Record(log *models.AuditLog)
}

// Limits bounds free-text input accepted by the engines, in runes.
type Limits struct {
	AnswerMaxLength   int
	FeedbackMaxLength int
}

const (
	defaultAnswerMaxLength   = 5000
	defaultFeedbackMaxLength = 1000
)

// engine carries the collaborators shared by the lifecycle and submission engines.
type engine struct {
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
	metrics      *MetricsService
	cache        *CacheService
	audit        auditRecorder
	limits       Limits
}

// EngineOption configures the assignment and submission engines.
type EngineOption func(*engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *engine) {
		if now != nil {
			e.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithStoreTimeout bounds each store call when the caller's context carries
// no deadline of its own.
func WithStoreTimeout(timeout time.Duration) EngineOption {
	return func(e *engine) {
		e.storeTimeout = timeout
	}
}

// WithMetrics records store latency and domain counters.
func WithMetrics(metrics *MetricsService) EngineOption {
	return func(e *engine) {
		e.metrics = metrics
	}
}

// WithCache enables caching of the published assignment list.
func WithCache(cache *CacheService) EngineOption {
	return func(e *engine) {
		e.cache = cache
	}
}

// WithAudit sends an audit entry for every successful mutation.
func WithAudit(audit auditRecorder) EngineOption {
	return func(e *engine) {
		e.audit = audit
	}
}

// WithLimits overrides the free-text bounds. Non-positive values keep the defaults.
func WithLimits(limits Limits) EngineOption {
	return func(e *engine) {
		if limits.AnswerMaxLength > 0 {
			e.limits.AnswerMaxLength = limits.AnswerMaxLength
		}
		if limits.FeedbackMaxLength > 0 {
			e.limits.FeedbackMaxLength = limits.FeedbackMaxLength
		}
	}
}

func newEngine(logger *zap.Logger, opts []EngineOption) engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := engine{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		limits: Limits{AnswerMaxLength: defaultAnswerMaxLength, FeedbackMaxLength: defaultFeedbackMaxLength},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&e)
		}
	}
	return e
}

// call runs fn against the store under the configured timeout and records
// its latency under label.
func (e *engine) call(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	if e.storeTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.storeTimeout)
			defer cancel()
		}
	}
	start := time.Now()
	err := fn(ctx)
	e.metrics.ObserveStoreCall(label, time.Since(start), err)
	return err
}

func (e *engine) record(log *models.AuditLog) {
	if e.audit == nil {
		return
	}
	log.CreatedAt = e.now()
	e.audit.Record(log)
}

// storeFailure converts an unexpected store error into Transient when it was
// a timeout or availability problem and Internal otherwise.
func (e *engine) storeFailure(err error, message string) error {
	if repository.IsTransient(err) {
		e.logger.Warn(message, zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, message)
	}
	e.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func requireRole(principal *models.Principal) error {
	if principal.IsTeacher() || principal.IsStudent() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "a teacher or student principal is required")
}

func requireTeacher(principal *models.Principal, action string) error {
	if principal.IsTeacher() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only teachers can "+action)
}

func requireStudent(principal *models.Principal, action string) error {
	if principal.IsStudent() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only students can "+action)
}

// requireOwner checks that the principal created the assignment.
func requireOwner(principal *models.Principal, assignment *models.Assignment) error {
	if principal.IsTeacher() && assignment.OwnedBy(principal.ID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "access denied")
}

func validationFailed(field, message string) error {
	err := appErrors.Clone(appErrors.ErrValidation, message)
	err.Details = map[string]interface{}{"field": field}
	return err
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationFailed(field, field+" is required")
	}
	return nil
}

func maxRunes(field, value string, limit int) error {
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		return validationFailed(field, field+" exceeds maximum length")
	}
	return nil
}

func parseStatus(raw models.AssignmentStatus) error {
	if !raw.Valid() {
		return validationFailed("status", "status must be one of draft, published, completed")
	}
	return nil
}
