package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditConfig tunes the background audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// AuditService writes audit entries off the request path. Entries that
// cannot be queued or written are logged and dropped; they never fail the
// operation that produced them.
type AuditService struct {
	repo    auditLogger
	queue   *jobs.Queue
	logger  *zap.Logger
	timeout time.Duration
}

// NewAuditService builds the service. A nil repo logs entries instead of
// storing them.
func NewAuditService(repo auditLogger, logger *zap.Logger, cfg AuditConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	svc := &AuditService{repo: repo, logger: logger, timeout: cfg.Timeout}
	svc.queue = jobs.NewQueue("audit", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop flushes buffered entries and stops the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record queues an entry without blocking.
func (s *AuditService) Record(log *models.AuditLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: log.ID, Type: auditJobType, Payload: log}); err != nil {
		s.logger.Warn("audit entry dropped",
			zap.String("action", log.Action),
			zap.String("resource", log.Resource),
			zap.Error(err),
		)
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload", zap.String("job_id", job.ID))
		return nil
	}
	if s.repo == nil {
		s.logger.Debug("audit", zap.String("action", log.Action), zap.String("resource", log.Resource), zap.Stringp("resource_id", log.ResourceID))
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		return fmt.Errorf("store audit log %s: %w", log.ID, err)
	}
	return nil
}
