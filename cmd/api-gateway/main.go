package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/assignment-portal-api/api/swagger"
	"github.com/noah-isme/assignment-portal-api/internal/handler"
	internalmiddleware "github.com/noah-isme/assignment-portal-api/internal/middleware"
	"github.com/noah-isme/assignment-portal-api/internal/repository"
	"github.com/noah-isme/assignment-portal-api/internal/repository/memory"
	"github.com/noah-isme/assignment-portal-api/internal/service"
	"github.com/noah-isme/assignment-portal-api/pkg/cache"
	"github.com/noah-isme/assignment-portal-api/pkg/config"
	"github.com/noah-isme/assignment-portal-api/pkg/database"
	"github.com/noah-isme/assignment-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/assignment-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/assignment-portal-api/pkg/middleware/requestid"
)

// @title Assignment Portal API
// @version 1.0.0
// @description Teachers author and review assignments; students submit answers
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type stores struct {
	assignments service.AssignmentStore
	submissions service.SubmissionStore
	audit       *repository.AuditRepository
	pinger      handler.Pinger
	close       func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to open store", "driver", cfg.Store.Driver, "error", err)
	}
	defer st.close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(nil, "portal")
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(client, "portal")
		}
	}
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	auditCfg := service.AuditConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
	}
	auditSvc := service.NewAuditService(nil, logr, auditCfg)
	if st.audit != nil {
		auditSvc = service.NewAuditService(st.audit, logr, auditCfg)
	}
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	validate := validator.New()
	opts := []service.EngineOption{
		service.WithStoreTimeout(cfg.Store.Timeout),
		service.WithMetrics(metricsSvc),
		service.WithCache(cacheSvc),
		service.WithAudit(auditSvc),
		service.WithLimits(service.Limits{
			AnswerMaxLength:   cfg.Assignments.AnswerMaxLength,
			FeedbackMaxLength: cfg.Assignments.FeedbackMaxLength,
		}),
	}
	assignmentSvc := service.NewAssignmentService(st.assignments, st.submissions, validate, logr, opts...)
	submissionSvc := service.NewSubmissionService(st.assignments, st.submissions, validate, logr, opts...)
	exportSvc := service.NewExportService(submissionSvc, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{"store": st.pinger})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	handlers := handler.Handlers{
		Assignments: handler.NewAssignmentHandler(assignmentSvc, submissionSvc, exportSvc),
		Submissions: handler.NewSubmissionHandler(submissionSvc),
	}
	if cfg.Env != config.EnvProduction {
		handlers.Auth = handler.NewAuthHandler(authSvc)
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	handler.Register(r.Group(cfg.APIPrefix), handlers, internalmiddleware.JWT(authSvc))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		db := memory.New()
		logr.Sugar().Warnw("using in-memory store, data is lost on restart")
		return &stores{
			assignments: db.Assignments(),
			submissions: db.Submissions(),
			pinger:      db,
			close:       func() error { return nil },
		}, nil
	case config.StoreDriverPostgres, "":
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db, repository.Schema); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgresStores(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func postgresStores(db *sqlx.DB) *stores {
	assignments := repository.NewAssignmentRepository(db)
	return &stores{
		assignments: assignments,
		submissions: repository.NewSubmissionRepository(db),
		audit:       repository.NewAuditRepository(db),
		pinger:      assignments,
		close:       db.Close,
	}
}
