package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/campusflow/od-approval-api/api/swagger"
	"github.com/campusflow/od-approval-api/internal/handler"
	"github.com/campusflow/od-approval-api/internal/middleware"
	"github.com/campusflow/od-approval-api/internal/models"
	"github.com/campusflow/od-approval-api/internal/repository"
	"github.com/campusflow/od-approval-api/internal/service"
	"github.com/campusflow/od-approval-api/pkg/cache"
	"github.com/campusflow/od-approval-api/pkg/config"
	"github.com/campusflow/od-approval-api/pkg/database"
	"github.com/campusflow/od-approval-api/pkg/export"
	"github.com/campusflow/od-approval-api/pkg/jobs"
	"github.com/campusflow/od-approval-api/pkg/logger"
	corsmiddleware "github.com/campusflow/od-approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusflow/od-approval-api/pkg/middleware/requestid"
	"github.com/campusflow/od-approval-api/pkg/storage"

	"github.com/go-playground/validator/v10"
)

// @title CampusFlow OD Approval API
// @version 1.0.0
// @description Multi-tenant OD/leave request management with sequential multi-group approval chains.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	flowRepo := repository.NewFlowRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var viewCache *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		viewCache = repository.NewCacheRepository(redisClient, logr)
		defer viewCache.Close()
	}

	// Services.
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		AccessTTL:  cfg.JWT.Expiration,
		RefreshTTL: cfg.JWT.RefreshExpiration,
		Issuer:     "od-approval-api",
	})

	notificationSvc := service.NewNotificationService(notificationRepo, nil, jobs.QueueConfig{
		Workers:    cfg.Notifications.WorkerConcurrency,
		MaxRetries: cfg.Notifications.WorkerRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, metricsSvc, logr)
	if cfg.Notifications.Enabled {
		notificationSvc.Start(context.Background())
		defer notificationSvc.Stop()
		metricsSvc.RegisterQueueDepth("notifications", notificationSvc.QueueDepth)
	}

	querySvc := newQueryService(requestRepo, groupRepo, viewCache, cfg, metricsSvc, logr)

	workflowOpts := []service.WorkflowServiceOption{service.WithWorkflowMetrics(metricsSvc)}
	if viewCache != nil {
		workflowOpts = append(workflowOpts, service.WithApproverCache(querySvc))
	}
	workflowSvc := service.NewWorkflowService(requestRepo, flowRepo, groupRepo, notificationSvc,
		cfg.Workflow.DefaultFlowName, logr, workflowOpts...)

	flowSvc := service.NewFlowService(flowRepo, logr)
	groupSvc := service.NewGroupService(groupRepo, logr)

	proofStore, err := storage.NewLocalStorage(cfg.Proofs.StorageDir)
	if err != nil {
		logr.Fatal("failed to init proof storage", zap.Error(err))
	}
	proofSigner := storage.NewSignedURLSigner(cfg.Proofs.SignedURLSecret, cfg.Proofs.SignedURLTTL)
	proofSvc := service.NewProofService(workflowSvc, service.NewLocalProofStorage(proofStore), proofSigner,
		service.ProofConfig{
			MaxFileSizeBytes: cfg.Proofs.MaxFileSizeBytes,
			AllowedMIMEs:     cfg.Proofs.AllowedMIMEs,
		}, logr)

	exportSvc := service.NewExportService(querySvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(workflowSvc, querySvc)
	flowHandler := handler.NewFlowHandler(flowSvc)
	groupHandler := handler.NewGroupHandler(groupSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	proofHandler := handler.NewProofHandler(proofSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	requests := authed.Group("/requests")
	{
		requests.POST("", middleware.RequireRoles(models.RoleStudent), requestHandler.Create)
		requests.GET("/mine", middleware.RequireRoles(models.RoleStudent), requestHandler.ListMine)
		requests.GET("/actionable", middleware.RequireRoles(models.RoleTeacher), requestHandler.ListActionable)
		requests.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), requestHandler.ListAll)
		requests.GET("/:id", requestHandler.Detail)
		requests.POST("/:id/decision", middleware.RequireRoles(models.RoleTeacher), requestHandler.Decide)
		requests.DELETE("/:id", middleware.RequireRoles(models.RoleStudent), requestHandler.Cancel)
		requests.POST("/:id/proof", middleware.RequireRoles(models.RoleStudent), proofHandler.Upload)
	}

	flows := authed.Group("/flows")
	{
		flows.GET("", flowHandler.List)
		flows.GET("/:id", flowHandler.Get)
		flows.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
			middleware.Audit(userRepo, "CREATE", "flow_template"), flowHandler.Create)
	}

	groups := authed.Group("/groups")
	{
		groups.GET("", groupHandler.List)
		groups.GET("/:id/approvers", groupHandler.ListApprovers)
		groups.PUT("/:id/approvers", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
			middleware.Audit(userRepo, "UPSERT", "group_approver"), groupHandler.UpsertApprover)
	}

	notifications := authed.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/devices", notificationHandler.RegisterDevice)
	}

	authed.GET("/exports/register", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), exportHandler.Register)

	// Signed token is the authorization for proof downloads.
	api.GET("/proofs/download", proofHandler.Download)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}

func newQueryService(requests *repository.RequestRepository, groups *repository.GroupRepository,
	viewCache *repository.CacheRepository, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) *service.RequestQueryService {
	if viewCache == nil {
		return service.NewRequestQueryService(requests, groups, nil, 0, logr)
	}
	return service.NewRequestQueryService(requests, groups, viewCache, cfg.Cache.PendingTTL, logr,
		service.WithQueryMetrics(metrics))
}
