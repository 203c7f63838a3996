package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/campusflow/registrar-api/api/swagger"
	"github.com/campusflow/registrar-api/internal/handler"
	"github.com/campusflow/registrar-api/internal/middleware"
	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/internal/repository"
	"github.com/campusflow/registrar-api/internal/service"
	"github.com/campusflow/registrar-api/pkg/cache"
	"github.com/campusflow/registrar-api/pkg/config"
	"github.com/campusflow/registrar-api/pkg/database"
	"github.com/campusflow/registrar-api/pkg/export"
	"github.com/campusflow/registrar-api/pkg/jobs"
	"github.com/campusflow/registrar-api/pkg/logger"
	corsmiddleware "github.com/campusflow/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusflow/registrar-api/pkg/middleware/requestid"
	"github.com/campusflow/registrar-api/pkg/storage"
)

// @title Campus Registrar API
// @version 1.0.0
// @description Registration and course-upload approval workflow service
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	semesterRepo := repository.NewSemesterRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	uploadRepo := repository.NewCourseUploadRepository(db)
	exportRepo := repository.NewExportRepository(db)

	// Optional Redis-backed stats cache.
	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, redisErr := cache.NewRedis(cfg.Redis)
		if redisErr != nil {
			logr.Sugar().Warnw("redis unavailable, stats cache disabled", "error", redisErr)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	// Services.
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
	})
	registrationSvc := service.NewRegistrationService(registrationRepo, semesterRepo, uploadRepo, cacheSvc, metricsSvc, validate, logr, cfg.Registration.EnforceDeadlines)
	uploadSvc := service.NewCourseUploadService(uploadRepo, registrationRepo, courseRepo, semesterRepo, metricsSvc, validate, logr, cfg.Registration.MaxCredits, cfg.Registration.EnforceDeadlines)
	semesterSvc := service.NewSemesterService(semesterRepo, registrationRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, uploadRepo, validate, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	uploadHandler := handler.NewCourseUploadHandler(uploadSvc)
	semesterHandler := handler.NewSemesterHandler(semesterSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if pingErr := db.PingContext(c.Request.Context()); pingErr != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
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

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	protected := api.Group("", middleware.JWT(authSvc))

	registrations := protected.Group("/registrations")
	{
		registrations.GET("", registrationHandler.List)
		registrations.POST("", registrationHandler.Open)
		registrations.GET("/stats", middleware.RequireApprover(), registrationHandler.Stats)
		registrations.GET("/:id", registrationHandler.Get)
		registrations.GET("/:id/credits", registrationHandler.TotalCredits)
		registrations.PUT("/:id/approve", middleware.RequireApprover(),
			middleware.Audit(userRepo, "APPROVE", "registration"), registrationHandler.Approve)
		registrations.PUT("/:id/reject", middleware.RequireApprover(),
			middleware.Audit(userRepo, "REJECT", "registration"), registrationHandler.Reject)
	}

	uploads := protected.Group("/course-uploads")
	{
		uploads.GET("", uploadHandler.List)
		uploads.GET("/queue", middleware.RequireApprover(), uploadHandler.Queue)
		uploads.POST("", middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(userRepo, "ADD_COURSE", "course_upload"), uploadHandler.Add)
		uploads.POST("/bulk-approve", middleware.RequireApprover(),
			middleware.Audit(userRepo, "BULK_APPROVE", "course_upload"), uploadHandler.BulkApprove)
		uploads.GET("/:id", uploadHandler.Get)
		uploads.DELETE("/:id", middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(userRepo, "DROP_COURSE", "course_upload"), uploadHandler.Drop)
		uploads.PUT("/:id/approve", middleware.RequireApprover(),
			middleware.Audit(userRepo, "APPROVE", "course_upload"), uploadHandler.Approve)
		uploads.PUT("/:id/reject", middleware.RequireApprover(),
			middleware.Audit(userRepo, "REJECT", "course_upload"), uploadHandler.Reject)
	}

	semesters := protected.Group("/semesters")
	{
		semesters.GET("", semesterHandler.List)
		semesters.GET("/active", semesterHandler.GetActive)
		semesters.GET("/:id", semesterHandler.Get)

		admin := semesters.Group("", middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin))
		admin.POST("", semesterHandler.Create)
		admin.PUT("/:id", semesterHandler.Update)
		admin.PUT("/:id/activate", semesterHandler.Activate)
		admin.DELETE("/:id", semesterHandler.Delete)
	}

	courses := protected.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)

		admin := courses.Group("", middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin))
		admin.POST("", courseHandler.Create)
		admin.PUT("/:id", courseHandler.Update)
		admin.DELETE("/:id", courseHandler.Delete)
	}

	protected.GET("/metrics/summary", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Summary)

	var exportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		exportQueue, err = wireExports(ctx, cfg, logr, registrationRepo, uploadRepo, exportRepo, api, protected)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export subsystem", "error", err)
		}
		defer exportQueue.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", serveErr)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func wireExports(
	ctx context.Context,
	cfg *config.Config,
	logr *zap.Logger,
	registrationRepo *repository.RegistrationRepository,
	uploadRepo *repository.CourseUploadRepository,
	exportRepo *repository.ExportRepository,
	api *gin.RouterGroup,
	protected *gin.RouterGroup,
) (*jobs.Queue, error) {
	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	exportSvc := service.NewExportService(registrationRepo, uploadRepo, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	worker := service.NewExportWorker(exportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)

	jobSvc := service.NewExportJobService(exportRepo, queue, exportSvc, logr, service.ExportJobServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	jobSvc.RecoverPendingJobs(ctx)
	jobSvc.StartCleanup(ctx)

	exportHandler := handler.NewExportHandler(jobSvc)
	exports := protected.Group("/exports")
	exports.POST("", exportHandler.Generate)
	exports.GET("/:id/status", exportHandler.Status)

	// Download is authenticated by the signed token itself.
	api.GET("/exports/download/:token", exportHandler.Download)

	return queue, nil
}
