package main

import (
	"context"
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

	_ "github.com/openclass/registry-api/api/swagger"
	"github.com/openclass/registry-api/internal/handler"
	"github.com/openclass/registry-api/internal/middleware"
	"github.com/openclass/registry-api/internal/models"
	"github.com/openclass/registry-api/internal/repository"
	"github.com/openclass/registry-api/internal/service"
	"github.com/openclass/registry-api/pkg/cache"
	"github.com/openclass/registry-api/pkg/config"
	"github.com/openclass/registry-api/pkg/database"
	"github.com/openclass/registry-api/pkg/jobs"
	"github.com/openclass/registry-api/pkg/logger"
	corsmiddleware "github.com/openclass/registry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openclass/registry-api/pkg/middleware/requestid"
	"github.com/openclass/registry-api/pkg/storage"
)

// @title Course Registry API
// @version 1.0.0
// @description Course registration platform: catalog, enrollment, grading, transcripts
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Reports.CacheTTL, logr, cfg.Reports.CacheEnabled)
	}

	userRepo := repository.NewUserRepository(db)
	termRepo := repository.NewTermRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	exportRepo := repository.NewExportRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	termSvc := service.NewTermService(termRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, termRepo, cacheSvc, validate, logr, cfg.Catalog.PageSize)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, cacheSvc, metricsSvc, validate, logr)
	transcriptSvc := service.NewTranscriptService(enrollmentRepo, userRepo, logr)
	reportSvc := service.NewReportService(userRepo, termRepo, courseRepo, enrollmentRepo, cacheSvc, metricsSvc, cfg.Reports.TopCourses, cfg.Reports.CacheTTL, logr)

	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("export storage init failed", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(exportRepo, transcriptSvc, enrollmentSvc, fileStore, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr)

		exportQueue = jobs.NewQueue("exports", exportSvc.Process, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.BindQueue(exportQueue)

		go func() {
			ticker := time.NewTicker(cfg.Exports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					exportSvc.Cleanup(ctx)
				}
			}
		}()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	termHandler := handler.NewTermHandler(termSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	transcriptHandler := handler.NewTranscriptHandler(transcriptSvc, reportSvc, exportSvc)
	reportHandler := handler.NewReportHandler(reportSvc, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsSvc))
		r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	courses := api.Group("/courses")
	courses.Use(middleware.JWT(authSvc))
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.POST("", middleware.RequireRoles(models.RoleAdmin), courseHandler.Create)
		courses.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Update)
		courses.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Delete)

		courses.POST("/:id/enroll", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Enroll)
		courses.DELETE("/:id/enroll", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Unenroll)
		courses.GET("/:id/roster", middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), enrollmentHandler.Roster)
		if exportSvc != nil {
			courses.POST("/:id/roster/export", middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), transcriptHandler.ExportRoster)
		}
	}

	terms := api.Group("/terms")
	terms.Use(middleware.JWT(authSvc))
	{
		terms.GET("", termHandler.List)
		terms.GET("/active", termHandler.GetActive)
		terms.GET("/:id", termHandler.Get)
		terms.POST("", middleware.RequireRoles(models.RoleAdmin), termHandler.Create)
		terms.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), termHandler.Update)
		terms.POST("/:id/activate", middleware.RequireRoles(models.RoleAdmin), termHandler.Activate)
		terms.POST("/:id/deactivate", middleware.RequireRoles(models.RoleAdmin), termHandler.Deactivate)
		terms.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), termHandler.Delete)
	}

	enrollments := api.Group("/enrollments")
	enrollments.Use(middleware.JWT(authSvc))
	{
		enrollments.PUT("/:id/grade", middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), enrollmentHandler.Grade)
	}

	me := api.Group("/me")
	me.Use(middleware.JWT(authSvc))
	{
		me.GET("", userHandler.Profile)
		me.GET("/enrollments", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Mine)
		me.GET("/transcript", middleware.RequireRoles(models.RoleStudent), transcriptHandler.Transcript)
		me.GET("/dashboard", middleware.RequireRoles(models.RoleStudent), transcriptHandler.Dashboard)
		if exportSvc != nil {
			me.POST("/transcript/export", middleware.RequireRoles(models.RoleStudent), transcriptHandler.ExportTranscript)
		}
	}

	students := api.Group("/students")
	students.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		students.GET("/:id/transcript", transcriptHandler.StudentTranscript)
	}

	if exportSvc != nil {
		exports := api.Group("/exports")
		{
			exports.GET("/download/:token", transcriptHandler.Download)
			exports.GET("/jobs/:id", middleware.JWT(authSvc), transcriptHandler.ExportStatus)
		}
	}

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/dashboard", reportHandler.Dashboard)
		admin.GET("/reports/top-courses", reportHandler.TopCourses)
		admin.GET("/metrics", reportHandler.SystemMetrics)

		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.POST("/users", userHandler.Create)
		admin.PUT("/users/:id/role", userHandler.SetRole)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
