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

	_ "github.com/noah-isme/feedback-desk-api/api/swagger"
	"github.com/noah-isme/feedback-desk-api/internal/handler"
	"github.com/noah-isme/feedback-desk-api/internal/middleware"
	"github.com/noah-isme/feedback-desk-api/internal/models"
	"github.com/noah-isme/feedback-desk-api/internal/repository"
	"github.com/noah-isme/feedback-desk-api/internal/service"
	"github.com/noah-isme/feedback-desk-api/pkg/cache"
	"github.com/noah-isme/feedback-desk-api/pkg/config"
	"github.com/noah-isme/feedback-desk-api/pkg/database"
	"github.com/noah-isme/feedback-desk-api/pkg/jobs"
	"github.com/noah-isme/feedback-desk-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/feedback-desk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/feedback-desk-api/pkg/middleware/requestid"
	"github.com/noah-isme/feedback-desk-api/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// @title Feedback Desk API
// @version 1.0.0
// @description Feedback ticketing workflow: submission, assignment, response and review
// @BasePath /api
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	reportRepo := repository.NewReportRepository(db)

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	feedbackOpts := []service.FeedbackOption{
		service.WithUploadCleaner(uploadStore),
		service.WithLifecycleMetrics(metricsSvc),
	}
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, queue caching disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			feedbackOpts = append(feedbackOpts, service.WithQueueCache(cacheRepo, cfg.Cache.QueueTTL, cfg.Cache.ReportTTL))
		}
	}

	feedbackSvc := service.NewFeedbackService(feedbackRepo, userRepo, validate, logr, feedbackOpts...)
	userSvc := service.NewUserService(userRepo, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "feedback-desk-api",
	})

	var reportSvc *service.ReportService
	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		exportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exporter := service.NewExportService(feedbackSvc, exportStore, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, nil, nil)

		worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("report-exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportQueue.Start(ctx)
		defer reportQueue.Stop()

		reportSvc = service.NewReportService(reportRepo, reportQueue, exporter, validate, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	feedbackHandler := handler.NewFeedbackHandler(feedbackSvc, uploadStore, handler.UploadPolicy{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	})
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
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
		start := time.Now()
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		metricsSvc.ObserveDBQuery("ping", time.Since(start))
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

	api.GET("/users/employees", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleHOD), userHandler.ListEmployees)
	api.GET("/metrics/system", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleHOD), metricsHandler.System)

	feedback := api.Group("/feedback")
	{
		feedback.POST("", feedbackHandler.Submit)
		feedback.GET("/track/:key", feedbackHandler.Track)

		hod := middleware.RequireRoles(models.RoleHOD)
		employee := middleware.RequireRoles(models.RoleEmployee)

		feedback.GET("", middleware.JWT(authSvc), hod, feedbackHandler.ListNew)
		feedback.GET("/assigned", middleware.JWT(authSvc), hod, feedbackHandler.ListAssigned)
		feedback.POST("/assign", middleware.JWT(authSvc), hod, feedbackHandler.Assign)
		feedback.GET("/employee", middleware.JWT(authSvc), employee, feedbackHandler.EmployeeQueue)
		feedback.POST("/respond", middleware.JWT(authSvc), employee, feedbackHandler.Respond)
		feedback.GET("/responses/pending", middleware.JWT(authSvc), hod, feedbackHandler.PendingResponses)
		feedback.POST("/review", middleware.JWT(authSvc), hod, feedbackHandler.Review)
		feedback.GET("/user/:id", middleware.JWT(authSvc), middleware.RBAC(string(models.RoleHOD), "SELF"), feedbackHandler.UserFeedback)
		feedback.GET("/report", middleware.JWT(authSvc), hod, feedbackHandler.Report)

		if reportSvc != nil {
			reportHandler := handler.NewReportHandler(reportSvc, logr)
			feedback.POST("/report/export", middleware.JWT(authSvc), hod, reportHandler.GenerateReport)
			feedback.GET("/report/export/status/:id", middleware.JWT(authSvc), hod, reportHandler.ReportStatus)
			feedback.GET("/report/export/:token", reportHandler.DownloadReport)
		}
	}

	r.Static("/uploads", cfg.Uploads.StorageDir)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
