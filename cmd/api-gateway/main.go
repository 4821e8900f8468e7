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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/dormhub/dorm-portal-api/api/swagger"
	"github.com/dormhub/dorm-portal-api/internal/handler"
	"github.com/dormhub/dorm-portal-api/internal/middleware"
	"github.com/dormhub/dorm-portal-api/internal/models"
	"github.com/dormhub/dorm-portal-api/internal/realtime"
	"github.com/dormhub/dorm-portal-api/internal/repository"
	"github.com/dormhub/dorm-portal-api/internal/service"
	"github.com/dormhub/dorm-portal-api/pkg/cache"
	"github.com/dormhub/dorm-portal-api/pkg/config"
	"github.com/dormhub/dorm-portal-api/pkg/database"
	"github.com/dormhub/dorm-portal-api/pkg/logger"
	corsmiddleware "github.com/dormhub/dorm-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dormhub/dorm-portal-api/pkg/middleware/requestid"
	"github.com/dormhub/dorm-portal-api/pkg/storage"
)

// @title Dorm Portal API
// @version 1.0.0
// @description Maintenance request lifecycle service for the dormitory portal
// @BasePath /api/v1
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	requestRepo := repository.NewRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()

	broadcastSvc := service.NewBroadcastService(
		service.NewRedisPublisher(redisClient),
		service.BroadcastConfig{
			ChannelPrefix: cfg.Broadcast.ChannelPrefix,
			Workers:       cfg.Broadcast.Workers,
			BufferSize:    cfg.Broadcast.BufferSize,
		},
		metricsSvc,
		logr,
	)
	broadcastSvc.Start(ctx)
	defer broadcastSvc.Stop()

	attachmentSigner := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)
	lifecycleSvc := service.NewLifecycleService(requestRepo, auditRepo, logr,
		service.WithTransitionPublisher(broadcastSvc),
		service.WithAttachmentSigner(attachmentSigner))

	authSvc := service.NewAuthService(userRepo, auditRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "dorm-portal-api",
	})

	hub := realtime.NewHub(redisClient, cfg.Broadcast.ChannelPrefix, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportRepo := repository.NewExportRepository(db)
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(exportRepo, requestRepo, auditRepo, files, signer, service.ExportConfig{
			WorkerConcurrency: cfg.Exports.WorkerConcurrency,
			WorkerRetries:     cfg.Exports.WorkerRetries,
			RetentionTTL:      cfg.Exports.RetentionTTL,
			CleanupInterval:   cfg.Exports.CleanupInterval,
		}, logr)
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	maintenanceHandler := handler.NewMaintenanceHandler(lifecycleSvc)
	eventsHandler := handler.NewEventsHandler(hub, metricsSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		maintenance := api.Group("/maintenance", middleware.JWT(authSvc))
		{
			maintenance.POST("/requests",
				middleware.RequireRoles(models.RoleStudent),
				middleware.Audit(auditRepo, models.AuditActionRequestCreate, "maintenance_request"),
				maintenanceHandler.Create)
			maintenance.GET("/requests", maintenanceHandler.List)
			maintenance.GET("/requests/:id", maintenanceHandler.Get)
			maintenance.GET("/requests/:id/attachment", maintenanceHandler.AttachmentLink)
			maintenance.POST("/requests/:id/transition",
				middleware.RequireRoles(models.RoleStaff, models.RoleAdmin, models.RoleSuperAdmin),
				maintenanceHandler.Transition)
			maintenance.POST("/requests/:id/review",
				middleware.RequireRoles(models.RoleStudent),
				maintenanceHandler.Review)
			maintenance.POST("/requests/:id/reschedule",
				middleware.RequireRoles(models.RoleStudent),
				maintenanceHandler.Reschedule)
			maintenance.GET("/events", eventsHandler.Stream)
		}

		exports := api.Group("/exports")
		{
			exports.GET("/download", exportHandler.Download)
			exports.Use(middleware.JWT(authSvc))
			exports.POST("",
				middleware.RequireRoles(models.RoleStaff, models.RoleAdmin, models.RoleSuperAdmin),
				exportHandler.Create)
			exports.GET("/:id", exportHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
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
