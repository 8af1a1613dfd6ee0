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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-attendance-api/api/swagger"
	"github.com/noah-isme/sma-attendance-api/internal/handler"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/pkg/cache"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
	"github.com/noah-isme/sma-attendance-api/pkg/jobs"
	"github.com/noah-isme/sma-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-attendance-api/pkg/notify"
)

// @title SMA Attendance API
// @version 1.0.0
// @description Class scheduling with conflict detection and per-session attendance.
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, schedule cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := service.NewValidator()

	scheduleRepo := repository.NewScheduleRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	userRepo := repository.NewUserRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.ScheduleTTL, logr, redisClient != nil)
	scheduleSvc := service.NewScheduleService(scheduleRepo, periodRepo, groupRepo, subjectRepo, userRepo, cacheSvc, metricsSvc, validate, logr)

	var notifier service.AttendanceNotifier
	if cfg.Notifications.Enabled {
		notificationSvc := service.NewNotificationService(attendanceRepo, newSender(cfg.Notifications, logr), jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		}, metricsSvc, logr)
		notificationSvc.Start(ctx)
		defer notificationSvc.Stop()
		notifier = notificationSvc
	}
	attendanceSvc := service.NewAttendanceService(attendanceRepo, scheduleRepo, groupRepo, userRepo, notifier, metricsSvc, validate, logr)
	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = cacheRepo.Ping
	}

	r := newRouter(cfg, logr, routerDeps{
		auth:       authSvc,
		metrics:    metricsSvc,
		schedules:  handler.NewScheduleHandler(scheduleSvc),
		attendance: handler.NewAttendanceHandler(attendanceSvc),
		system:     handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routerDeps struct {
	auth       middleware.TokenValidator
	metrics    *service.MetricsService
	schedules  *handler.ScheduleHandler
	attendance *handler.AttendanceHandler
	system     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.system.Health)
	r.GET("/ready", deps.system.Ready)
	r.GET("/metrics", deps.system.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	schedules := api.Group("/schedules")
	schedules.GET("", staff, deps.schedules.List)
	schedules.GET("/:id", staff, deps.schedules.Get)
	schedules.POST("", adminOnly, middleware.Audit(logr, "create", "schedule"), deps.schedules.Create)
	schedules.PATCH("/:id", adminOnly, middleware.Audit(logr, "update", "schedule"), deps.schedules.Update)
	schedules.DELETE("/:id", adminOnly, middleware.Audit(logr, "delete", "schedule"), deps.schedules.Delete)

	schedules.POST("/:id/attendance/scan", staff, middleware.Audit(logr, "scan", "attendance"), deps.attendance.Scan)
	schedules.POST("/:id/attendance", staff, middleware.Audit(logr, "register", "attendance"), deps.attendance.Register)
	schedules.GET("/:id/attendance", staff, deps.attendance.Roster)
	schedules.GET("/:id/attendance/stats", staff, deps.attendance.Stats)
	schedules.GET("/:id/attendance/export", staff, deps.attendance.Export)

	api.PATCH("/attendance/:id", staff, middleware.Audit(logr, "update", "attendance"), deps.attendance.Update)

	return r
}

func newSender(cfg config.NotificationConfig, logr *zap.Logger) notify.Sender {
	if cfg.SendGridAPIKey == "" {
		return notify.NewLogSender(logr)
	}
	return notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.FromName, cfg.FromEmail)
}
