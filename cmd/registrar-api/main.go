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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/registrar-api/api/swagger"
	"github.com/noah-isme/registrar-api/internal/handler"
	internalmiddleware "github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/cache"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/lock"
	"github.com/noah-isme/registrar-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/requestid"
)

// @title Registrar API
// @version 1.0.0
// @description Enrollment, waitlist and financial hold orchestration.
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

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("registrar stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer st.close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Locks.Driver == config.LockRedis || cfg.Cache.Enabled || cfg.Notifications.Channel != "" {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close() //nolint:errcheck
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Locks.Driver == config.LockRedis {
		locker = lock.NewRedis(redisClient, lock.RedisConfig{
			Prefix:   "registrar:lock:",
			LeaseTTL: cfg.Locks.LeaseTTL,
			Logger:   logr,
		})
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheRepo *repository.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	var cacheSvc *service.CacheService
	if cacheRepo != nil {
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	}

	sinks := []service.NotificationSink{service.NewLogSink(logr)}
	if cacheRepo != nil && cfg.Notifications.Channel != "" {
		sinks = append(sinks, service.NewPubSubSink(cacheRepo, cfg.Notifications.Channel))
	}
	notifications := service.NewNotificationService(sinks, metrics, logr, service.NotificationConfig{
		Workers: cfg.Notifications.Workers,
	})

	settingsSvc := service.NewSettingsService(st.settings, cfg.Registration, validate, logr)
	gate := service.NewHoldGate(st.holds, logr)
	registrations := service.NewRegistrationService(st.registrations, locker, gate, logr, service.RegistrationServiceConfig{
		LockTimeout: cfg.Locks.AcquireTimeout,
		Notifier:    notifications,
		Audit:       st.audit,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validate,
	})
	sweeper := service.NewInvoiceSweeper(st.invoices, st.holds, notifications, metrics, cfg.Billing.GracePeriod, logr)
	scheduler := service.NewScheduler(registrations, settingsSvc, sweeper, logr, service.SchedulerConfig{
		WaitlistInterval: cfg.Waitlist.SweepInterval,
		InvoiceInterval:  cfg.Billing.SweepInterval,
		EventWorkers:     cfg.Waitlist.EventWorkers,
		EventBuffer:      cfg.Waitlist.EventBuffer,
		Metrics:          metrics,
	})

	notifications.Start(ctx)
	defer notifications.Stop()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/health", "/ready", "/metrics"))

	checks := []handler.ReadinessCheck{{Name: "storage", Check: st.ping}}
	if redisClient != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	verifier := internalmiddleware.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(verifier))

	registerRoutes(api, routeDeps{
		registrations: handler.NewRegistrationHandler(registrations, settingsSvc, validate),
		sections:      handler.NewSectionHandler(registrations, settingsSvc, validate),
		students:      handler.NewStudentHandler(registrations, gate),
		settings:      handler.NewSettingsHandler(settingsSvc),
		jobs:          handler.NewJobsHandler(scheduler),
		audit:         st.audit,
		logger:        logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage.Driver), zap.String("locks", cfg.Locks.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routeDeps struct {
	registrations *handler.RegistrationHandler
	sections      *handler.SectionHandler
	students      *handler.StudentHandler
	settings      *handler.SettingsHandler
	jobs          *handler.JobsHandler
	audit         internalmiddleware.AuditRepository
	logger        *zap.Logger
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar)
	anyone := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor, models.RoleStudent)
	actors := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleStudent)
	audit := func(action, resource string) gin.HandlerFunc {
		return internalmiddleware.Audit(d.audit, d.logger, action, resource)
	}

	registrations := api.Group("/registrations", actors)
	registrations.POST("", audit(models.AuditActionRegister, "enrollment"), d.registrations.Register)
	registrations.POST("/drop", audit(models.AuditActionDrop, "enrollment"), d.registrations.Drop)
	registrations.POST("/withdraw", audit(models.AuditActionWithdraw, "enrollment"), d.registrations.Withdraw)
	registrations.POST("/swap", d.registrations.Swap)

	sections := api.Group("/sections")
	sections.GET("", anyone, d.sections.List)
	sections.GET("/:id", anyone, d.sections.Get)
	sections.POST("", staff, d.sections.Create)
	sections.PUT("/:id/capacity", staff, d.sections.UpdateCapacity)
	sections.POST("/:id/grades", staff, audit(models.AuditActionComplete, "enrollment"), d.sections.Complete)
	sections.POST("/:id/promote", staff, d.sections.Promote)

	students := api.Group("/students/:id", internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleRegistrar), string(models.RoleAdvisor), "SELF"))
	students.GET("/enrollments", d.students.Enrollments)
	students.GET("/holds", d.students.Holds)

	settings := api.Group("/settings/registration", internalmiddleware.RequireRoles(models.RoleAdmin))
	settings.GET("", d.settings.List)
	settings.PUT("", d.settings.BulkUpdate)
	settings.GET("/:key", d.settings.Get)
	settings.PUT("/:key", d.settings.Update)

	jobs := api.Group("/jobs", staff)
	jobs.POST("/waitlists/sweep", d.jobs.SweepWaitlists)
	jobs.POST("/invoices/sweep", d.jobs.SweepInvoices)
}
