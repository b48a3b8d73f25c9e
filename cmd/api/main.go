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
	_ "time/tzdata"

	"go.uber.org/zap"

	_ "github.com/noah-isme/tutoring-api/api/swagger"
	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/repository"
	"github.com/noah-isme/tutoring-api/internal/router"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/cache"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/database"
	"github.com/noah-isme/tutoring-api/pkg/feedtoken"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
	"github.com/noah-isme/tutoring-api/pkg/logger"
)

// @title Tutoring API
// @version 1.0.0
// @description Availability, booking, lesson ledger, dashboard indicators and calendar for a single tutor.
// @BasePath /
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	loc := cfg.Booking.Location()
	validate := service.NewValidator()
	metrics := service.NewMetricsService()

	availabilityRepo := repository.NewAvailabilityRepository(db)
	lessonRepo := repository.NewLessonRepository(db, cfg.Booking.MaxRetries)
	directoryRepo := repository.NewDirectoryRepository(db)
	userRepo := repository.NewUserRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.CacheEnabled && cacheRepo.Enabled())
	periodSvc := service.NewPeriodService(service.PeriodServiceParams{
		Lessons: lessonRepo,
		Cache:   cacheSvc,
		Metrics: metrics,
		Logger:  logr,
		Config:  service.PeriodServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL, Location: loc},
	})

	warmQueue := jobs.NewQueue("indicator-warm", periodSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Dashboard.WarmWorkers,
		BufferSize: 8,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	periodSvc.AttachQueue(warmQueue)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, validate, logr)
	bookingSvc := service.NewBookingService(service.BookingServiceParams{
		Lessons:   lessonRepo,
		Windows:   availabilityRepo,
		Directory: directoryRepo,
		Observer:  periodSvc,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
		Config: service.BookingConfig{
			HourlyRate:     cfg.Booking.HourlyRate,
			Location:       loc,
			EnforceWeekday: cfg.Booking.EnforceWeekday,
		},
	})
	lessonSvc := service.NewLessonService(service.LessonServiceParams{
		Repo:      lessonRepo,
		Directory: directoryRepo,
		Observer:  periodSvc,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
		Config:    service.LessonServiceConfig{HourlyRate: cfg.Booking.HourlyRate, Location: loc},
	})
	calendarSvc := service.NewCalendarService(lessonRepo, validate, logr, loc)

	engine := router.New(router.Params{
		Config:  cfg,
		Logger:  logr,
		Metrics: metrics,
		Tokens:  authSvc,
		Handlers: router.Handlers{
			Auth:         handler.NewAuthHandler(authSvc),
			Availability: handler.NewAvailabilityHandler(availabilitySvc, bookingSvc),
			Booking:      handler.NewBookingHandler(bookingSvc),
			Lesson:       handler.NewLessonHandler(lessonSvc),
			Dashboard:    handler.NewDashboardHandler(periodSvc),
			Calendar:     handler.NewCalendarHandler(calendarSvc, feedtoken.NewSigner(cfg.Calendar.FeedSecret, cfg.Calendar.FeedTTL), cfg.Calendar.PublicURL),
			Metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
				"postgres": db.PingContext,
				"redis":    cacheRepo.Ping,
			}),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	warmQueue.Start(ctx)
	defer warmQueue.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
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
