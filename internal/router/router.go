package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/requestid"
)

// Handlers bundles every HTTP handler mounted by the router.
type Handlers struct {
	Auth         *handler.AuthHandler
	Availability *handler.AvailabilityHandler
	Booking      *handler.BookingHandler
	Lesson       *handler.LessonHandler
	Dashboard    *handler.DashboardHandler
	Calendar     *handler.CalendarHandler
	Metrics      *handler.MetricsHandler
}

// Params groups router dependencies.
type Params struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *service.MetricsService
	Tokens   middleware.TokenValidator
	Handlers Handlers
}

// New builds the gin engine with global middleware and the versioned API.
func New(p Params) *gin.Engine {
	cfg := p.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(p.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(p.Metrics, "/metrics"))
	r.Use(middleware.WithResponseMeta())

	h := p.Handlers
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", h.Auth.Login)
		api.GET("/calendar/feed.ics", h.Calendar.Feed)

		authorized := api.Group("")
		authorized.Use(middleware.JWT(p.Tokens))
		{
			availability := authorized.Group("/availability")
			{
				availability.GET("", h.Availability.List)
				availability.GET("/slots", h.Availability.Slots)
				availability.POST("", admin, h.Availability.Create)
				availability.DELETE("/:id", admin, h.Availability.Delete)
			}

			authorized.POST("/bookings", h.Booking.Book)

			lessons := authorized.Group("/lessons")
			{
				lessons.GET("", h.Lesson.List)
				lessons.GET("/:id", h.Lesson.Get)
				lessons.POST("", admin, h.Lesson.Create)
				lessons.PUT("/:id", admin, h.Lesson.Update)
				lessons.PATCH("/:id/status", admin, h.Lesson.UpdateStatus)
				lessons.DELETE("/:id", admin, h.Lesson.Delete)
			}

			authorized.GET("/dashboard/indicators", admin, h.Dashboard.Indicators)

			authorized.GET("/calendar", h.Calendar.View)
			authorized.GET("/calendar.ics", h.Calendar.ICS)
			authorized.POST("/calendar/feed-token", h.Calendar.FeedToken)
		}
	}

	return r
}
