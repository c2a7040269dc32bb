// Package api wires the HTTP surface: the provider webhook, the
// authenticated admin API, health probes, metrics, and the event socket.
package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/replywatch/replywatch-backend/internal/api/handlers"
	"github.com/replywatch/replywatch-backend/internal/api/middleware"
	"github.com/replywatch/replywatch-backend/internal/events"
	"github.com/replywatch/replywatch-backend/internal/queue"
	"github.com/replywatch/replywatch-backend/internal/repository"
	"github.com/replywatch/replywatch-backend/internal/subscriptions"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Queue    *queue.Queue
	Manager  *subscriptions.Manager
	Hub      *events.Hub
	Registry *prometheus.Registry
	Logger   *slog.Logger

	APIKey         string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	Production     bool
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Production))
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger))
	}
	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	accountRepo := repository.NewAccountRepository(cfg.DB)
	subRepo := repository.NewSubscriptionRepository(cfg.DB)
	jobRepo := repository.NewJobRepository(cfg.DB)
	trackedEmailRepo := repository.NewTrackedEmailRepository(cfg.DB)
	responseRepo := repository.NewResponseRepository(cfg.DB)

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	webhookHandler := handlers.NewWebhookHandler(subRepo, cfg.Queue, cfg.Logger)
	trackedEmailHandler := handlers.NewTrackedEmailHandler(trackedEmailRepo, responseRepo)
	jobHandler := handlers.NewJobHandler(jobRepo)
	accountHandler := handlers.NewAccountHandler(accountRepo, subRepo, cfg.Manager)

	// Unauthenticated surface. The webhook cannot carry an API key; each
	// notification is validated against its subscription's clientState.
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)
	e.POST("/webhooks/notifications", webhookHandler.Notifications)
	if cfg.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}
	if cfg.Hub != nil {
		wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.AllowedOrigins, cfg.Logger)
		e.GET("/ws", wsHandler.Serve)
	}

	// Admin API
	api := e.Group("/api")
	api.Use(middleware.APIKeyAuth(cfg.APIKey, cfg.Logger))

	accounts := api.Group("/accounts")
	accounts.POST("", accountHandler.Create)
	accounts.GET("", accountHandler.List)
	accounts.GET("/:id", accountHandler.Get)
	accounts.POST("/:id/subscriptions", accountHandler.Connect)
	accounts.GET("/:id/subscriptions", accountHandler.ListSubscriptions)
	accounts.DELETE("/:id/subscriptions/:sid", accountHandler.Disconnect)

	trackedEmails := api.Group("/tracked-emails")
	trackedEmails.GET("", trackedEmailHandler.List)
	trackedEmails.GET("/:id", trackedEmailHandler.Get)

	api.GET("/analytics/summary", trackedEmailHandler.Summary)

	jobs := api.Group("/jobs")
	jobs.GET("", jobHandler.List)
	jobs.GET("/stats", jobHandler.Stats)
	jobs.POST("/:id/requeue", jobHandler.Requeue)

	return e
}
