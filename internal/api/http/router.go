package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Users          *handlers.UsersHandler
	Notifications  *handlers.NotificationsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	Logger         *zap.Logger
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Handler())
	}

	app.Post("/auth/login", cfg.Auth.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	protected.Get("/auth/me", cfg.Auth.Me)

	tickets := protected.Group("/tickets", IdempotencyMiddleware(cfg.Idempotency, cfg.IdempotencyTTL, logger))
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/stats", cfg.Tickets.Stats)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
	tickets.Put("/:id/assign", cfg.Tickets.Assign)
	tickets.Put("/:id/delegate", cfg.Tickets.Delegate)
	tickets.Put("/:id/reassign", cfg.Tickets.Reassign)
	tickets.Put("/:id/take-charge", cfg.Tickets.TakeCharge)
	tickets.Put("/:id/resolve", cfg.Tickets.Resolve)
	tickets.Put("/:id/validate", cfg.Tickets.Validate)
	tickets.Put("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Put("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Put("/:id/request-info", cfg.Tickets.RequestInfo)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Post("/:id/attachments", cfg.Tickets.AddAttachment)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)

	users := protected.Group("/users", auth.RequireStaff())
	users.Get("/technicians", cfg.Users.Technicians)
	users.Get("/adjoints", cfg.Users.Adjoints)

	notifications := protected.Group("/notifications")
	notifications.Get("/", cfg.Notifications.List)
	notifications.Get("/unread/count", cfg.Notifications.UnreadCount)
	notifications.Put("/read-all", cfg.Notifications.MarkAllRead)
	notifications.Put("/:id/read", cfg.Notifications.MarkRead)
}
