// Package app wires configuration, storage, services and transports into a
// runnable helpdesk.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/lock"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

// App holds every long-lived component of the service.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Postgres      *persistence.Postgres
	Redis         *persistence.Redis
	Repos         repository.Repositories
	Dispatcher    events.Dispatcher
	Tokens        *auth.TokenManager
	Tickets       *service.TicketService
	Auth          *service.AuthService
	Users         *service.UserService
	Notifications *service.NotificationService
	Relay         *worker.OutboxRelay
	Scheduler     *worker.AutoCloseScheduler
	Idempotency   httptransport.IdempotencyStore

	wg sync.WaitGroup
}

// New connects storage and builds the services. An empty Postgres DSN selects
// the in-memory store and a disabled Redis selects in-process locks and
// idempotency keys.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.Postgres = pg
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		a.Repos = repository.NewPostgresRepositories(pool)
	} else {
		a.Repos = memory.New().Repositories()
	}

	var locker lock.Locker = lock.NewLocalLocker()
	a.Idempotency = httptransport.NewMemoryIdempotencyStore()
	a.Redis = persistence.NewRedis(cfg.Redis, logger)
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis.Client, cfg.Workflow.LockTTL(), logger)
		a.Idempotency = httptransport.NewRedisIdempotencyStore(a.Redis.Client)
	}

	engine := workflow.NewEngine(workflow.Policy{ReopenWindow: cfg.Workflow.ReopenWindow()})
	a.Tickets = service.NewTicketService(service.TicketDependencies{
		Repos:    a.Repos,
		Engine:   engine,
		Locker:   locker,
		Metrics:  a.Metrics,
		Logger:   logger,
		Workflow: cfg.Workflow,
	})
	a.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	a.Auth = service.NewAuthService(cfg.Auth, a.Repos.Users, a.Tokens)
	a.Users = service.NewUserService(a.Repos.Users)

	renderer, err := notify.NewRenderer(cfg.Notification.PortalBaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("email templates: %w", err)
	}
	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.Notification.EmailEnabled {
		mailer = notify.NewSMTPMailer(cfg.Notification)
	}
	a.Dispatcher = events.NewInMemoryDispatcher()
	a.Notifications = service.NewNotificationService(service.NotificationDependencies{
		Notifications: a.Repos.Notifications,
		Tickets:       a.Repos.Tickets,
		Users:         a.Repos.Users,
		Dispatcher:    a.Dispatcher,
		Renderer:      renderer,
		Mailer:        mailer,
		Logger:        logger,
		Config:        cfg.Notification,
	})
	worker.StartNotificationWorker(a.Notifications)

	a.Relay = worker.NewOutboxRelay(a.Repos.Outbox, a.Dispatcher, a.Metrics, logger, cfg.Outbox)
	a.Scheduler, err = worker.NewAutoCloseScheduler(a.Tickets, cfg.Workflow.AutoCloseSchedule, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// HTTP builds the fiber application with every route registered.
func (a *App) HTTP() *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:      a.Config.App.Name,
		Immutable:    true,
		ErrorHandler: httptransport.ErrorHandler(a.Logger, a.Metrics),
	})
	httptransport.RegisterMiddlewares(server, a.Logger, a.Metrics, a.Config.App.RequestTimeout())

	deps := map[string]handlers.Pinger{}
	if a.Postgres.PoolHandle() != nil {
		deps["postgres"] = a.Postgres
	}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}

	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(a.Config.App.Name, a.Config.App.Version, deps),
		Auth:           handlers.NewAuthHandler(a.Auth),
		Tickets:        handlers.NewTicketsHandler(a.Tickets),
		Users:          handlers.NewUsersHandler(a.Users),
		Notifications:  handlers.NewNotificationsHandler(a.Notifications),
		AuthMiddleware: auth.NewAuthMiddleware(a.Tokens, a.Repos.Users),
		Metrics:        a.Metrics,
		Idempotency:    a.Idempotency,
		IdempotencyTTL: a.Config.Notification.IdempotencyTTL(),
		Logger:         a.Logger,
	})
	return server
}

// StartWorkers launches the outbox relay and the auto-close scheduler. They
// stop when ctx is cancelled; Close waits for them.
func (a *App) StartWorkers(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Relay.Run(ctx)
	}()
	a.Scheduler.Start()
}

// Close stops the workers and releases connections.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.wg.Wait()
	a.Redis.Close()
	a.Postgres.Close()
}
