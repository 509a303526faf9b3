package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dubhub/internal/billing"
	"dubhub/internal/config"
	"dubhub/internal/credits"
	"dubhub/internal/jobs"
	"dubhub/internal/metrics"
	"dubhub/internal/model"
	"dubhub/internal/notify"
)

// JobService starts, cancels and lists locally tracked jobs. *jobs.Manager
// implements it.
type JobService interface {
	StartJob(ctx context.Context, t model.JobType, data jobs.JobData, onProgress jobs.ProgressFunc) (uuid.UUID, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error)
	Active() []jobs.ActiveJob
}

// JobReader is the unified read view. *jobs.Aggregator implements it.
type JobReader interface {
	List(ctx context.Context, userID uuid.UUID, statuses ...model.Status) ([]model.UnifiedJob, error)
	Find(ctx context.Context, userID, jobID uuid.UUID) (model.Job, error)
	Completed(ctx context.Context, userID uuid.UUID) ([]model.UnifiedJob, error)
}

// Reconciler runs a recovery pass. *jobs.Recovery implements it.
type Reconciler interface {
	Run(ctx context.Context, userID *uuid.UUID) jobs.RecoveryReport
}

// CreditService is the ledger surface used by handlers. *credits.Ledger
// implements it.
type CreditService interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.CreditTransaction, error)
	Credit(ctx context.Context, req credits.CreditRequest) (model.CreditTransaction, bool, error)
}

// BillingService is the checkout surface. *billing.Service implements it.
type BillingService interface {
	Packages() []config.CreditPackage
	CreateCheckout(ctx context.Context, userID uuid.UUID, packageID string) (billing.Checkout, error)
	Confirm(ctx context.Context, userID uuid.UUID, sessionID string) (billing.Fulfillment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// NotificationFeed serves recent notifications. *notify.EventBus
// implements it.
type NotificationFeed interface {
	Since(userID uuid.UUID, seq int64) []notify.Notification
	LastSeq() int64
}

// Pinger reports backend connectivity for deep health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components served over HTTP. Billing, Notifications and
// Redis are optional.
type Deps struct {
	Jobs          JobService
	Reader        JobReader
	Recovery      Reconciler
	Credits       CreditService
	Billing       BillingService
	Notifications NotificationFeed
	Keys          KeyLookup
	DB            Pinger
	Redis         *redis.Client
}

type Server struct {
	app    *fiber.App
	config *config.Config
	deps   Deps
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	app := s.app

	app.Use(requestLogger(logger))

	app.Get("/healthz", s.healthHandler)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Stripe authenticates webhooks by signature, not by bearer token.
	app.Post("/webhooks/stripe", s.stripeWebhookHandler)

	authMw := authMiddleware(cfg, deps.Keys)
	rateMw := rateLimitMiddleware(cfg, deps.Redis)

	v1 := app.Group("/v1", authMw, rateMw)
	s.registerV1Routes(v1)

	admin := app.Group("/admin", authMw, adminOnlyMiddleware)
	s.registerAdminRoutes(admin)

	return s
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerV1Routes(group fiber.Router) {
	group.Post("/jobs", s.createJobHandler)
	group.Get("/jobs", s.listJobsHandler)
	group.Get("/jobs/completed", s.completedJobsHandler)
	group.Post("/jobs/sync", s.syncJobsHandler)
	group.Get("/jobs/:id", s.jobDetailHandler)
	group.Post("/jobs/:id/cancel", s.cancelJobHandler)

	group.Get("/credits", s.balanceHandler)
	group.Get("/credits/transactions", s.transactionsHandler)
	group.Post("/credits/estimate", s.estimateHandler)

	group.Get("/billing/packages", s.packagesHandler)
	group.Post("/billing/checkout", s.checkoutHandler)
	group.Post("/billing/confirm", s.confirmHandler)

	group.Get("/notifications", s.notificationsHandler)
}

func (s *Server) registerAdminRoutes(group fiber.Router) {
	group.Post("/recovery/run", s.adminRecoveryHandler)
	group.Post("/credits/grant", s.adminGrantHandler)
	group.Get("/jobs/active", s.adminActiveJobsHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.deps.DB != nil {
		dbStatus = "ok"
		if err := s.deps.DB.Ping(ctx); err != nil {
			dbStatus = "error"
		}
	}

	redisStatus := "disabled"
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			redisStatus = "error"
		} else {
			redisStatus = "ok"
		}
	}

	status := "ok"
	code := fiber.StatusOK
	if dbStatus == "error" || redisStatus == "error" {
		status = "error"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"db":     dbStatus,
		"redis":  redisStatus,
	})
}
