package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/handlers"
	"github.com/example/posync/internal/middleware"
	"github.com/example/posync/internal/services"
	"github.com/example/posync/internal/store"
)

// Dependencies are the shared services the routes are built from.
type Dependencies struct {
	Store        store.Store
	Orchestrator *services.SyncOrchestrator
	Tokens       *services.TokenCache
	HTTPClient   *http.Client
	Metrics      *services.SyncMetrics
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, cfg *config.Config, deps Dependencies) {
	syncHandler := handlers.NewSyncHandler(deps.Store, deps.Orchestrator, deps.Tokens, deps.HTTPClient, deps.Metrics, deps.Logger)
	orderHandler := handlers.NewOrderHandler(deps.Store)
	authHandler := handlers.NewAuthHandler(deps.Store, cfg)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Registered ahead of the authenticated group so it stays public.
	app.Post("/api/auth/token", authHandler.IssueToken)

	api := app.Group("/api", middleware.RequestLogger(deps.Logger), middleware.AuthMiddleware(cfg))

	// Sync
	api.Post("/sync", syncHandler.TriggerSync)

	integrations := api.Group("/integrations")
	integrations.Get("/:tenant_id/status", syncHandler.Status)
	integrations.Post("/:tenant_id/test-connection", syncHandler.TestConnection)

	// Synced orders
	orders := api.Group("/orders")
	orders.Get("/", orderHandler.ListOrders)
	orders.Get("/:id", orderHandler.GetOrder)
	orders.Get("/:id/lead-suggestions", orderHandler.LeadSuggestions)
}
