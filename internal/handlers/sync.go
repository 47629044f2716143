package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/middleware"
	"github.com/example/posync/internal/services"
	"github.com/example/posync/internal/store"
	"github.com/example/posync/internal/utils"
)

// SyncHandler exposes the POS sync trigger and integration endpoints.
type SyncHandler struct {
	store        store.Store
	orchestrator *services.SyncOrchestrator
	tokens       *services.TokenCache
	httpClient   *http.Client
	metrics      *services.SyncMetrics
	logger       *zap.Logger
}

// NewSyncHandler builds a SyncHandler. tokens and httpClient are shared with
// the orchestrator's POS clients.
func NewSyncHandler(st store.Store, orchestrator *services.SyncOrchestrator, tokens *services.TokenCache, httpClient *http.Client, metrics *services.SyncMetrics, log *zap.Logger) *SyncHandler {
	return &SyncHandler{
		store:        st,
		orchestrator: orchestrator,
		tokens:       tokens,
		httpClient:   httpClient,
		metrics:      metrics,
		logger:       log,
	}
}

type syncRequest struct {
	TenantID  string `json:"tenant_id" validate:"required,uuid"`
	StartDate string `json:"start_date" validate:"omitempty,posdate"`
	EndDate   string `json:"end_date" validate:"omitempty,posdate"`
}

// TriggerSync runs a synchronization for the caller's tenant and returns its stats.
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	tenantID, err := middleware.AuthorizeTenant(c, req.TenantID)
	if err != nil {
		return err
	}

	var opts services.SyncOptions
	if req.StartDate != "" {
		start, _ := utils.ParseDate(req.StartDate)
		opts.StartDate = &start
	}
	if req.EndDate != "" {
		end, _ := utils.ParseDate(req.EndDate)
		opts.EndDate = &end
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return fiber.NewError(fiber.StatusBadRequest, "end_date must not be before start_date")
	}

	stats, err := h.orchestrator.RunSync(c.UserContext(), tenantID, opts)
	if err != nil {
		return h.syncError(c, stats, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
	})
}

func (h *SyncHandler) syncError(c *fiber.Ctx, stats *services.SyncRunStats, err error) error {
	var (
		rateErr  *services.RateLimitedError
		authErr  *services.AuthenticationError
		fetchErr *services.UpstreamFetchError
		status   int
	)

	switch {
	case errors.Is(err, services.ErrIntegrationNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrSyncInProgress):
		status = fiber.StatusConflict
	case errors.As(err, &rateErr):
		status = fiber.StatusTooManyRequests
		if rateErr.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		}
	case errors.As(err, &authErr), errors.As(err, &fetchErr):
		status = fiber.StatusBadGateway
	default:
		logger.FromContext(c.UserContext()).Error("sync failed", zap.Error(err))
		return err
	}

	body := fiber.Map{
		"success": false,
		"error":   err.Error(),
	}
	if stats != nil {
		body["stats"] = stats
	}
	return c.Status(status).JSON(body)
}

// Status reports the integration's last sync outcome. Credentials are never returned.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	tenantID, err := middleware.AuthorizeTenant(c, c.Params("tenant_id"))
	if err != nil {
		return err
	}

	integration, err := h.store.GetIntegration(c.UserContext(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"tenant_id":        integration.TenantID,
			"is_active":        integration.IsActive,
			"restaurant_guid":  integration.RestaurantGUID,
			"last_sync_status": integration.LastSyncStatus,
			"last_sync_at":     integration.LastSyncAt,
			"last_error":       integration.LastError,
		},
	})
}

// TestConnection checks that the stored credentials authenticate against the POS.
func (h *SyncHandler) TestConnection(c *fiber.Ctx) error {
	tenantID, err := middleware.AuthorizeTenant(c, c.Params("tenant_id"))
	if err != nil {
		return err
	}

	integration, err := h.store.GetIntegration(c.UserContext(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}
		return err
	}

	opts := []services.ToastClientOption{
		services.WithClientLogger(h.logger),
		services.WithClientMetrics(h.metrics),
	}
	if h.httpClient != nil {
		opts = append(opts, services.WithHTTPClient(h.httpClient))
	}
	client := services.NewToastClient(services.CredentialsFromIntegration(*integration), h.tokens, opts...)

	started := time.Now()
	result := client.TestConnection(c.UserContext())
	logger.FromContext(c.UserContext()).Info("POS connection test",
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("success", result.Success),
		zap.Duration("elapsed", time.Since(started)),
	)

	return c.JSON(result)
}

