package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/posync/internal/middleware"
	"github.com/example/posync/internal/models"
	"github.com/example/posync/internal/services"
	"github.com/example/posync/internal/store"
	"github.com/example/posync/internal/utils"
)

const defaultSuggestionLimit = 5

// OrderHandler serves synced POS orders.
type OrderHandler struct {
	store store.Store
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(st store.Store) *OrderHandler {
	return &OrderHandler{store: st}
}

type listOrdersQuery struct {
	LeadID string `json:"lead_id" validate:"omitempty,uuid"`
	From   string `json:"from" validate:"omitempty,posdate"`
	To     string `json:"to" validate:"omitempty,posdate"`
}

type orderDetail struct {
	*models.PosOrder
	Items []services.ItemNode `json:"items"`
}

// ListOrders returns the tenant's synced orders, newest business date first.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	tenantID, ok := middleware.GetCurrentTenantID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	q := listOrdersQuery{
		LeadID: c.Query("lead_id"),
		From:   c.Query("from"),
		To:     c.Query("to"),
	}
	if err := utils.ValidateStruct(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	pg := utils.ParsePagination(c)
	filter := store.OrderFilter{
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if q.LeadID != "" {
		id := uuid.MustParse(q.LeadID)
		filter.LeadID = &id
	}
	if q.From != "" {
		filter.FromBusinessDate = businessDate(q.From)
	}
	if q.To != "" {
		filter.ToBusinessDate = businessDate(q.To)
	}

	orders, total, err := h.store.ListOrders(c.UserContext(), tenantID, filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetOrder returns a single order with its line items nested under their parents.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.loadOrder(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": orderDetail{
			PosOrder: order,
			Items:    services.BuildItemTree(order.Items),
		},
	})
}

// LeadSuggestions ranks the tenant's leads as candidates for an order's customer.
func (h *OrderHandler) LeadSuggestions(c *fiber.Ctx) error {
	order, err := h.loadOrder(c)
	if err != nil {
		return err
	}

	leads, err := h.store.ListLeads(c.UserContext(), order.TenantID)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultSuggestionLimit)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    services.SuggestLeads(order, leads, limit),
	})
}

func (h *OrderHandler) loadOrder(c *fiber.Ctx) (*models.PosOrder, error) {
	tenantID, ok := middleware.GetCurrentTenantID(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	order, err := h.store.GetOrder(c.UserContext(), tenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

// businessDate converts a validated date to the POS yyyymmdd form.
func businessDate(value string) int {
	t, err := utils.ParseDate(value)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(t.Format("20060102"))
	return n
}
