// Package store persists POS integrations and synced order data. Every write
// is an upsert keyed by the upstream identifiers, so repeated syncs of the
// same window converge on the same rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: record not found")

// IntegrationStatus describes a status transition for a tenant's integration.
type IntegrationStatus struct {
	Status string
	// LastSyncAt is left untouched when nil.
	LastSyncAt *time.Time
	// LastError is cleared when nil unless KeepError is set.
	LastError *string
	KeepError bool
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	LeadID           *uuid.UUID
	FromBusinessDate int
	ToBusinessDate   int
	Limit            int
	Offset           int
}

// Store is the persistence surface used by the sync pipeline and the API.
type Store interface {
	GetIntegration(ctx context.Context, tenantID uuid.UUID) (*models.PosIntegration, error)
	UpdateIntegrationStatus(ctx context.Context, tenantID uuid.UUID, status IntegrationStatus) error
	ListLeads(ctx context.Context, tenantID uuid.UUID) ([]models.Lead, error)

	// UpsertOrder inserts or updates by (tenant_id, order_guid).
	UpsertOrder(ctx context.Context, order *models.PosOrder) error
	// UpsertOrderItems inserts or updates by (order_id, selection_guid).
	UpsertOrderItems(ctx context.Context, items []models.PosOrderItem) error
	// UpsertPayments inserts or updates by (order_id, payment_guid).
	UpsertPayments(ctx context.Context, payments []models.PosPayment) error

	ListOrders(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) ([]models.PosOrder, int64, error)
	GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.PosOrder, error)
}
