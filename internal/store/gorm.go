package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/posync/internal/models"
)

var (
	orderUpdateColumns = []string{
		"check_guid", "display_number", "business_date", "opened_at", "closed_at", "paid_at",
		"source", "voided", "guest_count", "subtotal", "tax_amount", "tip_amount", "total_amount",
		"customer_name", "customer_email", "customer_phone",
		"delivery_address", "delivery_city", "delivery_state", "delivery_zip",
		"lead_id", "raw_payload", "synced_at", "updated_at",
	}
	itemUpdateColumns = []string{
		"parent_item_id", "name", "quantity", "unit_price", "price", "tax_amount",
		"voided", "is_modifier", "updated_at",
	}
	paymentUpdateColumns = []string{
		"type", "amount", "tip_amount", "amount_tendered", "card_type", "last_four",
		"paid_date", "refund_status", "voided", "updated_at",
	}
)

// GormStore implements Store on top of gorm with Postgres ON CONFLICT upserts.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetIntegration(ctx context.Context, tenantID uuid.UUID) (*models.PosIntegration, error) {
	var integration models.PosIntegration
	if err := s.db.WithContext(ctx).First(&integration, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &integration, nil
}

func (s *GormStore) UpdateIntegrationStatus(ctx context.Context, tenantID uuid.UUID, status IntegrationStatus) error {
	updates := map[string]any{
		"last_sync_status": status.Status,
	}
	if status.LastSyncAt != nil {
		updates["last_sync_at"] = *status.LastSyncAt
	}
	if !status.KeepError {
		updates["last_error"] = status.LastError
	}

	res := s.db.WithContext(ctx).Model(&models.PosIntegration{}).
		Where("tenant_id = ?", tenantID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListLeads(ctx context.Context, tenantID uuid.UUID) ([]models.Lead, error) {
	var leads []models.Lead
	if err := s.db.WithContext(ctx).
		Select("id, tenant_id, name, email, phone, created_at, updated_at").
		Where("tenant_id = ?", tenantID).
		Order("created_at asc").
		Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *GormStore) UpsertOrder(ctx context.Context, order *models.PosOrder) error {
	return upsert(s.db.WithContext(ctx).Omit(clause.Associations), order,
		[]string{"tenant_id", "order_guid"}, orderUpdateColumns)
}

func (s *GormStore) UpsertOrderItems(ctx context.Context, items []models.PosOrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return upsert(s.db.WithContext(ctx), &items,
		[]string{"order_id", "selection_guid"}, itemUpdateColumns)
}

func (s *GormStore) UpsertPayments(ctx context.Context, payments []models.PosPayment) error {
	if len(payments) == 0 {
		return nil
	}
	return upsert(s.db.WithContext(ctx), &payments,
		[]string{"order_id", "payment_guid"}, paymentUpdateColumns)
}

// upsert inserts value, updating updateCols when a row with the same
// conflictCols already exists. The conflict columns must carry a unique index.
func upsert(tx *gorm.DB, value any, conflictCols, updateCols []string) error {
	columns := make([]clause.Column, 0, len(conflictCols))
	for _, name := range conflictCols {
		columns = append(columns, clause.Column{Name: name})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updateCols),
	}).Create(value).Error
}

func (s *GormStore) ListOrders(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) ([]models.PosOrder, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PosOrder{}).Where("tenant_id = ?", tenantID)

	if filter.LeadID != nil {
		query = query.Where("lead_id = ?", *filter.LeadID)
	}
	if filter.FromBusinessDate > 0 {
		query = query.Where("business_date >= ?", filter.FromBusinessDate)
	}
	if filter.ToBusinessDate > 0 {
		query = query.Where("business_date <= ?", filter.ToBusinessDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.PosOrder
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Order("business_date desc, opened_at desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *GormStore) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.PosOrder, error) {
	var order models.PosOrder
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Payments").
		First(&order, "id = ? AND tenant_id = ?", orderID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}
