package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
)

type orderKey struct {
	tenantID uuid.UUID
	guid     string
}

type childKey struct {
	orderID uuid.UUID
	guid    string
}

// MemoryStore is an in-process Store with the same conflict keys as the
// Postgres schema. It backs tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]models.PosIntegration
	leads        map[uuid.UUID][]models.Lead
	orders       map[orderKey]models.PosOrder
	items        map[childKey]models.PosOrderItem
	payments     map[childKey]models.PosPayment
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		integrations: make(map[uuid.UUID]models.PosIntegration),
		leads:        make(map[uuid.UUID][]models.Lead),
		orders:       make(map[orderKey]models.PosOrder),
		items:        make(map[childKey]models.PosOrderItem),
		payments:     make(map[childKey]models.PosPayment),
		now:          time.Now,
	}
}

// PutIntegration creates or replaces the integration for its tenant.
func (m *MemoryStore) PutIntegration(integration models.PosIntegration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if integration.ID == uuid.Nil {
		integration.ID = uuid.New()
	}
	if integration.LastSyncStatus == "" {
		integration.LastSyncStatus = models.SyncStatusNever
	}
	m.integrations[integration.TenantID] = integration
}

// AddLead appends a lead to its tenant's roster.
func (m *MemoryStore) AddLead(lead models.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	m.leads[lead.TenantID] = append(m.leads[lead.TenantID], lead)
}

// Counts reports the number of stored orders, line items and payments.
func (m *MemoryStore) Counts() (orders, items, payments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), len(m.items), len(m.payments)
}

func (m *MemoryStore) GetIntegration(_ context.Context, tenantID uuid.UUID) (*models.PosIntegration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	integration, ok := m.integrations[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &integration, nil
}

func (m *MemoryStore) UpdateIntegrationStatus(_ context.Context, tenantID uuid.UUID, status IntegrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	integration, ok := m.integrations[tenantID]
	if !ok {
		return ErrNotFound
	}
	integration.LastSyncStatus = status.Status
	if status.LastSyncAt != nil {
		t := *status.LastSyncAt
		integration.LastSyncAt = &t
	}
	if !status.KeepError {
		integration.LastError = status.LastError
	}
	integration.UpdatedAt = m.now()
	m.integrations[tenantID] = integration
	return nil
}

func (m *MemoryStore) ListLeads(_ context.Context, tenantID uuid.UUID) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leads := make([]models.Lead, len(m.leads[tenantID]))
	copy(leads, m.leads[tenantID])
	return leads, nil
}

func (m *MemoryStore) UpsertOrder(_ context.Context, order *models.PosOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := orderKey{tenantID: order.TenantID, guid: order.OrderGUID}
	now := m.now()

	row := *order
	row.Items = nil
	row.Payments = nil
	if existing, ok := m.orders[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.orders[key] = row

	order.ID = row.ID
	order.CreatedAt = row.CreatedAt
	order.UpdatedAt = row.UpdatedAt
	return nil
}

func (m *MemoryStore) UpsertOrderItems(_ context.Context, items []models.PosOrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, item := range items {
		key := childKey{orderID: item.OrderID, guid: item.SelectionGUID}
		if existing, ok := m.items[key]; ok {
			item.ID = existing.ID
			item.CreatedAt = existing.CreatedAt
		} else {
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		m.items[key] = item
	}
	return nil
}

func (m *MemoryStore) UpsertPayments(_ context.Context, payments []models.PosPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, payment := range payments {
		key := childKey{orderID: payment.OrderID, guid: payment.PaymentGUID}
		if existing, ok := m.payments[key]; ok {
			payment.ID = existing.ID
			payment.CreatedAt = existing.CreatedAt
		} else {
			if payment.ID == uuid.Nil {
				payment.ID = uuid.New()
			}
			payment.CreatedAt = now
		}
		payment.UpdatedAt = now
		m.payments[key] = payment
	}
	return nil
}

func (m *MemoryStore) ListOrders(_ context.Context, tenantID uuid.UUID, filter OrderFilter) ([]models.PosOrder, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.PosOrder
	for key, order := range m.orders {
		if key.tenantID != tenantID {
			continue
		}
		if filter.LeadID != nil && (order.LeadID == nil || *order.LeadID != *filter.LeadID) {
			continue
		}
		if filter.FromBusinessDate > 0 && order.BusinessDate < filter.FromBusinessDate {
			continue
		}
		if filter.ToBusinessDate > 0 && order.BusinessDate > filter.ToBusinessDate {
			continue
		}
		matched = append(matched, order)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BusinessDate != matched[j].BusinessDate {
			return matched[i].BusinessDate > matched[j].BusinessDate
		}
		return matched[i].OrderGUID < matched[j].OrderGUID
	})

	total := int64(len(matched))
	if filter.Limit > 0 {
		start := min(filter.Offset, len(matched))
		end := min(start+filter.Limit, len(matched))
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, tenantID, orderID uuid.UUID) (*models.PosOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, order := range m.orders {
		if key.tenantID != tenantID || order.ID != orderID {
			continue
		}
		for _, item := range m.items {
			if item.OrderID == orderID {
				order.Items = append(order.Items, item)
			}
		}
		for _, payment := range m.payments {
			if payment.OrderID == orderID {
				order.Payments = append(order.Payments, payment)
			}
		}
		sort.Slice(order.Items, func(i, j int) bool { return order.Items[i].SelectionGUID < order.Items[j].SelectionGUID })
		sort.Slice(order.Payments, func(i, j int) bool { return order.Payments[i].PaymentGUID < order.Payments[j].PaymentGUID })
		return &order, nil
	}
	return nil, ErrNotFound
}
