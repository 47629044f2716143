package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/example/posync/internal/models"
)

// ErrOrderWithoutChecks marks orders that have nothing to synchronize.
var ErrOrderWithoutChecks = errors.New("POS order has no checks")

// posRowNamespace seeds the deterministic IDs of synced rows, so that a
// re-synced order, its items and its payments keep their primary keys.
var posRowNamespace = uuid.MustParse("6f1b8f8e-3c1d-4f5e-9a57-2f8d0f3b7c41")

// NormalizedOrder is one POS order flattened into relational rows.
type NormalizedOrder struct {
	Order    models.PosOrder
	Items    []models.PosOrderItem
	Payments []models.PosPayment
}

// PosOrderID returns the stable row ID of a tenant's POS order.
func PosOrderID(tenantID uuid.UUID, orderGUID string) uuid.UUID {
	return uuid.NewSHA1(posRowNamespace, []byte(tenantID.String()+"|"+orderGUID))
}

// NormalizeOrder flattens the first check of raw into an order row, its
// selection tree into line items with parent links, and its payments. It
// does not modify raw and performs no I/O.
func NormalizeOrder(raw RawOrder, tenantID uuid.UUID, syncedAt time.Time) (*NormalizedOrder, error) {
	if raw.DecodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOrder, raw.DecodeErr)
	}
	if strings.TrimSpace(raw.GUID) == "" {
		return nil, fmt.Errorf("%w: missing order guid", ErrMalformedOrder)
	}
	if len(raw.Checks) == 0 {
		return nil, ErrOrderWithoutChecks
	}

	// Only the first check is synchronized; revenue reports assume one row per order.
	check := raw.Checks[0]
	orderID := PosOrderID(tenantID, raw.GUID)

	payload := raw.Raw
	if len(payload) == 0 {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode raw order: %w", err)
		}
		payload = encoded
	}

	var tipTotal float64
	for _, p := range check.Payments {
		tipTotal += p.TipAmount
	}

	order := models.PosOrder{
		TenantID:      tenantID,
		OrderGUID:     raw.GUID,
		CheckGUID:     check.GUID,
		DisplayNumber: check.DisplayNumber,
		BusinessDate:  raw.BusinessDate,
		OpenedAt:      parsePOSTime(raw.OpenedDate),
		ClosedAt:      parsePOSTime(raw.ClosedDate),
		PaidAt:        parsePOSTime(raw.PaidDate),
		Source:        raw.Source,
		Voided:        raw.Voided,
		GuestCount:    raw.NumberOfGuests,
		Subtotal:      check.Amount,
		TaxAmount:     check.TaxAmount,
		TipAmount:     tipTotal,
		TotalAmount:   check.TotalAmount,
		RawPayload:    datatypes.JSON(append([]byte(nil), payload...)),
		SyncedAt:      syncedAt,
	}
	order.ID = orderID

	if c := check.Customer; c != nil {
		order.CustomerName = optionalString(strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName)))
		order.CustomerEmail = optionalString(c.Email)
		order.CustomerPhone = optionalString(c.Phone)
	}

	if d := raw.DeliveryInfo; d != nil {
		order.DeliveryAddress = optionalString(joinAddress(d.Address1, d.Address2))
		order.DeliveryCity = optionalString(d.City)
		order.DeliveryState = optionalString(d.State)
		order.DeliveryZip = optionalString(d.ZipCode)
	}

	items, err := flattenSelections(check.Selections, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	payments := make([]models.PosPayment, 0, len(check.Payments))
	for i, p := range check.Payments {
		if strings.TrimSpace(p.GUID) == "" {
			return nil, fmt.Errorf("%w: payment %d has no guid", ErrMalformedOrder, i)
		}
		payment := models.PosPayment{
			TenantID:       tenantID,
			OrderID:        orderID,
			PaymentGUID:    p.GUID,
			Type:           p.Type,
			Amount:         p.Amount,
			TipAmount:      p.TipAmount,
			AmountTendered: p.AmountTendered,
			CardType:       optionalString(p.CardType),
			LastFour:       optionalString(p.Last4Digits),
			PaidDate:       parsePOSTime(p.PaidDate),
			RefundStatus:   optionalString(p.RefundStatus),
			Voided:         p.VoidInfo != nil,
		}
		payment.ID = uuid.NewSHA1(orderID, []byte("payment|"+p.GUID))
		payments = append(payments, payment)
	}

	return &NormalizedOrder{Order: order, Items: items, Payments: payments}, nil
}

// flattenSelections walks the selection tree depth first, emitting each
// parent before its modifiers.
func flattenSelections(selections []Selection, tenantID, orderID uuid.UUID) ([]models.PosOrderItem, error) {
	var items []models.PosOrderItem

	var walk func(level []Selection, parentID *uuid.UUID) error
	walk = func(level []Selection, parentID *uuid.UUID) error {
		for _, sel := range level {
			if strings.TrimSpace(sel.GUID) == "" {
				return fmt.Errorf("%w: selection %q has no guid", ErrMalformedOrder, sel.DisplayName)
			}

			quantity := sel.Quantity
			item := models.PosOrderItem{
				TenantID:      tenantID,
				OrderID:       orderID,
				SelectionGUID: sel.GUID,
				ParentItemID:  parentID,
				Name:          sel.DisplayName,
				Quantity:      quantity,
				UnitPrice:     sel.PreDiscountPrice / max(quantity, 1),
				Price:         sel.Price,
				TaxAmount:     sel.Tax,
				Voided:        sel.Voided,
				IsModifier:    parentID != nil,
			}
			item.ID = uuid.NewSHA1(orderID, []byte("selection|"+sel.GUID))
			items = append(items, item)

			if len(sel.Modifiers) > 0 {
				id := item.ID
				if err := walk(sel.Modifiers, &id); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(selections, nil); err != nil {
		return nil, err
	}
	return items, nil
}

// ItemNode is a line item with its modifiers nested beneath it.
type ItemNode struct {
	models.PosOrderItem
	Modifiers []ItemNode `json:"modifiers,omitempty"`
}

// BuildItemTree rebuilds the selection tree from flat line items by grouping
// children under ParentItemID. Items whose parent is missing become roots.
func BuildItemTree(items []models.PosOrderItem) []ItemNode {
	present := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		present[item.ID] = true
	}

	children := make(map[uuid.UUID][]models.PosOrderItem)
	var roots []models.PosOrderItem
	for _, item := range items {
		if item.ParentItemID == nil || !present[*item.ParentItemID] || *item.ParentItemID == item.ID {
			roots = append(roots, item)
			continue
		}
		children[*item.ParentItemID] = append(children[*item.ParentItemID], item)
	}

	visited := make(map[uuid.UUID]bool, len(items))
	var build func(item models.PosOrderItem) ItemNode
	build = func(item models.PosOrderItem) ItemNode {
		visited[item.ID] = true
		node := ItemNode{PosOrderItem: item}
		for _, child := range children[item.ID] {
			if visited[child.ID] {
				continue
			}
			node.Modifiers = append(node.Modifiers, build(child))
		}
		return node
	}

	tree := make([]ItemNode, 0, len(roots))
	for _, root := range roots {
		tree = append(tree, build(root))
	}
	return tree
}

func parsePOSTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{toastTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func joinAddress(line1, line2 string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{line1, line2} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
