package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PosOrder is one synced POS order, flattened from its first check.
type PosOrder struct {
	BaseModel
	TenantID        uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_pos_orders_tenant_guid" json:"tenant_id"`
	OrderGUID       string         `gorm:"uniqueIndex:idx_pos_orders_tenant_guid" json:"order_guid"`
	CheckGUID       string         `json:"check_guid"`
	DisplayNumber   string         `json:"display_number"`
	BusinessDate    int            `gorm:"index" json:"business_date"`
	OpenedAt        *time.Time     `json:"opened_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	PaidAt          *time.Time     `json:"paid_at"`
	Source          string         `json:"source"`
	Voided          bool           `json:"voided"`
	GuestCount      int            `json:"guest_count"`
	Subtotal        float64        `json:"subtotal"`
	TaxAmount       float64        `json:"tax_amount"`
	TipAmount       float64        `json:"tip_amount"`
	TotalAmount     float64        `json:"total_amount"`
	CustomerName    *string        `json:"customer_name"`
	CustomerEmail   *string        `json:"customer_email"`
	CustomerPhone   *string        `json:"customer_phone"`
	DeliveryAddress *string        `json:"delivery_address"`
	DeliveryCity    *string        `json:"delivery_city"`
	DeliveryState   *string        `json:"delivery_state"`
	DeliveryZip     *string        `json:"delivery_zip"`
	LeadID          *uuid.UUID     `gorm:"type:uuid;index" json:"lead_id"`
	RawPayload      datatypes.JSON `gorm:"type:jsonb" json:"-"`
	SyncedAt        time.Time      `json:"synced_at"`
	Items           []PosOrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Payments        []PosPayment   `gorm:"foreignKey:OrderID" json:"payments,omitempty"`
}

// PosOrderItem is one selection of an order's check. Modifiers point at the
// selection they modify through ParentItemID.
type PosOrderItem struct {
	BaseModel
	TenantID      uuid.UUID  `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID       uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_pos_items_order_selection" json:"order_id"`
	SelectionGUID string     `gorm:"uniqueIndex:idx_pos_items_order_selection" json:"selection_guid"`
	ParentItemID  *uuid.UUID `gorm:"type:uuid;index" json:"parent_item_id"`
	Name          string     `json:"name"`
	Quantity      float64    `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	Price         float64    `json:"price"`
	TaxAmount     float64    `json:"tax_amount"`
	Voided        bool       `json:"voided"`
	IsModifier    bool       `json:"is_modifier"`
}

// PosPayment is one payment recorded against an order's check.
type PosPayment struct {
	BaseModel
	TenantID       uuid.UUID  `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID        uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_pos_payments_order_payment" json:"order_id"`
	PaymentGUID    string     `gorm:"uniqueIndex:idx_pos_payments_order_payment" json:"payment_guid"`
	Type           string     `json:"type"`
	Amount         float64    `json:"amount"`
	TipAmount      float64    `json:"tip_amount"`
	AmountTendered float64    `json:"amount_tendered"`
	CardType       *string    `json:"card_type"`
	LastFour       *string    `json:"last_four"`
	PaidDate       *time.Time `json:"paid_date"`
	RefundStatus   *string    `json:"refund_status"`
	Voided         bool       `json:"voided"`
}
