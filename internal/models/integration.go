package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync status values stored on PosIntegration.LastSyncStatus.
const (
	SyncStatusNever       = "never"
	SyncStatusInProgress  = "in_progress"
	SyncStatusSuccess     = "success"
	SyncStatusError       = "error"
	SyncStatusRateLimited = "rate_limited"
)

// PosIntegration holds one tenant's POS credentials and the outcome of its
// most recent synchronization run.
type PosIntegration struct {
	BaseModel
	TenantID       uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"tenant_id"`
	ClientID       string     `json:"client_id"`
	ClientSecret   string     `json:"-"`
	RestaurantGUID string     `json:"restaurant_guid"`
	BaseURL        string     `json:"base_url"`
	IsActive       bool       `json:"is_active"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastSyncStatus string     `gorm:"default:never" json:"last_sync_status"`
	LastError      *string    `json:"last_error"`
}

// Lead is a CRM lead. The sync pipeline only reads it.
type Lead struct {
	BaseModel
	TenantID uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
}
