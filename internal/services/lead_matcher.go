package services

import (
	"strings"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
)

// LeadIndex resolves synced orders to leads by exact contact identity. It is
// built once per sync run from the tenant's full lead roster.
type LeadIndex struct {
	byEmail map[string]uuid.UUID
	byPhone map[string]uuid.UUID
}

// NewLeadIndex indexes leads by lowercased email and digits-only phone. When
// two leads share a key the first one wins.
func NewLeadIndex(leads []models.Lead) *LeadIndex {
	idx := &LeadIndex{
		byEmail: make(map[string]uuid.UUID, len(leads)),
		byPhone: make(map[string]uuid.UUID, len(leads)),
	}
	for _, lead := range leads {
		if key := normalizeEmail(lead.Email); key != "" {
			if _, taken := idx.byEmail[key]; !taken {
				idx.byEmail[key] = lead.ID
			}
		}
		if key := normalizePhone(lead.Phone); key != "" {
			if _, taken := idx.byPhone[key]; !taken {
				idx.byPhone[key] = lead.ID
			}
		}
	}
	return idx
}

// Match returns the lead for the order's customer, trying email before phone.
func (idx *LeadIndex) Match(order *models.PosOrder) *uuid.UUID {
	if order.CustomerEmail != nil {
		if id, ok := idx.byEmail[normalizeEmail(*order.CustomerEmail)]; ok {
			return &id
		}
	}
	if order.CustomerPhone != nil {
		if key := normalizePhone(*order.CustomerPhone); key != "" {
			if id, ok := idx.byPhone[key]; ok {
				return &id
			}
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
