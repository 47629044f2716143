package services

import (
	"testing"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
)

func newLead(name, email, phone string) models.Lead {
	lead := models.Lead{Name: name, Email: email, Phone: phone}
	lead.ID = uuid.New()
	return lead
}

func strPtr(s string) *string { return &s }

func TestLeadIndex_EmailTakesPrecedence(t *testing.T) {
	byEmail := newLead("A", "a@x.com", "555-0100")
	byPhone := newLead("B", "b@x.com", "(555) 123-4567")
	idx := NewLeadIndex([]models.Lead{byEmail, byPhone})

	order := &models.PosOrder{CustomerEmail: strPtr("  A@X.com "), CustomerPhone: strPtr("5551234567")}
	got := idx.Match(order)
	if got == nil || *got != byEmail.ID {
		t.Fatalf("expected email match %s, got %v", byEmail.ID, got)
	}
}

func TestLeadIndex_PhoneFallback(t *testing.T) {
	lead := newLead("B", "b@x.com", "(555) 123-4567")
	idx := NewLeadIndex([]models.Lead{lead})

	order := &models.PosOrder{CustomerEmail: strPtr("nobody@x.com"), CustomerPhone: strPtr("555.123.4567")}
	got := idx.Match(order)
	if got == nil || *got != lead.ID {
		t.Fatalf("expected phone match %s, got %v", lead.ID, got)
	}
}

func TestLeadIndex_NoMatch(t *testing.T) {
	idx := NewLeadIndex([]models.Lead{
		newLead("A", "a@x.com", "5550100"),
		newLead("Empty", "", ""),
	})

	tests := []struct {
		name  string
		order *models.PosOrder
	}{
		{"no contact", &models.PosOrder{}},
		{"unknown email", &models.PosOrder{CustomerEmail: strPtr("z@x.com")}},
		{"phone without digits", &models.PosOrder{CustomerPhone: strPtr("n/a")}},
		{"partial phone", &models.PosOrder{CustomerPhone: strPtr("0100")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idx.Match(tt.order); got != nil {
				t.Errorf("expected no match, got %s", got)
			}
		})
	}
}

func TestLeadIndex_FirstLeadWinsOnDuplicateKeys(t *testing.T) {
	first := newLead("First", "dup@x.com", "5550100")
	second := newLead("Second", "DUP@x.com", "555-0100")
	idx := NewLeadIndex([]models.Lead{first, second})

	if got := idx.Match(&models.PosOrder{CustomerEmail: strPtr("dup@x.com")}); got == nil || *got != first.ID {
		t.Errorf("expected first lead on email, got %v", got)
	}
	if got := idx.Match(&models.PosOrder{CustomerPhone: strPtr("5550100")}); got == nil || *got != first.ID {
		t.Errorf("expected first lead on phone, got %v", got)
	}
}

func TestSuggestLeads_ScoresAndOrders(t *testing.T) {
	exact := newLead("Jane Doe", "jane@x.com", "+1 (512) 555-0100")
	partial := newLead("Jane Smith", "other@x.com", "737-555-0100")
	unrelated := newLead("Bob", "bob@x.com", "111")

	order := &models.PosOrder{
		CustomerName:  strPtr("jane  doe"),
		CustomerEmail: strPtr("JANE@x.com"),
		CustomerPhone: strPtr("15125550100"),
	}

	got := SuggestLeads(order, []models.Lead{partial, unrelated, exact}, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}

	if got[0].LeadID != exact.ID || got[0].Score != suggestEmailScore+suggestPhoneScore+suggestNameExactScore {
		t.Errorf("unexpected top suggestion %+v", got[0])
	}
	if got[1].LeadID != partial.ID || got[1].Score != suggestPartialPhoneScore+suggestNamePartialScore {
		t.Errorf("unexpected second suggestion %+v", got[1])
	}

	if limited := SuggestLeads(order, []models.Lead{partial, unrelated, exact}, 1); len(limited) != 1 {
		t.Errorf("expected limit to cap suggestions, got %d", len(limited))
	}
}
