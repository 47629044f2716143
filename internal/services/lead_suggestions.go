package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
)

// Manual-review scoring weights.
const (
	suggestEmailScore        = 100
	suggestPhoneScore        = 80
	suggestPartialPhoneScore = 40
	suggestNameExactScore    = 60
	suggestNamePartialScore  = 30

	partialPhoneDigits = 7
)

// LeadSuggestion is a candidate lead for an order, for a human to confirm.
type LeadSuggestion struct {
	LeadID  uuid.UUID `json:"lead_id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Phone   string    `json:"phone"`
	Score   int       `json:"score"`
	Reasons []string  `json:"reasons"`
}

// SuggestLeads scores every lead against the order's customer. Unlike
// LeadIndex.Match it accepts partial phone and name overlap, so its output is
// only ever shown for manual confirmation and never applied automatically.
func SuggestLeads(order *models.PosOrder, leads []models.Lead, limit int) []LeadSuggestion {
	email := normalizeEmail(deref(order.CustomerEmail))
	phone := normalizePhone(deref(order.CustomerPhone))
	name := normalizeName(deref(order.CustomerName))

	var suggestions []LeadSuggestion
	for _, lead := range leads {
		s := LeadSuggestion{LeadID: lead.ID, Name: lead.Name, Email: lead.Email, Phone: lead.Phone}

		if email != "" && normalizeEmail(lead.Email) == email {
			s.Score += suggestEmailScore
			s.Reasons = append(s.Reasons, "email")
		}

		leadPhone := normalizePhone(lead.Phone)
		switch {
		case phone != "" && leadPhone == phone:
			s.Score += suggestPhoneScore
			s.Reasons = append(s.Reasons, "phone")
		case len(phone) >= partialPhoneDigits && len(leadPhone) >= partialPhoneDigits &&
			phone[len(phone)-partialPhoneDigits:] == leadPhone[len(leadPhone)-partialPhoneDigits:]:
			s.Score += suggestPartialPhoneScore
			s.Reasons = append(s.Reasons, "partial_phone")
		}

		leadName := normalizeName(lead.Name)
		switch {
		case name != "" && leadName == name:
			s.Score += suggestNameExactScore
			s.Reasons = append(s.Reasons, "name")
		case name != "" && leadName != "" && sharesToken(name, leadName):
			s.Score += suggestNamePartialScore
			s.Reasons = append(s.Reasons, "partial_name")
		}

		if s.Score > 0 {
			suggestions = append(suggestions, s)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func sharesToken(a, b string) bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		if len(t) > 1 {
			tokens[t] = true
		}
	}
	for _, t := range strings.Fields(b) {
		if tokens[t] {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
