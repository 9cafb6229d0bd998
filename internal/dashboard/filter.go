package dashboard

import (
	"strings"

	"github.com/joescharf/crm/internal/models"
)

// LeadFilter selects a subset of leads for the leads list.
type LeadFilter string

const (
	FilterAll    LeadFilter = "all"
	FilterNew    LeadFilter = "new"
	FilterHot    LeadFilter = "hot"
	FilterAction LeadFilter = "action" // needs follow-up
)

// LeadFilters lists the filters in display order.
var LeadFilters = []LeadFilter{FilterAll, FilterNew, FilterHot, FilterAction}

// ParseLeadFilter matches s case-insensitively; empty means all.
func ParseLeadFilter(s string) (LeadFilter, bool) {
	if s == "" {
		return FilterAll, true
	}
	for _, f := range LeadFilters {
		if strings.EqualFold(s, string(f)) {
			return f, true
		}
	}
	return "", false
}

// Matches reports whether lead passes f.
func (f LeadFilter) Matches(lead *models.Lead) bool {
	switch f {
	case FilterNew:
		return lead.Status == models.LeadStatusNew
	case FilterHot:
		return lead.Temperature == models.TemperatureHot
	case FilterAction:
		return lead.NextAction != nil && (lead.NextAction.IsOverdue || lead.Status == models.LeadStatusNew)
	default:
		return true
	}
}

// FilterLeads returns the leads matching f, keeping their order.
func FilterLeads(leads []*models.Lead, f LeadFilter) []*models.Lead {
	out := []*models.Lead{}
	for _, l := range leads {
		if f.Matches(l) {
			out = append(out, l)
		}
	}
	return out
}
