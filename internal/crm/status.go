package crm

import (
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// ValidateStatusChange is the lead status policy. Statuses form an open
// lattice: any known status may follow any other, so only unknown values are
// rejected. Qualified is normally reached through PromoteLead, but an agent
// may also set it by hand.
func ValidateStatusChange(from, to models.LeadStatus) error {
	if !to.Valid() {
		return crmerr.Validation("update lead", "unknown lead status %q", to)
	}
	return nil
}
