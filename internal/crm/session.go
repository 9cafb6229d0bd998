package crm

import (
	"strings"

	"github.com/joescharf/crm/internal/crmerr"
)

// Session identifies who is acting. Every Service call takes one explicitly.
type Session struct {
	OwnerID string
	User    string // display name recorded on history entries; defaults to OwnerID
}

// NewSession returns a session for ownerID acting as user.
func NewSession(ownerID, user string) Session {
	return Session{OwnerID: strings.TrimSpace(ownerID), User: strings.TrimSpace(user)}
}

func (s Session) check(op string) error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return crmerr.WithOp(op, crmerr.PermissionDenied("", ""))
	}
	return nil
}

func (s Session) actor() string {
	if s.User != "" {
		return s.User
	}
	return s.OwnerID
}
