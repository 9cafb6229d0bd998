package store

import (
	"context"
	"time"

	"github.com/joescharf/crm/internal/models"
)

// Store is the sync facade the CRM core reads from and writes to.
// Every call is scoped to an owner: reads and writes against a record owned
// by someone else fail with crmerr.PermissionDenied, unknown ids with
// crmerr.NotFound, and infrastructure failures with crmerr.Transport.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *models.Lead) error
	GetLead(ctx context.Context, ownerID, id string) (*models.Lead, error)
	ListLeads(ctx context.Context, ownerID string) ([]*models.Lead, error)
	UpdateLead(ctx context.Context, lead *models.Lead) error
	DeleteLead(ctx context.Context, ownerID, id string) error

	// Deals
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, ownerID, id string) (*models.Deal, error)
	ListDeals(ctx context.Context, ownerID string) ([]*models.Deal, error)
	UpdateDeal(ctx context.Context, deal *models.Deal) error
	DeleteDeal(ctx context.Context, ownerID, id string) error

	// Follow-up tasks
	CreateTask(ctx context.Context, task *models.FollowUpTask) error
	GetTask(ctx context.Context, ownerID, id string) (*models.FollowUpTask, error)
	ListTasks(ctx context.Context, ownerID string) ([]*models.FollowUpTask, error)
	UpdateTask(ctx context.Context, task *models.FollowUpTask) error
	DeleteTask(ctx context.Context, ownerID, id string) error

	// Subscribe streams full snapshots of one collection for one owner,
	// starting with the current state and repeating after every change.
	Subscribe(ctx context.Context, kind models.Kind, ownerID string) (*Subscription, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Transactor is implemented by stores that can apply several writes atomically.
// Writes made through the Store passed to fn are committed together or not at all.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Snapshot is one whole-collection view delivered to a subscriber.
// Exactly one of Leads, Deals or Tasks is populated, matching Kind.
// When the read behind the snapshot failed, Err is set and the collections are nil.
type Snapshot struct {
	Kind    models.Kind
	OwnerID string
	Leads   []*models.Lead
	Deals   []*models.Deal
	Tasks   []*models.FollowUpTask
	Err     error
	At      time.Time
}

// Len returns the number of entities in the snapshot.
func (s Snapshot) Len() int {
	switch s.Kind {
	case models.KindLeads:
		return len(s.Leads)
	case models.KindDeals:
		return len(s.Deals)
	case models.KindTasks:
		return len(s.Tasks)
	}
	return 0
}
