package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

// Subscriber is the part of store.Store a Board reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, kind models.Kind, ownerID string) (*store.Subscription, error)
}

// Board is a live view over one owner's collections. Each snapshot replaces
// the matching collection. A snapshot carrying an error leaves the last good
// collection in place and marks that kind stale until the next good one.
type Board struct {
	mu      sync.RWMutex
	ownerID string
	leads   []*models.Lead
	deals   []*models.Deal
	tasks   []*models.FollowUpTask
	loaded  map[models.Kind]bool
	errs    map[models.Kind]error
	updated time.Time

	onChange func(*Board)
}

// NewBoard returns an empty board for ownerID.
func NewBoard(ownerID string) *Board {
	return &Board{
		ownerID: ownerID,
		loaded:  make(map[models.Kind]bool),
		errs:    make(map[models.Kind]error),
	}
}

// OnChange registers fn to run after every applied snapshot.
func (b *Board) OnChange(fn func(*Board)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Apply folds one snapshot into the board.
func (b *Board) Apply(snap store.Snapshot) {
	b.mu.Lock()
	if snap.OwnerID != "" && snap.OwnerID != b.ownerID {
		b.mu.Unlock()
		return
	}
	if snap.Err != nil {
		b.errs[snap.Kind] = snap.Err
	} else {
		delete(b.errs, snap.Kind)
		b.loaded[snap.Kind] = true
		switch snap.Kind {
		case models.KindLeads:
			b.leads = snap.Leads
		case models.KindDeals:
			b.deals = snap.Deals
		case models.KindTasks:
			b.tasks = snap.Tasks
		}
	}
	b.updated = snap.At
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn(b)
	}
}

// Run subscribes to all three collections and applies snapshots until ctx
// is done or a subscription ends.
func (b *Board) Run(ctx context.Context, src Subscriber) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subs := make([]*store.Subscription, 0, len(models.Kinds))
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()
	for _, kind := range models.Kinds {
		sub, err := src.Subscribe(ctx, kind, b.ownerID)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *store.Subscription) {
			defer wg.Done()
			defer cancel()
			for snap := range sub.C {
				b.Apply(snap)
			}
		}(sub)
	}
	<-ctx.Done()
	for _, s := range subs {
		s.Close()
	}
	subs = nil
	wg.Wait()
	return ctx.Err()
}

// Collections returns the current collections. The slices must not be modified.
func (b *Board) Collections() ([]*models.Lead, []*models.Deal, []*models.FollowUpTask) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.leads, b.deals, b.tasks
}

// Ready reports whether every collection has had at least one good snapshot.
func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, k := range models.Kinds {
		if !b.loaded[k] {
			return false
		}
	}
	return true
}

// Stale returns the error behind each collection currently showing old data.
func (b *Board) Stale() map[models.Kind]error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[models.Kind]error, len(b.errs))
	for k, err := range b.errs {
		out[k] = err
	}
	return out
}

// Summary computes the dashboard from the current collections.
func (b *Board) Summary(now time.Time) Summary {
	leads, deals, tasks := b.Collections()
	return Compute(leads, deals, tasks, now)
}

// UpdatedAt is the time of the last applied snapshot.
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
