package store

import (
	"context"
	"time"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// Subscription is a live stream of snapshots. C is closed after Close or when
// the context passed to Subscribe is cancelled.
type Subscription struct {
	C <-chan Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// subscribe implements Store.Subscribe for any store that reports its writes
// through n. A slow reader only ever sees the newest snapshot.
func subscribe(ctx context.Context, st Store, n Notifier, kind models.Kind, ownerID string) (*Subscription, error) {
	if !kind.Valid() {
		return nil, crmerr.Validation("subscribe", "unknown collection %q", kind)
	}
	if ownerID == "" {
		return nil, crmerr.WithOp("subscribe", crmerr.PermissionDenied(string(kind), ""))
	}

	ctx, cancel := context.WithCancel(ctx)
	signals, stopListening, err := n.Listen(ctx, ownerID, kind)
	if err != nil {
		cancel()
		return nil, crmerr.Transport("subscribe", err)
	}

	out := make(chan Snapshot, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		defer stopListening()

		deliver := func() bool {
			snap := loadSnapshot(ctx, st, kind, ownerID)
			for {
				select {
				case out <- snap:
					return true
				case <-ctx.Done():
					return false
				default:
					select {
					case <-out: // drop the stale snapshot nobody read yet
					default:
					}
				}
			}
		}

		if !deliver() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok || !deliver() {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel, done: done}, nil
}

func loadSnapshot(ctx context.Context, st Store, kind models.Kind, ownerID string) Snapshot {
	snap := Snapshot{Kind: kind, OwnerID: ownerID, At: time.Now().UTC()}
	switch kind {
	case models.KindLeads:
		snap.Leads, snap.Err = st.ListLeads(ctx, ownerID)
	case models.KindDeals:
		snap.Deals, snap.Err = st.ListDeals(ctx, ownerID)
	case models.KindTasks:
		snap.Tasks, snap.Err = st.ListTasks(ctx, ownerID)
	}
	if snap.Err != nil {
		snap.Leads, snap.Deals, snap.Tasks = nil, nil, nil
	}
	return snap
}
