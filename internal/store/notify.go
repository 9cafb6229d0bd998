package store

import (
	"context"
	"sync"

	"github.com/joescharf/crm/internal/models"
)

// Notifier carries "collection changed" signals from writers to subscribers.
type Notifier interface {
	// Notify signals that ownerID's collection of kind changed.
	Notify(ctx context.Context, ownerID string, kind models.Kind) error
	// Listen returns a channel that receives a value after each change and a
	// function that stops listening. Signals may be coalesced.
	Listen(ctx context.Context, ownerID string, kind models.Kind) (<-chan struct{}, func(), error)
	Close() error
}

func changeKey(ownerID string, kind models.Kind) string {
	return ownerID + ":" + string(kind)
}

// LocalNotifier fans out change signals within the current process.
type LocalNotifier struct {
	mu        sync.Mutex
	next      int
	listeners map[string]map[int]chan struct{}
}

// NewLocalNotifier returns an in-process Notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[int]chan struct{})}
}

func (n *LocalNotifier) Notify(_ context.Context, ownerID string, kind models.Kind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.listeners[changeKey(ownerID, kind)] {
		select {
		case ch <- struct{}{}:
		default: // a signal is already pending
		}
	}
	return nil
}

func (n *LocalNotifier) Listen(_ context.Context, ownerID string, kind models.Kind) (<-chan struct{}, func(), error) {
	key := changeKey(ownerID, kind)
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	id := n.next
	n.next++
	if n.listeners[key] == nil {
		n.listeners[key] = make(map[int]chan struct{})
	}
	n.listeners[key][id] = ch
	n.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners[key], id)
			if len(n.listeners[key]) == 0 {
				delete(n.listeners, key)
			}
			n.mu.Unlock()
		})
	}
	return ch, stop, nil
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	n.listeners = make(map[string]map[int]chan struct{})
	n.mu.Unlock()
	return nil
}
