// Package events publishes CRM domain events to a message broker.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event; it doubles as the AMQP routing key.
type Type string

const (
	LeadCreated     Type = "lead.created"
	LeadUpdated     Type = "lead.updated"
	LeadDeleted     Type = "lead.deleted"
	LeadPromoted    Type = "lead.promoted"
	DealCreated     Type = "deal.created"
	DealUpdated     Type = "deal.updated"
	DealStageMoved  Type = "deal.stage_moved"
	DealWithdrawn   Type = "deal.withdrawn"
	TaskCreated     Type = "task.created"
	TaskCompleted   Type = "task.completed"
	TaskRescheduled Type = "task.rescheduled"
)

// Event is one published fact about a CRM entity.
type Event struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	OwnerID  string         `json:"owner_id"`
	EntityID string         `json:"entity_id"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// New returns an event with a fresh id and the current time.
func New(t Type, ownerID, entityID string, data map[string]any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		OwnerID:  ownerID,
		EntityID: entityID,
		At:       time.Now().UTC(),
		Data:     data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory. Used by tests and --dry-run.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the type of every recorded event in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
