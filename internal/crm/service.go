// Package crm implements the CRM mutation contract on top of a store.Store:
// validation, state machines, composite operations and domain events.
package crm

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/metrics"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

// Service is the single entry point for every CRM read and write.
type Service struct {
	store     store.Store
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the domain event publisher. The default drops events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service writing to st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		publisher: events.NopPublisher{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// observe records metrics and a log line for a finished mutation. Use as
// defer s.observe(op, sess, time.Now(), &err).
func (s *Service) observe(op string, sess Session, start time.Time, errp *error) {
	err := *errp
	metrics.ObserveMutation(op, start, err)
	if err != nil {
		s.log.Debug("mutation failed", zap.String("op", op), zap.String("owner", sess.OwnerID), zap.Error(err))
		return
	}
	s.log.Debug("mutation applied", zap.String("op", op), zap.String("owner", sess.OwnerID),
		zap.Duration("took", time.Since(start)))
}

// publish sends a domain event. Failures are logged and counted only.
func (s *Service) publish(ctx context.Context, t events.Type, sess Session, entityID string, data map[string]any) {
	e := events.New(t, sess.OwnerID, entityID, data)
	err := s.publisher.Publish(ctx, e)
	metrics.RecordEvent(err)
	if err != nil {
		s.log.Warn("publish event failed", zap.String("type", string(t)), zap.String("entity", entityID), zap.Error(err))
	}
}

// inTx runs fn atomically when the store supports it. ok is false when it
// does not, and fn has not been called.
func (s *Service) inTx(ctx context.Context, fn func(tx store.Store) error) (ok bool, err error) {
	tr, isTx := s.store.(store.Transactor)
	if !isTx {
		return false, nil
	}
	return true, tr.InTx(ctx, fn)
}

func (s *Service) historyEntry(t models.HistoryType, summary, user string) models.HistoryEntry {
	return models.HistoryEntry{
		ID:      ulid.Make().String(),
		Type:    t,
		At:      s.now().UTC(),
		Summary: summary,
		User:    user,
	}
}

func newID() string {
	return ulid.Make().String()
}
