package crm

import (
	"context"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

func (s *Service) GetLead(ctx context.Context, sess Session, id string) (*models.Lead, error) {
	if err := sess.check("get lead"); err != nil {
		return nil, err
	}
	lead, err := s.store.GetLead(ctx, sess.OwnerID, id)
	return lead, crmerr.WithOp("get lead", err)
}

func (s *Service) ListLeads(ctx context.Context, sess Session) ([]*models.Lead, error) {
	if err := sess.check("list leads"); err != nil {
		return nil, err
	}
	leads, err := s.store.ListLeads(ctx, sess.OwnerID)
	return leads, crmerr.WithOp("list leads", err)
}

func (s *Service) GetDeal(ctx context.Context, sess Session, id string) (*models.Deal, error) {
	if err := sess.check("get deal"); err != nil {
		return nil, err
	}
	deal, err := s.store.GetDeal(ctx, sess.OwnerID, id)
	return deal, crmerr.WithOp("get deal", err)
}

func (s *Service) ListDeals(ctx context.Context, sess Session) ([]*models.Deal, error) {
	if err := sess.check("list deals"); err != nil {
		return nil, err
	}
	deals, err := s.store.ListDeals(ctx, sess.OwnerID)
	return deals, crmerr.WithOp("list deals", err)
}

func (s *Service) GetTask(ctx context.Context, sess Session, id string) (*models.FollowUpTask, error) {
	if err := sess.check("get task"); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, sess.OwnerID, id)
	return task, crmerr.WithOp("get task", err)
}

func (s *Service) ListTasks(ctx context.Context, sess Session) ([]*models.FollowUpTask, error) {
	if err := sess.check("list tasks"); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, sess.OwnerID)
	return tasks, crmerr.WithOp("list tasks", err)
}

// Snapshot reads all three collections for the session's owner at once.
func (s *Service) Snapshot(ctx context.Context, sess Session) (leads []*models.Lead, deals []*models.Deal, tasks []*models.FollowUpTask, err error) {
	if leads, err = s.ListLeads(ctx, sess); err != nil {
		return nil, nil, nil, err
	}
	if deals, err = s.ListDeals(ctx, sess); err != nil {
		return nil, nil, nil, err
	}
	if tasks, err = s.ListTasks(ctx, sess); err != nil {
		return nil, nil, nil, err
	}
	return leads, deals, tasks, nil
}

// Subscribe streams snapshots of one collection for the session's owner.
func (s *Service) Subscribe(ctx context.Context, sess Session, kind models.Kind) (*store.Subscription, error) {
	if err := sess.check("subscribe"); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, kind, sess.OwnerID)
}
