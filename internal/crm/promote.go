package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/money"
	"github.com/joescharf/crm/internal/store"
)

const (
	stepCreateDeal  = "create deal"
	stepQualifyLead = "qualify lead"
	stepDeleteDeal  = "delete deal"
	stepRevertLead  = "revert lead"
)

// DealSeed overrides the defaults of the deal created by PromoteLead.
type DealSeed struct {
	Title           string
	Value           string
	NumericValue    *int64
	PropertyAddress string
	IsUrgent        bool
}

// initialChecklist is the checklist every promoted deal starts with.
func initialChecklist() []models.DealTask {
	return []models.DealTask{
		{ID: newID(), Label: "Initial Meeting", Done: true},
		{ID: newID(), Label: "Requirement Analysis"},
	}
}

// dealFromLead builds the deal a promotion creates.
func (s *Service) dealFromLead(lead *models.Lead, seed DealSeed) *models.Deal {
	deal := &models.Deal{
		OwnerID:         lead.OwnerID,
		LeadID:          lead.ID,
		Title:           strings.TrimSpace(seed.Title),
		Value:           strings.TrimSpace(seed.Value),
		Source:          models.DealSourceFor(lead.Source),
		Stage:           models.StageNegotiation,
		LastTouch:       justNow,
		Completion:      10,
		Tasks:           initialChecklist(),
		IsUrgent:        seed.IsUrgent,
		PropertyAddress: strings.TrimSpace(seed.PropertyAddress),
		StageChangedAt:  s.now().UTC(),
	}
	if deal.Title == "" {
		deal.Title = lead.Name
	}
	if deal.Value == "" {
		deal.Value = lead.Budget
	}
	switch {
	case seed.NumericValue != nil:
		deal.NumericValue = *seed.NumericValue
		if deal.Value == "" {
			deal.Value = money.FormatINR(deal.NumericValue)
		}
	case deal.Value != "":
		// Free-text budgets that do not parse still promote, with no value.
		if n, err := money.ParseINR(deal.Value); err == nil {
			deal.NumericValue = n
		}
	}
	return deal
}

func (s *Service) qualify(lead *models.Lead, dealTitle string) {
	lead.Status = models.LeadStatusQualified
	lead.History = append(lead.History,
		s.historyEntry(models.HistorySystem, fmt.Sprintf("Promoted to deal: %s", dealTitle), "System"))
}

// PromoteLead creates a deal from a lead and marks the lead Qualified.
//
// On a store with transactions both writes commit together. Otherwise they
// run in order; if qualifying the lead fails after the deal was created,
// the created deal is returned along with a PartialCompositeFailure whose ID
// is the deal id, and ResumePromotion finishes the job.
// Promoting the same lead twice creates two deals.
func (s *Service) PromoteLead(ctx context.Context, sess Session, leadID string, seed DealSeed) (_ *models.Deal, err error) {
	const op = "promote lead"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	if seed.NumericValue != nil && *seed.NumericValue < 0 {
		return nil, crmerr.Validation(op, "deal value cannot be negative")
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, leadID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	deal := s.dealFromLead(lead, seed)

	handled, err := s.inTx(ctx, func(tx store.Store) error {
		if err := tx.CreateDeal(ctx, deal); err != nil {
			return err
		}
		// Re-read inside the transaction so concurrent edits are not lost.
		current, err := tx.GetLead(ctx, sess.OwnerID, leadID)
		if err != nil {
			return err
		}
		s.qualify(current, deal.Title)
		return tx.UpdateLead(ctx, current)
	})
	if !handled {
		sg := newSaga(op)
		sg.step(stepCreateDeal, func(ctx context.Context) error {
			if err := s.store.CreateDeal(ctx, deal); err != nil {
				return err
			}
			sg.entityID = deal.ID
			return nil
		})
		sg.step(stepQualifyLead, func(ctx context.Context) error {
			s.qualify(lead, deal.Title)
			return s.store.UpdateLead(ctx, lead)
		})
		err = sg.run(ctx)
	}
	if err != nil {
		if crmerr.IsPartialComposite(err) {
			s.log.Error("promotion left incomplete",
				zap.String("owner", sess.OwnerID), zap.String("lead", leadID), zap.String("deal", deal.ID), zap.Error(err))
			s.publish(ctx, events.DealCreated, sess, deal.ID, map[string]any{"lead_id": leadID})
			return deal, err
		}
		return nil, crmerr.WithOp(op, err)
	}

	s.publish(ctx, events.DealCreated, sess, deal.ID, map[string]any{"lead_id": leadID, "value": deal.NumericValue})
	s.publish(ctx, events.LeadPromoted, sess, leadID, map[string]any{"deal_id": deal.ID})
	return deal, nil
}

// ResumePromotion completes a promotion that stopped after its deal was
// created: the lead must already have a deal, and it is marked Qualified.
// A lead that is already Qualified is returned unchanged.
func (s *Service) ResumePromotion(ctx context.Context, sess Session, leadID string) (_ *models.Lead, err error) {
	const op = "resume promotion"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, leadID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	deals, err := s.store.ListDeals(ctx, sess.OwnerID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	var deal *models.Deal
	for _, d := range deals {
		if d.LeadID == leadID {
			deal = d
			break
		}
	}
	if deal == nil {
		return nil, crmerr.InvalidTransition(op, "lead %s has no deal to resume", leadID)
	}
	if lead.Status == models.LeadStatusQualified {
		return lead, nil
	}

	s.qualify(lead, deal.Title)
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadPromoted, sess, leadID, map[string]any{"deal_id": deal.ID, "resumed": true})
	return lead, nil
}

// WithdrawDeal moves a deal back to the leads list. Only deals still in
// negotiation can be withdrawn. The deal is deleted and its lead, if it
// still exists, goes back to Contacted.
func (s *Service) WithdrawDeal(ctx context.Context, sess Session, dealID string) (_ *models.Lead, err error) {
	const op = "withdraw deal"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	deal, err := s.store.GetDeal(ctx, sess.OwnerID, dealID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if deal.Stage != models.StageNegotiation {
		return nil, crmerr.InvalidTransition(op, "only deals in %s can be withdrawn, deal is in %s", models.StageNegotiation, deal.Stage)
	}

	var lead *models.Lead
	if deal.LeadID != "" {
		lead, err = s.store.GetLead(ctx, sess.OwnerID, deal.LeadID)
		if crmerr.IsNotFound(err) {
			lead, err = nil, nil
		}
		if err != nil {
			return nil, crmerr.WithOp(op, err)
		}
	}
	revert := func(l *models.Lead) {
		l.Status = models.LeadStatusContacted
		l.History = append(l.History, s.historyEntry(models.HistorySystem, "Deal withdrawn", "System"))
	}

	handled, err := s.inTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteDeal(ctx, sess.OwnerID, dealID); err != nil {
			return err
		}
		if lead == nil {
			return nil
		}
		current, err := tx.GetLead(ctx, sess.OwnerID, lead.ID)
		if crmerr.IsNotFound(err) {
			lead = nil
			return nil
		}
		if err != nil {
			return err
		}
		revert(current)
		lead = current
		return tx.UpdateLead(ctx, current)
	})
	if !handled {
		sg := newSaga(op)
		sg.entityID = dealID
		sg.step(stepDeleteDeal, func(ctx context.Context) error {
			return s.store.DeleteDeal(ctx, sess.OwnerID, dealID)
		})
		if lead != nil {
			sg.step(stepRevertLead, func(ctx context.Context) error {
				revert(lead)
				return s.store.UpdateLead(ctx, lead)
			})
		}
		err = sg.run(ctx)
	}
	if err != nil {
		if crmerr.IsPartialComposite(err) {
			s.log.Error("withdrawal left incomplete",
				zap.String("owner", sess.OwnerID), zap.String("deal", dealID), zap.Error(err))
			s.publish(ctx, events.DealWithdrawn, sess, dealID, nil)
			return nil, err
		}
		return nil, crmerr.WithOp(op, err)
	}

	data := map[string]any{}
	if lead != nil {
		data["lead_id"] = lead.ID
	}
	s.publish(ctx, events.DealWithdrawn, sess, dealID, data)
	return lead, nil
}
