package crm

import (
	"context"
	"strings"
	"time"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/money"
)

const justNow = "Just now"

// DealInput describes a deal added directly, without a lead promotion.
// When only one of Value and NumericValue is given the other is derived.
type DealInput struct {
	LeadID          string
	Title           string
	Value           string
	NumericValue    *int64
	Source          models.DealSource
	Stage           models.Stage // must be empty or negotiation
	Completion      *int
	Tasks           []models.DealTask
	IsUrgent        bool
	PropertyAddress string
}

// DealPatch lists the deal fields to change. Stage is present only so that a
// caller trying to change it gets a clear error; use MoveDealStage instead.
type DealPatch struct {
	Title           *string
	Value           *string
	NumericValue    *int64
	Source          *models.DealSource
	Stage           *models.Stage
	LastTouch       *string
	DaysInStage     *int
	Completion      *int
	IsUrgent        *bool
	PropertyAddress *string
}

// AddDeal creates a deal at the start of the pipeline.
func (s *Service) AddDeal(ctx context.Context, sess Session, in DealInput) (_ *models.Deal, err error) {
	const op = "add deal"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	if in.Stage != "" && in.Stage != models.StageNegotiation {
		return nil, crmerr.Validation(op, "new deals start in %s, got %q", models.StageNegotiation, in.Stage)
	}

	deal := &models.Deal{
		OwnerID:         sess.OwnerID,
		LeadID:          strings.TrimSpace(in.LeadID),
		Title:           strings.TrimSpace(in.Title),
		Source:          orDefault(in.Source, models.DealSourceWeb),
		Stage:           models.StageNegotiation,
		LastTouch:       justNow,
		Tasks:           normalizeDealTasks(in.Tasks),
		IsUrgent:        in.IsUrgent,
		PropertyAddress: strings.TrimSpace(in.PropertyAddress),
		StageChangedAt:  s.now().UTC(),
	}
	if in.Completion != nil {
		deal.Completion = *in.Completion
	}
	if err := setDealValue(op, deal, strings.TrimSpace(in.Value), in.NumericValue); err != nil {
		return nil, err
	}
	if err := validateDeal(op, deal); err != nil {
		return nil, err
	}
	if deal.LeadID != "" {
		if _, err := s.store.GetLead(ctx, sess.OwnerID, deal.LeadID); err != nil {
			return nil, crmerr.WithOp(op, err)
		}
	}

	if err := s.store.CreateDeal(ctx, deal); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.DealCreated, sess, deal.ID, map[string]any{"value": deal.NumericValue, "lead_id": deal.LeadID})
	return deal, nil
}

// UpdateDeal applies a partial edit that does not involve the stage.
func (s *Service) UpdateDeal(ctx context.Context, sess Session, id string, patch DealPatch) (_ *models.Deal, err error) {
	const op = "update deal"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	if patch.Stage != nil {
		return nil, crmerr.Validation(op, "stage cannot be edited directly; move the deal instead")
	}

	deal, err := s.store.GetDeal(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if patch.Title != nil {
		deal.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Value != nil || patch.NumericValue != nil {
		var value string
		if patch.Value != nil {
			value = strings.TrimSpace(*patch.Value)
		}
		if err := setDealValue(op, deal, value, patch.NumericValue); err != nil {
			return nil, err
		}
	}
	if patch.Source != nil {
		deal.Source = *patch.Source
	}
	if patch.LastTouch != nil {
		deal.LastTouch = *patch.LastTouch
	}
	if patch.DaysInStage != nil {
		deal.DaysInStage = *patch.DaysInStage
	}
	if patch.Completion != nil {
		deal.Completion = *patch.Completion
	}
	if patch.IsUrgent != nil {
		deal.IsUrgent = *patch.IsUrgent
	}
	if patch.PropertyAddress != nil {
		deal.PropertyAddress = strings.TrimSpace(*patch.PropertyAddress)
	}
	if err := validateDeal(op, deal); err != nil {
		return nil, err
	}

	if err := s.store.UpdateDeal(ctx, deal); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.DealUpdated, sess, deal.ID, nil)
	return deal, nil
}

// ToggleDealTask marks one checklist item done or not done.
func (s *Service) ToggleDealTask(ctx context.Context, sess Session, dealID, taskID string, done bool) (_ *models.Deal, err error) {
	const op = "toggle deal task"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	deal, err := s.store.GetDeal(ctx, sess.OwnerID, dealID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	found := false
	for i := range deal.Tasks {
		if deal.Tasks[i].ID == taskID {
			deal.Tasks[i].Done = done
			found = true
			break
		}
	}
	if !found {
		return nil, crmerr.Validation(op, "deal %s has no checklist item %s", dealID, taskID)
	}
	if err := s.store.UpdateDeal(ctx, deal); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.DealUpdated, sess, deal.ID, map[string]any{"task_id": taskID, "done": done})
	return deal, nil
}

// MoveDealStage moves a deal one step along the pipeline. Illegal moves
// return InvalidTransition and write nothing.
func (s *Service) MoveDealStage(ctx context.Context, sess Session, id string, to models.Stage) (_ *models.Deal, err error) {
	const op = "move deal stage"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	deal, err := s.store.GetDeal(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	from := deal.Stage
	if err := ValidateStageMove(from, to); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	deal.Stage = to
	deal.LastTouch = justNow
	deal.DaysInStage = 0
	deal.StageChangedAt = now
	if to == models.StageClosed {
		deal.ClosedAt = &now
	}
	if err := s.store.UpdateDeal(ctx, deal); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.DealStageMoved, sess, deal.ID, map[string]any{"from": from, "to": to})
	return deal, nil
}

// setDealValue keeps Value and NumericValue consistent. An explicit
// numeric value wins; otherwise it is parsed from the display text.
func setDealValue(op string, deal *models.Deal, value string, numeric *int64) error {
	switch {
	case numeric != nil:
		if *numeric < 0 {
			return crmerr.Validation(op, "deal value cannot be negative")
		}
		deal.NumericValue = *numeric
		if value == "" {
			value = money.FormatINR(*numeric)
		}
		deal.Value = value
	case value != "":
		n, err := money.ParseINR(value)
		if err != nil {
			return crmerr.WithOp(op, err)
		}
		deal.NumericValue = n
		deal.Value = value
	}
	return nil
}

func validateDeal(op string, d *models.Deal) error {
	switch {
	case d.Title == "":
		return crmerr.Validation(op, "title is required")
	case d.NumericValue < 0:
		return crmerr.Validation(op, "deal value cannot be negative")
	case !d.Source.Valid():
		return crmerr.Validation(op, "unknown deal source %q", d.Source)
	case d.DaysInStage < 0:
		return crmerr.Validation(op, "days in stage cannot be negative")
	case d.Completion < 0 || d.Completion > 100:
		return crmerr.Validation(op, "completion must be between 0 and 100, got %d", d.Completion)
	}
	return nil
}

func normalizeDealTasks(tasks []models.DealTask) []models.DealTask {
	out := make([]models.DealTask, 0, len(tasks))
	for _, t := range tasks {
		t.Label = strings.TrimSpace(t.Label)
		if t.Label == "" {
			continue
		}
		if t.ID == "" {
			t.ID = newID()
		}
		out = append(out, t)
	}
	return out
}
