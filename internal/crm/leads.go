package crm

import (
	"context"
	"strings"
	"time"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
)

// LeadInput describes a new lead. Zero-valued enums take their defaults.
type LeadInput struct {
	Name        string
	Phone       string
	Email       string
	Status      models.LeadStatus
	Source      models.LeadSource
	Interest    models.Interest
	Temperature models.Temperature
	Budget      string
	Tags        []string
	Notes       string
	NextAction  *models.NextAction
}

// LeadPatch lists the lead fields to change. Nil fields are left alone.
type LeadPatch struct {
	Name        *string
	Phone       *string
	Email       *string
	Status      *models.LeadStatus
	Source      *models.LeadSource
	Interest    *models.Interest
	Temperature *models.Temperature
	Budget      *string
	Tags        *[]string
	Notes       *string
}

// Empty reports whether the patch changes nothing.
func (p LeadPatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.Email == nil && p.Status == nil && p.Source == nil &&
		p.Interest == nil && p.Temperature == nil && p.Budget == nil && p.Tags == nil && p.Notes == nil
}

// AddLead creates a lead with a "Lead created" history entry.
func (s *Service) AddLead(ctx context.Context, sess Session, in LeadInput) (_ *models.Lead, err error) {
	const op = "add lead"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	lead := &models.Lead{
		OwnerID:     sess.OwnerID,
		Name:        strings.TrimSpace(in.Name),
		Phone:       strings.TrimSpace(in.Phone),
		Email:       strings.TrimSpace(in.Email),
		Status:      orDefault(in.Status, models.LeadStatusNew),
		Source:      orDefault(in.Source, models.LeadSourceDirect),
		Interest:    orDefault(in.Interest, models.InterestBuying),
		Temperature: orDefault(in.Temperature, models.TemperatureCold),
		Budget:      strings.TrimSpace(in.Budget),
		Tags:        normalizeTags(in.Tags),
		Notes:       in.Notes,
	}
	if lead.NextAction, err = checkNextAction(op, in.NextAction); err != nil {
		return nil, err
	}
	if err := validateLead(op, lead); err != nil {
		return nil, err
	}
	lead.History = []models.HistoryEntry{s.historyEntry(models.HistorySystem, "Lead created", "System")}

	if err := s.store.CreateLead(ctx, lead); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadCreated, sess, lead.ID, map[string]any{"name": lead.Name, "source": lead.Source})
	return lead, nil
}

// UpdateLead applies a partial edit. History is never touched here.
func (s *Service) UpdateLead(ctx context.Context, sess Session, id string, patch LeadPatch) (_ *models.Lead, err error) {
	const op = "update lead"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if patch.Status != nil {
		if err := ValidateStatusChange(lead.Status, *patch.Status); err != nil {
			return nil, err
		}
		lead.Status = *patch.Status
	}
	if patch.Name != nil {
		lead.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Phone != nil {
		lead.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Email != nil {
		lead.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.Source != nil {
		lead.Source = *patch.Source
	}
	if patch.Interest != nil {
		lead.Interest = *patch.Interest
	}
	if patch.Temperature != nil {
		lead.Temperature = *patch.Temperature
	}
	if patch.Budget != nil {
		lead.Budget = strings.TrimSpace(*patch.Budget)
	}
	if patch.Tags != nil {
		lead.Tags = normalizeTags(*patch.Tags)
	}
	if patch.Notes != nil {
		lead.Notes = *patch.Notes
	}
	if err := validateLead(op, lead); err != nil {
		return nil, err
	}

	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadUpdated, sess, lead.ID, map[string]any{"status": lead.Status})
	return lead, nil
}

// DeleteLead removes a lead. Deals and tasks that reference it are kept.
func (s *Service) DeleteLead(ctx context.Context, sess Session, id string) (err error) {
	const op = "delete lead"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return err
	}
	if err := s.store.DeleteLead(ctx, sess.OwnerID, id); err != nil {
		return crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadDeleted, sess, id, nil)
	return nil
}

// LogActivity appends an entry to a lead's timeline.
func (s *Service) LogActivity(ctx context.Context, sess Session, leadID string, t models.HistoryType, summary string) (_ *models.Lead, err error) {
	const op = "log activity"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, crmerr.Validation(op, "unknown activity type %q", t)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, crmerr.Validation(op, "summary is required")
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, leadID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	lead.History = append(lead.History, s.historyEntry(t, summary, sess.actor()))
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadUpdated, sess, lead.ID, map[string]any{"activity": t})
	return lead, nil
}

// SetNextAction sets the lead's next planned touchpoint; nil clears it.
func (s *Service) SetNextAction(ctx context.Context, sess Session, leadID string, next *models.NextAction) (_ *models.Lead, err error) {
	const op = "set next action"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	next, err = checkNextAction(op, next)
	if err != nil {
		return nil, err
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, leadID)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	lead.NextAction = next
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.LeadUpdated, sess, lead.ID, nil)
	return lead, nil
}

// checkNextAction returns a trimmed copy of next. A nil next clears it.
func checkNextAction(op string, next *models.NextAction) (*models.NextAction, error) {
	if next == nil {
		return nil, nil
	}
	out := *next
	out.Task = strings.TrimSpace(out.Task)
	if out.Task == "" {
		return nil, crmerr.Validation(op, "next action task is required")
	}
	if out.Date.IsZero() {
		return nil, crmerr.Validation(op, "next action date is required")
	}
	return &out, nil
}

func validateLead(op string, l *models.Lead) error {
	switch {
	case l.Name == "":
		return crmerr.Validation(op, "name is required")
	case l.Phone == "":
		return crmerr.Validation(op, "phone is required")
	case !l.Status.Valid():
		return crmerr.Validation(op, "unknown lead status %q", l.Status)
	case !l.Source.Valid():
		return crmerr.Validation(op, "unknown lead source %q", l.Source)
	case !l.Interest.Valid():
		return crmerr.Validation(op, "unknown interest %q", l.Interest)
	case !l.Temperature.Valid():
		return crmerr.Validation(op, "unknown temperature %q", l.Temperature)
	}
	return nil
}

// normalizeTags trims, drops empties and de-duplicates, keeping first appearance.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func orDefault[T ~string](v, def T) T {
	if v == "" {
		return def
	}
	return v
}
