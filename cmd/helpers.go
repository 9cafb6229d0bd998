package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// parseEnum maps raw onto a known value case-insensitively. Unknown values
// are passed through so the service reports them as validation errors.
func parseEnum[T ~string](raw string, parse func(string) (T, bool)) T {
	if v, ok := parse(raw); ok {
		return v
	}
	return T(raw)
}

// matchPrefix picks the single id in ids that equals or starts with ref.
func matchPrefix(kind, ref string, ids []string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(ref))
	var matches []string
	for _, id := range ids {
		if id == upper {
			return id, nil
		}
		if strings.HasPrefix(id, upper) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", crmerr.NotFound(kind, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous %s ID %s: matches %d records", kind, ref, len(matches))
	}
}

// findLead finds one of the owner's leads by full ID or prefix.
func findLead(ctx context.Context, svc *crm.Service, sess crm.Session, ref string) (*models.Lead, error) {
	if l, err := svc.GetLead(ctx, sess, ref); err == nil {
		return l, nil
	} else if !crmerr.IsNotFound(err) {
		return nil, err
	}
	leads, err := svc.ListLeads(ctx, sess)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
	}
	id, err := matchPrefix("leads", ref, ids)
	if err != nil {
		return nil, err
	}
	return svc.GetLead(ctx, sess, id)
}

// findDeal finds one of the owner's deals by full ID or prefix.
func findDeal(ctx context.Context, svc *crm.Service, sess crm.Session, ref string) (*models.Deal, error) {
	if d, err := svc.GetDeal(ctx, sess, ref); err == nil {
		return d, nil
	} else if !crmerr.IsNotFound(err) {
		return nil, err
	}
	deals, err := svc.ListDeals(ctx, sess)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}
	id, err := matchPrefix("deals", ref, ids)
	if err != nil {
		return nil, err
	}
	return svc.GetDeal(ctx, sess, id)
}

// findTask finds one of the owner's follow-ups by full ID or prefix.
func findTask(ctx context.Context, svc *crm.Service, sess crm.Session, ref string) (*models.FollowUpTask, error) {
	if t, err := svc.GetTask(ctx, sess, ref); err == nil {
		return t, nil
	} else if !crmerr.IsNotFound(err) {
		return nil, err
	}
	tasks, err := svc.ListTasks(ctx, sess)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	id, err := matchPrefix("tasks", ref, ids)
	if err != nil {
		return nil, err
	}
	return svc.GetTask(ctx, sess, id)
}

// reportPartial prints the recovery hint for a composite operation that
// stopped halfway. Other errors are returned unchanged.
func reportPartial(err error, resumeHint string) error {
	var ce *crmerr.Error
	if !crmerr.IsPartialComposite(err) || !errors.As(err, &ce) {
		return err
	}
	ui.Error("Stopped after: %s", strings.Join(ce.Completed, ", "))
	ui.Error("Not applied:   %s", strings.Join(ce.Remaining, ", "))
	if resumeHint != "" {
		ui.Info("%s", resumeHint)
	}
	return err
}

// dueLabel renders a due date relative to now, e.g. "today 3:00 PM".
func dueLabel(due, now time.Time) string {
	y1, m1, d1 := due.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	clock := due.In(now.Location()).Format(crm.DisplayTimeLayout)
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return "today " + clock
	case due.Before(now):
		return due.In(now.Location()).Format("Jan 2") + " " + clock
	default:
		return due.In(now.Location()).Format("Mon Jan 2") + " " + clock
	}
}
