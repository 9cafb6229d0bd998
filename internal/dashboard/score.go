package dashboard

import (
	"time"

	"github.com/joescharf/crm/internal/models"
)

// LeadScore is a 0-100 engagement score for one lead.
type LeadScore struct {
	Total       int
	Temperature int // 0-35
	Recency     int // 0-25
	FollowUps   int // 0-20
	NextAction  int // 0-20
}

// Scorer ranks leads by how much attention they deserve right now.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// NewScorerWithClock returns a Scorer that reads the time from now.
func NewScorerWithClock(now func() time.Time) *Scorer {
	return &Scorer{now: now}
}

// Score computes the engagement score for lead given the owner's tasks.
func (s *Scorer) Score(lead *models.Lead, tasks []*models.FollowUpTask) *LeadScore {
	now := s.now()
	sc := &LeadScore{}

	// Temperature (35 pts)
	switch lead.Temperature {
	case models.TemperatureHot:
		sc.Temperature = 35
	case models.TemperatureWarm:
		sc.Temperature = 20
	default:
		sc.Temperature = 5
	}

	// Recency (25 pts) - last timeline entry
	var last time.Time
	for _, h := range lead.History {
		if h.At.After(last) {
			last = h.At
		}
	}
	sc.Recency = scoreRecency(now, last, 25)

	// Follow-ups (20 pts) - pending work on the lead, less for overdue
	sc.FollowUps = scoreFollowUps(lead.ID, tasks, 20)

	// Next action (20 pts)
	switch {
	case lead.NextAction == nil:
		sc.NextAction = 0
	case lead.NextAction.IsOverdue || lead.NextAction.Date.Before(now):
		sc.NextAction = 8
	default:
		sc.NextAction = 20
	}

	if lead.Status == models.LeadStatusLost {
		sc.Temperature /= 5
	}
	sc.Total = sc.Temperature + sc.Recency + sc.FollowUps + sc.NextAction
	return sc
}

// scoreRecency converts time since last activity to points.
func scoreRecency(now, t time.Time, maxPoints int) int {
	if t.IsZero() {
		return 0
	}
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 1:
		return maxPoints
	case days <= 3:
		return int(float64(maxPoints) * 0.9)
	case days <= 7:
		return int(float64(maxPoints) * 0.75)
	case days <= 14:
		return int(float64(maxPoints) * 0.6)
	case days <= 30:
		return int(float64(maxPoints) * 0.4)
	case days <= 90:
		return int(float64(maxPoints) * 0.2)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}

// scoreFollowUps rewards scheduled follow-ups and penalizes overdue ones.
func scoreFollowUps(leadID string, tasks []*models.FollowUpTask, maxPoints int) int {
	pending, overdue := 0, 0
	for _, t := range tasks {
		if t.LeadID != leadID || t.Status != models.TaskStatusPending {
			continue
		}
		pending++
		if t.IsOverdue {
			overdue++
		}
	}
	if pending == 0 {
		return 0
	}
	ratio := float64(overdue) / float64(pending)
	return int(float64(maxPoints) * (1 - ratio*0.7))
}
