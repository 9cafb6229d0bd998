package dashboard

import (
	"time"

	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/money"
)

// StageSummary is one row of the pipeline breakdown.
type StageSummary struct {
	Stage   models.Stage `json:"stage"`
	Count   int          `json:"count"`
	Total   int64        `json:"total"`
	Display string       `json:"display"`
	Percent float64      `json:"percent"`
}

// Summary is everything the dashboard shows, computed in one pass.
type Summary struct {
	PipelineTotal   int64          `json:"pipeline_total"`
	PipelineDisplay string         `json:"pipeline_display"`
	Stages          []StageSummary `json:"stages"`
	DealCount       int            `json:"deal_count"`
	LeadCount       int            `json:"lead_count"`
	HotLeads        int            `json:"hot_leads"`
	NewLeads        int            `json:"new_leads"`
	ClosingsMonth   int            `json:"closings_this_month"`
	Today           int            `json:"tasks_today"`
	Upcoming        int            `json:"tasks_upcoming"`
	Overdue         int            `json:"tasks_overdue"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// Compute builds a Summary for the current month as seen at now.
func Compute(leads []*models.Lead, deals []*models.Deal, tasks []*models.FollowUpTask, now time.Time) Summary {
	total := PipelineValueTotal(deals)
	s := Summary{
		PipelineTotal:   total,
		PipelineDisplay: money.FormatINR(total),
		DealCount:       len(deals),
		LeadCount:       len(leads),
		HotLeads:        HotLeadCount(leads),
		ClosingsMonth:   ClosingsThisPeriod(deals, MonthOf(now)),
		ComputedAt:      now,
	}
	for _, l := range leads {
		if l.Status == models.LeadStatusNew {
			s.NewLeads++
		}
	}
	for _, stage := range models.Stages {
		st := StageSummary{
			Stage:   stage,
			Total:   StageTotal(deals, stage),
			Percent: StageSharePercent(deals, stage),
		}
		for _, d := range deals {
			if d.Stage == stage {
				st.Count++
			}
		}
		st.Display = money.FormatINR(st.Total)
		s.Stages = append(s.Stages, st)
	}
	buckets := TaskBuckets(tasks, now)
	s.Today = len(buckets[BucketToday])
	s.Upcoming = len(buckets[BucketUpcoming])
	s.Overdue = len(buckets[BucketOverdue])
	return s
}
