package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/models"
)

var now = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func deal(stage models.Stage, value int64) *models.Deal {
	return &models.Deal{Stage: stage, NumericValue: value}
}

func TestPipelineTotals(t *testing.T) {
	deals := []*models.Deal{
		deal(models.StageNegotiation, 99_600_000),
		deal(models.StageDocumentation, 70_500_000),
		deal(models.StagePayment, 37_300_000),
		deal(models.StageClosed, 12_000_000),
		deal(models.StageNegotiation, 500_000),
	}
	assert.Equal(t, int64(219_900_000), PipelineValueTotal(deals))
	assert.Equal(t, int64(100_100_000), StageTotal(deals, models.StageNegotiation))
	assert.Equal(t, int64(12_000_000), StageTotal(deals, models.StageClosed))

	var sum float64
	for _, s := range models.Stages {
		p := StageSharePercent(deals, s)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
		sum += p
	}
	assert.InDelta(t, 100.0, sum, 0.0001)
}

func TestAggregates_EmptyInput(t *testing.T) {
	assert.Equal(t, int64(0), PipelineValueTotal(nil))
	assert.Equal(t, int64(0), StageTotal(nil, models.StagePayment))
	for _, s := range models.Stages {
		assert.Equal(t, 0.0, StageSharePercent(nil, s))
	}
	assert.Equal(t, 0, HotLeadCount(nil))
	assert.Equal(t, 0, ClosingsThisPeriod(nil, MonthOf(now)))
	for _, b := range Buckets {
		assert.Empty(t, TaskBucket(nil, b, now))
	}

	s := Compute(nil, nil, nil, now)
	assert.Equal(t, "₹0k", s.PipelineDisplay)
	assert.Len(t, s.Stages, 4)
}

func TestStageSharePercent_ZeroValueDeals(t *testing.T) {
	deals := []*models.Deal{deal(models.StageNegotiation, 0)}
	assert.Equal(t, 0.0, StageSharePercent(deals, models.StageNegotiation))
}

func TestHotLeadCount(t *testing.T) {
	leads := []*models.Lead{
		{Temperature: models.TemperatureHot},
		{Temperature: models.TemperatureWarm},
		{Temperature: models.TemperatureHot},
		{Temperature: models.TemperatureCold},
	}
	assert.Equal(t, 2, HotLeadCount(leads))
}

func TestClosingsThisPeriod(t *testing.T) {
	at := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
		return &v
	}
	deals := []*models.Deal{
		{Stage: models.StageClosed, ClosedAt: at(2026, 10, 1)},
		{Stage: models.StageClosed, ClosedAt: at(2026, 10, 31)},
		{Stage: models.StageClosed, ClosedAt: at(2026, 9, 30)},
		// no timestamp never counts
		{Stage: models.StageClosed},
		// not closed
		{Stage: models.StagePayment, ClosedAt: at(2026, 10, 5)},
		{Stage: models.StageClosed, ClosedAt: at(2026, 11, 1)},
	}
	assert.Equal(t, 2, ClosingsThisPeriod(deals, MonthOf(now)))

	p := MonthOf(now)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.False(t, p.Contains(p.End))
	assert.True(t, p.Contains(p.Start))
}

func TestTaskBuckets_DisjointAndExhaustive(t *testing.T) {
	mk := func(id string, due time.Time, overdue bool, status models.TaskStatus) *models.FollowUpTask {
		return &models.FollowUpTask{ID: id, DueDate: due, IsOverdue: overdue, Status: status}
	}
	tasks := []*models.FollowUpTask{
		mk("later-today", now.Add(5*time.Hour), false, models.TaskStatusPending),
		mk("flagged", now.Add(-30*time.Hour), true, models.TaskStatusPending),
		mk("tomorrow", now.Add(24*time.Hour), false, models.TaskStatusPending),
		mk("early-today", now.Add(-9*time.Hour), false, models.TaskStatusPending),
		mk("unflagged-past", now.Add(-48*time.Hour), false, models.TaskStatusPending),
		mk("done", now, false, models.TaskStatusCompleted),
		mk("midnight", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), false, models.TaskStatusPending),
		mk("flagged-future", now.Add(72*time.Hour), true, models.TaskStatusPending),
		mk("same-due-a", now.Add(2*time.Hour), false, models.TaskStatusPending),
		mk("same-due-b", now.Add(2*time.Hour), false, models.TaskStatusPending),
	}

	buckets := TaskBuckets(tasks, now)
	ids := func(b Bucket) []string {
		var out []string
		for _, t := range buckets[b] {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"unflagged-past", "early-today", "same-due-a", "same-due-b", "later-today"}, ids(BucketToday))
	assert.Equal(t, []string{"midnight", "tomorrow"}, ids(BucketUpcoming))
	assert.Equal(t, []string{"flagged", "flagged-future"}, ids(BucketOverdue))

	seen := map[string]int{}
	for _, b := range Buckets {
		for _, task := range buckets[b] {
			seen[task.ID]++
		}
	}
	pending := 0
	for _, task := range tasks {
		if task.Status == models.TaskStatusCompleted {
			assert.Zero(t, seen[task.ID])
			continue
		}
		pending++
		assert.Equal(t, 1, seen[task.ID], task.ID)
	}
	assert.Len(t, seen, pending)
}

func TestCompute(t *testing.T) {
	closedAt := now.Add(-24 * time.Hour)
	leads := []*models.Lead{
		{Temperature: models.TemperatureHot, Status: models.LeadStatusNew},
		{Temperature: models.TemperatureCold, Status: models.LeadStatusContacted},
	}
	deals := []*models.Deal{
		deal(models.StageNegotiation, 37_350_000),
		{Stage: models.StageClosed, NumericValue: 705_500, ClosedAt: &closedAt},
	}
	tasks := []*models.FollowUpTask{
		{ID: "1", DueDate: now.Add(time.Hour), Status: models.TaskStatusPending},
		{ID: "2", DueDate: now.Add(-72 * time.Hour), IsOverdue: true, Status: models.TaskStatusPending},
	}

	s := Compute(leads, deals, tasks, now)
	assert.Equal(t, int64(38_055_500), s.PipelineTotal)
	assert.Equal(t, "₹3.8 Cr", s.PipelineDisplay)
	assert.Equal(t, 1, s.HotLeads)
	assert.Equal(t, 1, s.NewLeads)
	assert.Equal(t, 1, s.ClosingsMonth)
	assert.Equal(t, 1, s.Today)
	assert.Equal(t, 1, s.Overdue)
	assert.Equal(t, 0, s.Upcoming)

	require.Len(t, s.Stages, 4)
	assert.Equal(t, models.StageNegotiation, s.Stages[0].Stage)
	assert.Equal(t, "₹3.7 Cr", s.Stages[0].Display)
	assert.Equal(t, 1, s.Stages[0].Count)
	assert.Equal(t, "₹7.1 L", s.Stages[3].Display)
}
