// Package dashboard derives pipeline and follow-up metrics from entity
// collections. Every function here is pure and total: empty input gives zero
// results, never an error.
package dashboard

import (
	"sort"
	"time"

	"github.com/joescharf/crm/internal/models"
)

// PipelineValueTotal sums NumericValue over all deals, closed ones included.
func PipelineValueTotal(deals []*models.Deal) int64 {
	var total int64
	for _, d := range deals {
		total += d.NumericValue
	}
	return total
}

// StageTotal sums NumericValue over the deals in stage.
func StageTotal(deals []*models.Deal, stage models.Stage) int64 {
	var total int64
	for _, d := range deals {
		if d.Stage == stage {
			total += d.NumericValue
		}
	}
	return total
}

// StageSharePercent is stage's share of the pipeline value, 0-100. An empty
// pipeline gives 0 for every stage.
func StageSharePercent(deals []*models.Deal, stage models.Stage) float64 {
	total := PipelineValueTotal(deals)
	if total < 1 {
		total = 1
	}
	return float64(StageTotal(deals, stage)) * 100 / float64(total)
}

// HotLeadCount counts leads whose temperature is Hot.
func HotLeadCount(leads []*models.Lead) int {
	n := 0
	for _, l := range leads {
		if l.Temperature == models.TemperatureHot {
			n++
		}
	}
	return n
}

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside p.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// MonthOf returns the calendar month containing now, in now's location.
func MonthOf(now time.Time) Period {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ClosingsThisPeriod counts closed deals whose ClosedAt falls in p.
func ClosingsThisPeriod(deals []*models.Deal, p Period) int {
	n := 0
	for _, d := range deals {
		if d.Stage == models.StageClosed && d.ClosedAt != nil && p.Contains(*d.ClosedAt) {
			n++
		}
	}
	return n
}

// Bucket groups pending follow-ups by when they are due.
type Bucket string

const (
	BucketToday    Bucket = "today"
	BucketUpcoming Bucket = "upcoming"
	BucketOverdue  Bucket = "overdue"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{BucketOverdue, BucketToday, BucketUpcoming}

func (b Bucket) Valid() bool {
	return b == BucketToday || b == BucketUpcoming || b == BucketOverdue
}

// endOfDay is the first instant of the day after now.
func endOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// BucketOf places a pending task in exactly one bucket. Overdue follows the
// stored flag only. A past-due task that has not been flagged yet stays in
// today until SweepOverdue marks it.
func BucketOf(t *models.FollowUpTask, now time.Time) Bucket {
	switch {
	case t.IsOverdue:
		return BucketOverdue
	case !t.DueDate.Before(endOfDay(now)):
		return BucketUpcoming
	default:
		return BucketToday
	}
}

// TaskBucket returns the pending tasks in bucket b, stable-sorted by due date.
func TaskBucket(tasks []*models.FollowUpTask, b Bucket, now time.Time) []*models.FollowUpTask {
	out := []*models.FollowUpTask{}
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			continue
		}
		if BucketOf(t, now) == b {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

// TaskBuckets partitions every pending task into the three buckets.
func TaskBuckets(tasks []*models.FollowUpTask, now time.Time) map[Bucket][]*models.FollowUpTask {
	out := make(map[Bucket][]*models.FollowUpTask, len(Buckets))
	for _, b := range Buckets {
		out[b] = TaskBucket(tasks, b, now)
	}
	return out
}
