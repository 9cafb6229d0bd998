package crm

import (
	"context"
	"strings"
	"time"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
)

// DisplayTimeLayout formats a task's due time for display.
const DisplayTimeLayout = "3:04 PM"

// TaskInput describes a new follow-up.
type TaskInput struct {
	LeadID      string
	TaskType    models.TaskType
	Description string
	DueDate     time.Time
	DisplayTime string
	IsOverdue   bool
}

// TaskPatch lists the task fields to change. Nil fields are left alone.
type TaskPatch struct {
	TaskType    *models.TaskType
	Description *string
	DueDate     *time.Time
	DisplayTime *string
	IsOverdue   *bool
	Status      *models.TaskStatus
}

// AddFollowUp schedules a task against one of the owner's leads. The lead's
// name, temperature and phone are copied onto the task as they are now.
func (s *Service) AddFollowUp(ctx context.Context, sess Session, in TaskInput) (_ *models.FollowUpTask, err error) {
	const op = "add follow-up"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	taskType := orDefault(in.TaskType, models.TaskTypeCall)
	desc := strings.TrimSpace(in.Description)
	switch {
	case strings.TrimSpace(in.LeadID) == "":
		return nil, crmerr.Validation(op, "lead is required")
	case !taskType.Valid():
		return nil, crmerr.Validation(op, "unknown task type %q", in.TaskType)
	case desc == "":
		return nil, crmerr.Validation(op, "description is required")
	case in.DueDate.IsZero():
		return nil, crmerr.Validation(op, "due date is required")
	}

	lead, err := s.store.GetLead(ctx, sess.OwnerID, strings.TrimSpace(in.LeadID))
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}

	task := &models.FollowUpTask{
		OwnerID:     sess.OwnerID,
		LeadID:      lead.ID,
		LeadName:    lead.Name,
		LeadTemp:    lead.Temperature,
		LeadPhone:   lead.Phone,
		TaskType:    taskType,
		Description: desc,
		DueDate:     in.DueDate,
		DisplayTime: strings.TrimSpace(in.DisplayTime),
		IsOverdue:   in.IsOverdue,
		Status:      models.TaskStatusPending,
	}
	if task.DisplayTime == "" {
		task.DisplayTime = in.DueDate.Format(DisplayTimeLayout)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.TaskCreated, sess, task.ID, map[string]any{"lead_id": lead.ID, "due": task.DueDate})
	return task, nil
}

// UpdateTask applies a partial edit. A completed task cannot go back to
// pending; setting Status to completed behaves like CompleteTask.
func (s *Service) UpdateTask(ctx context.Context, sess Session, id string, patch TaskPatch) (_ *models.FollowUpTask, err error) {
	const op = "update task"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}

	completing := false
	if patch.Status != nil {
		switch {
		case !patch.Status.Valid():
			return nil, crmerr.Validation(op, "unknown task status %q", *patch.Status)
		case *patch.Status == models.TaskStatusPending && task.Status == models.TaskStatusCompleted:
			return nil, crmerr.InvalidTransition(op, "task %s is already completed", id)
		case *patch.Status == models.TaskStatusCompleted && task.Status != models.TaskStatusCompleted:
			completing = true
		}
	}
	if patch.TaskType != nil {
		if !patch.TaskType.Valid() {
			return nil, crmerr.Validation(op, "unknown task type %q", *patch.TaskType)
		}
		task.TaskType = *patch.TaskType
	}
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		if desc == "" {
			return nil, crmerr.Validation(op, "description is required")
		}
		task.Description = desc
	}
	if patch.DueDate != nil {
		if patch.DueDate.IsZero() {
			return nil, crmerr.Validation(op, "due date is required")
		}
		task.DueDate = *patch.DueDate
		if patch.DisplayTime == nil {
			task.DisplayTime = patch.DueDate.Format(DisplayTimeLayout)
		}
	}
	if patch.DisplayTime != nil {
		task.DisplayTime = strings.TrimSpace(*patch.DisplayTime)
	}
	if patch.IsOverdue != nil {
		task.IsOverdue = *patch.IsOverdue
	}
	if completing {
		s.markCompleted(task)
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if completing {
		s.publish(ctx, events.TaskCompleted, sess, task.ID, nil)
	}
	return task, nil
}

// RescheduleTask moves a pending task to a new due date and clears its
// overdue flag.
func (s *Service) RescheduleTask(ctx context.Context, sess Session, id string, due time.Time) (_ *models.FollowUpTask, err error) {
	const op = "reschedule task"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}
	if due.IsZero() {
		return nil, crmerr.Validation(op, "due date is required")
	}

	task, err := s.store.GetTask(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if task.Status == models.TaskStatusCompleted {
		return nil, crmerr.InvalidTransition(op, "task %s is completed", id)
	}
	task.DueDate = due
	task.DisplayTime = due.Format(DisplayTimeLayout)
	task.IsOverdue = false

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.TaskRescheduled, sess, task.ID, map[string]any{"due": due})
	return task, nil
}

// CompleteTask marks a task completed. Completing a completed task returns
// it unchanged and writes nothing.
func (s *Service) CompleteTask(ctx context.Context, sess Session, id string) (_ *models.FollowUpTask, err error) {
	const op = "complete task"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	if task.Status == models.TaskStatusCompleted {
		return task, nil
	}
	s.markCompleted(task)
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, crmerr.WithOp(op, err)
	}
	s.publish(ctx, events.TaskCompleted, sess, task.ID, nil)
	return task, nil
}

// SweepOverdue flags every pending task due before the start of now's day
// as overdue and returns how many it changed.
func (s *Service) SweepOverdue(ctx context.Context, sess Session, now time.Time) (n int, err error) {
	const op = "sweep overdue"
	defer s.observe(op, sess, time.Now(), &err)
	if err := sess.check(op); err != nil {
		return 0, err
	}

	tasks, err := s.store.ListTasks(ctx, sess.OwnerID)
	if err != nil {
		return 0, crmerr.WithOp(op, err)
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, t := range tasks {
		if t.Status != models.TaskStatusPending || t.IsOverdue || !t.DueDate.Before(startOfDay) {
			continue
		}
		t.IsOverdue = true
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return n, crmerr.WithOp(op, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) markCompleted(t *models.FollowUpTask) {
	now := s.now().UTC()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
}

var dueLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// ParseDueDate reads a due date typed by a person. Dates without a zone are
// taken in loc; a bare date means 9 AM.
func ParseDueDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for i, layout := range dueLayouts {
		var t time.Time
		var err error
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = t.Add(9 * time.Hour)
		}
		return t, nil
	}
	return time.Time{}, crmerr.Validation("parse due date", "unrecognised date %q, use YYYY-MM-DD or YYYY-MM-DD HH:MM", s)
}
