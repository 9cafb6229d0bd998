package models

import (
	"strings"
	"time"
)

// TaskType is the kind of follow-up scheduled with a lead.
type TaskType string

const (
	TaskTypeCall    TaskType = "Call"
	TaskTypeMeeting TaskType = "Meeting"
	TaskTypeEmail   TaskType = "Email"
	TaskTypeTask    TaskType = "Task"
)

var taskTypes = []TaskType{TaskTypeCall, TaskTypeMeeting, TaskTypeEmail, TaskTypeTask}

func (t TaskType) Valid() bool {
	for _, v := range taskTypes {
		if t == v {
			return true
		}
	}
	return false
}

func ParseTaskType(s string) (TaskType, bool) {
	for _, v := range taskTypes {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// TaskStatus moves one way: pending to completed.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusCompleted
}

// FollowUpTask is a scheduled touchpoint with a lead.
// LeadName, LeadTemp and LeadPhone are copied from the lead when the task is
// created and are not updated afterwards.
type FollowUpTask struct {
	ID          string
	OwnerID     string
	LeadID      string
	LeadName    string
	LeadTemp    Temperature
	LeadPhone   string
	TaskType    TaskType
	Description string
	DueDate     time.Time
	DisplayTime string
	IsOverdue   bool
	Status      TaskStatus
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *FollowUpTask) Clone() *FollowUpTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
