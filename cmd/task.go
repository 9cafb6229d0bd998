package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/output"
)

var (
	taskDesc   string
	taskDue    string
	taskType   string
	taskBucket string
	taskDone   bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage follow-ups",
	Long:  "Schedule calls, meetings, and emails with leads, and work through them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun(cmd.Context())
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <lead-id>",
	Short: "Schedule a follow-up with a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(cmd.Context(), args[0])
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List follow-ups by bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun(cmd.Context())
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:     "complete <task-id>",
	Aliases: []string{"done"},
	Short:   "Mark a follow-up completed",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskCompleteRun(cmd.Context(), args[0])
	},
}

var taskRescheduleCmd = &cobra.Command{
	Use:   "reschedule <task-id> <due>",
	Short: "Move a pending follow-up to a new date",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskRescheduleRun(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var taskSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Flag pending follow-ups due before today as overdue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskSweepRun(cmd.Context())
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "What to do (required)")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "When: YYYY-MM-DD, YYYY-MM-DD HH:MM, or RFC3339 (required)")
	taskAddCmd.Flags().StringVar(&taskType, "type", "Call", "Type: Call, Meeting, Email, Task")
	_ = taskAddCmd.MarkFlagRequired("desc")
	_ = taskAddCmd.MarkFlagRequired("due")

	taskListCmd.Flags().StringVar(&taskBucket, "bucket", "", "Only one bucket: overdue, today, upcoming")
	taskListCmd.Flags().BoolVar(&taskDone, "done", false, "Show completed follow-ups instead")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskRescheduleCmd)
	taskCmd.AddCommand(taskSweepCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskAddRun(ctx context.Context, leadRef string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, leadRef)
	if err != nil {
		return err
	}
	due, err := crm.ParseDueDate(taskDue, time.Local)
	if err != nil {
		return err
	}
	tt := parseEnum(taskType, models.ParseTaskType)

	if dryRun {
		ui.DryRunMsg("Would schedule %s with %s: %s", tt, lead.Name, taskDesc)
		return nil
	}

	task, err := svc.AddFollowUp(ctx, sess, crm.TaskInput{
		LeadID:      lead.ID,
		TaskType:    tt,
		Description: taskDesc,
		DueDate:     due,
	})
	if err != nil {
		return err
	}
	ui.Success("Scheduled %s %s with %s (%s)", task.TaskType, output.Cyan(shortID(task.ID)), task.LeadName, dueLabel(task.DueDate, svc.Now()))
	return nil
}

func taskListRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	buckets := dashboard.Buckets
	if taskBucket != "" {
		b := dashboard.Bucket(strings.ToLower(taskBucket))
		if !b.Valid() {
			return fmt.Errorf("unknown bucket %q (use overdue, today, or upcoming)", taskBucket)
		}
		buckets = []dashboard.Bucket{b}
	}

	tasks, err := svc.ListTasks(ctx, sess)
	if err != nil {
		return err
	}
	now := svc.Now()

	if taskDone {
		return renderCompletedTasks(tasks, now)
	}

	shown := 0
	for _, b := range buckets {
		in := dashboard.TaskBucket(tasks, b, now)
		if len(in) == 0 {
			continue
		}
		if shown > 0 {
			fmt.Fprintln(ui.Out)
		}
		shown += len(in)
		title := strings.ToUpper(string(b))
		if b == dashboard.BucketOverdue {
			title = output.Red(title)
		}
		fmt.Fprintf(ui.Out, "%s (%d)\n", title, len(in))
		table := ui.Table([]string{"ID", "Type", "Due", "Lead", "Phone", "Task"})
		for _, t := range in {
			_ = table.Append([]string{
				shortID(t.ID),
				string(t.TaskType),
				dueLabel(t.DueDate, now),
				t.LeadName + " " + output.TemperatureColor(string(t.LeadTemp)),
				t.LeadPhone,
				t.Description,
			})
		}
		_ = table.Render()
	}
	if shown == 0 {
		ui.Info("No pending follow-ups.")
	}
	return nil
}

func renderCompletedTasks(tasks []*models.FollowUpTask, now time.Time) error {
	table := ui.Table([]string{"ID", "Type", "Completed", "Lead", "Task"})
	n := 0
	for _, t := range tasks {
		if t.Status != models.TaskStatusCompleted {
			continue
		}
		n++
		completed := ""
		if t.CompletedAt != nil {
			completed = t.CompletedAt.In(now.Location()).Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{shortID(t.ID), string(t.TaskType), completed, t.LeadName, t.Description})
	}
	if n == 0 {
		ui.Info("No completed follow-ups.")
		return nil
	}
	return table.Render()
}

func taskCompleteRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	task, err := findTask(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusCompleted {
		ui.Info("Already completed: %s", task.Description)
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would complete %s: %s", shortID(task.ID), task.Description)
		return nil
	}

	if _, err := svc.CompleteTask(ctx, sess, task.ID); err != nil {
		return err
	}
	ui.Success("Completed %s with %s: %s", task.TaskType, task.LeadName, task.Description)
	return nil
}

func taskRescheduleRun(ctx context.Context, ref, dueText string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	task, err := findTask(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	due, err := crm.ParseDueDate(dueText, time.Local)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move %s to %s", shortID(task.ID), dueLabel(due, svc.Now()))
		return nil
	}

	moved, err := svc.RescheduleTask(ctx, sess, task.ID, due)
	if err != nil {
		return err
	}
	ui.Success("Rescheduled %s to %s", moved.Description, dueLabel(moved.DueDate, svc.Now()))
	return nil
}

func taskSweepRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would flag overdue follow-ups")
		return nil
	}
	n, err := svc.SweepOverdue(ctx, sess, svc.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		ui.Info("Nothing overdue.")
		return nil
	}
	ui.Warning("Flagged %d follow-ups as overdue", n)
	return nil
}
