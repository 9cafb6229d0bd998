package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/money"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export leads, deals, or follow-ups in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "leads", "Data type: leads, deals, tasks")
	rootCmd.AddCommand(exportCmd)
}

// exportTable is one collection flattened for csv and markdown.
type exportTable struct {
	title   string
	headers []string
	rows    [][]string
}

func exportRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}

	var (
		records any
		table   exportTable
	)
	switch models.Kind(exportType) {
	case models.KindLeads:
		leads, err := svc.ListLeads(ctx, sess)
		if err != nil {
			return err
		}
		records, table = leads, leadTable(leads)
	case models.KindDeals:
		deals, err := svc.ListDeals(ctx, sess)
		if err != nil {
			return err
		}
		records, table = deals, dealTable(deals)
	case models.KindTasks:
		tasks, err := svc.ListTasks(ctx, sess)
		if err != nil {
			return err
		}
		records, table = tasks, taskTable(tasks)
	default:
		return fmt.Errorf("unknown export type: %s (use: leads, deals, tasks)", exportType)
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write(table.headers)
		for _, r := range table.rows {
			_ = w.Write(r)
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintf(ui.Out, "# %s\n\n", table.title)
		fmt.Fprintf(ui.Out, "| %s |\n", strings.Join(table.headers, " | "))
		seps := make([]string, len(table.headers))
		for i, h := range table.headers {
			seps[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintf(ui.Out, "|%s|\n", "-"+strings.Join(seps, "-|-")+"-")
		for _, r := range table.rows {
			cells := make([]string, len(r))
			for i, c := range r {
				cells[i] = strings.ReplaceAll(c, "|", `\|`)
			}
			fmt.Fprintf(ui.Out, "| %s |\n", strings.Join(cells, " | "))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func leadTable(leads []*models.Lead) exportTable {
	t := exportTable{
		title:   "Leads",
		headers: []string{"ID", "Name", "Phone", "Email", "Status", "Source", "Interest", "Temperature", "Budget", "Tags", "Created"},
	}
	for _, l := range leads {
		t.rows = append(t.rows, []string{
			l.ID, l.Name, l.Phone, l.Email, string(l.Status), string(l.Source), string(l.Interest),
			string(l.Temperature), l.Budget, strings.Join(l.Tags, "; "), l.CreatedAt.Format("2006-01-02"),
		})
	}
	return t
}

func dealTable(deals []*models.Deal) exportTable {
	t := exportTable{
		title:   "Deals",
		headers: []string{"ID", "LeadID", "Title", "Stage", "Value", "Rupees", "Source", "Completion", "Urgent", "Property", "Created"},
	}
	for _, d := range deals {
		t.rows = append(t.rows, []string{
			d.ID, d.LeadID, d.Title, string(d.Stage), d.Value, fmt.Sprintf("%d", d.NumericValue), string(d.Source),
			fmt.Sprintf("%d", d.Completion), fmt.Sprintf("%t", d.IsUrgent), d.PropertyAddress, d.CreatedAt.Format("2006-01-02"),
		})
	}
	return t
}

func taskTable(tasks []*models.FollowUpTask) exportTable {
	t := exportTable{
		title:   "Follow-ups",
		headers: []string{"ID", "LeadID", "Lead", "Type", "Description", "Due", "Status", "Overdue"},
	}
	for _, task := range tasks {
		t.rows = append(t.rows, []string{
			task.ID, task.LeadID, task.LeadName, string(task.TaskType), task.Description,
			task.DueDate.Format(time.RFC3339), string(task.Status), fmt.Sprintf("%t", task.IsOverdue),
		})
	}
	return t
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports",
	Long:  "Generate summary reports of CRM activity.",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Generate weekly activity summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportWeeklyRun(cmd.Context())
	},
}

func init() {
	reportCmd.AddCommand(reportWeeklyCmd)
	rootCmd.AddCommand(reportCmd)
}

// weeklyActivity is what happened in the seven days before now.
type weeklyActivity struct {
	NewLeads  []string
	Touches   map[models.HistoryType]int
	Completed int
	Closed    []*models.Deal
}

func collectWeekly(leads []*models.Lead, deals []*models.Deal, tasks []*models.FollowUpTask, now time.Time) weeklyActivity {
	since := now.AddDate(0, 0, -7)
	week := dashboard.Period{Start: since, End: now.Add(time.Second)}
	a := weeklyActivity{Touches: map[models.HistoryType]int{}}
	for _, l := range leads {
		if week.Contains(l.CreatedAt) {
			a.NewLeads = append(a.NewLeads, l.Name)
		}
		for _, h := range l.History {
			if h.Type != models.HistorySystem && week.Contains(h.At) {
				a.Touches[h.Type]++
			}
		}
	}
	for _, t := range tasks {
		if t.CompletedAt != nil && week.Contains(*t.CompletedAt) {
			a.Completed++
		}
	}
	for _, d := range deals {
		if d.ClosedAt != nil && week.Contains(*d.ClosedAt) {
			a.Closed = append(a.Closed, d)
		}
	}
	return a
}

func reportWeeklyRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	leads, deals, tasks, err := svc.Snapshot(ctx, sess)
	if err != nil {
		return err
	}
	now := svc.Now()
	a := collectWeekly(leads, deals, tasks, now)
	writeWeekly(sess, a, dashboard.Compute(leads, deals, tasks, now), now)
	return nil
}

func writeWeekly(sess crm.Session, a weeklyActivity, sum dashboard.Summary, now time.Time) {
	fmt.Fprintf(ui.Out, "# Weekly Report: %s\n\n", sess.OwnerID)
	fmt.Fprintf(ui.Out, "Week ending %s\n\n", now.Format("2006-01-02"))

	fmt.Fprintln(ui.Out, "## Leads")
	fmt.Fprintf(ui.Out, "- New: %d", len(a.NewLeads))
	if len(a.NewLeads) > 0 {
		fmt.Fprintf(ui.Out, " (%s)", strings.Join(a.NewLeads, ", "))
	}
	fmt.Fprintln(ui.Out)
	types := make([]string, 0, len(a.Touches))
	for t := range a.Touches {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(ui.Out, "- %s: %d\n", t, a.Touches[models.HistoryType(t)])
	}
	fmt.Fprintf(ui.Out, "- Follow-ups completed: %d\n\n", a.Completed)

	fmt.Fprintln(ui.Out, "## Deals")
	var closedTotal int64
	for _, d := range a.Closed {
		closedTotal += d.NumericValue
		fmt.Fprintf(ui.Out, "- Closed %s (%s)\n", d.Title, d.Value)
	}
	fmt.Fprintf(ui.Out, "- Closed this week: %d worth %s\n", len(a.Closed), money.FormatINR(closedTotal))
	fmt.Fprintf(ui.Out, "- Pipeline: %s across %d deals\n\n", sum.PipelineDisplay, sum.DealCount)

	fmt.Fprintln(ui.Out, "## Follow-ups")
	fmt.Fprintf(ui.Out, "- %d today, %d upcoming, %d overdue\n", sum.Today, sum.Upcoming, sum.Overdue)
}
