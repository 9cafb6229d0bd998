package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/output"
)

var dashboardJSON bool

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	Short:   "Show pipeline value, hot leads, and today's follow-ups",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardRun(cmd.Context())
	},
}

func init() {
	dashboardCmd.Flags().BoolVar(&dashboardJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(dashboardCmd)
}

func dashboardRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	leads, deals, tasks, err := svc.Snapshot(ctx, sess)
	if err != nil {
		return err
	}
	now := svc.Now()
	sum := dashboard.Compute(leads, deals, tasks, now)

	if dashboardJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintf(ui.Out, "Pipeline  %s across %d deals\n\n", output.Green(sum.PipelineDisplay), sum.DealCount)
	table := ui.Table([]string{"Stage", "Deals", "Value", "Share", ""})
	for _, st := range sum.Stages {
		_ = table.Append([]string{
			output.StageColor(string(st.Stage)),
			fmt.Sprintf("%d", st.Count),
			st.Display,
			fmt.Sprintf("%.0f%%", st.Percent),
			output.Bar(st.Percent, 20),
		})
	}
	_ = table.Render()

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "Leads     %d total, %s hot, %d new\n", sum.LeadCount, output.Red(fmt.Sprintf("%d", sum.HotLeads)), sum.NewLeads)
	fmt.Fprintf(ui.Out, "Closings  %d this month\n", sum.ClosingsMonth)
	overdue := fmt.Sprintf("%d overdue", sum.Overdue)
	if sum.Overdue > 0 {
		overdue = output.Red(overdue)
	}
	fmt.Fprintf(ui.Out, "Tasks     %d today, %d upcoming, %s\n", sum.Today, sum.Upcoming, overdue)

	today := dashboard.TaskBucket(tasks, dashboard.BucketToday, now)
	if len(today) > 0 {
		fmt.Fprintf(ui.Out, "\nToday:\n")
		for _, t := range today {
			fmt.Fprintf(ui.Out, "  %s  %-8s %s  %s\n", t.DueDate.In(now.Location()).Format("15:04"), t.TaskType, t.LeadName, t.Description)
		}
	}
	return nil
}
