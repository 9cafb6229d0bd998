package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/output"
)

var (
	leadName     string
	leadPhone    string
	leadEmail    string
	leadStatus   string
	leadSource   string
	leadInterest string
	leadTemp     string
	leadBudget   string
	leadTags     []string
	leadNotes    string
	leadFilter   string

	promoteTitle   string
	promoteValue   string
	promoteAddress string
	promoteUrgent  bool
	promoteResume  bool

	logType     string
	nextTask    string
	nextDate    string
	nextClear   bool
	nextSuggest bool
)

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Manage leads",
	Long:  "Track prospective clients before they enter the deal pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadListRun(cmd.Context())
	},
}

var leadAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new lead",
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadAddRun(cmd.Context())
	},
}

var leadListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List leads",
	Long:    "List leads, newest first. --filter narrows to new, hot, or action (needs follow-up).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadListRun(cmd.Context())
	},
}

var leadShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show lead details, history, and score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadShowRun(cmd.Context(), args[0])
	},
}

var leadUpdateCmd = &cobra.Command{
	Use:   "update <lead-id>",
	Short: "Update a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadUpdateRun(cmd.Context(), cmd, args[0])
	},
}

var leadDeleteCmd = &cobra.Command{
	Use:     "delete <lead-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a lead",
	Long:    "Delete a lead. Its deal and follow-ups are kept.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadDeleteRun(cmd.Context(), args[0])
	},
}

var leadPromoteCmd = &cobra.Command{
	Use:   "promote <lead-id>",
	Short: "Promote a lead to a deal in negotiation",
	Long: `Create a deal from the lead and mark the lead Qualified.

If the deal was created but the lead could not be updated, run again
with --resume to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadPromoteRun(cmd.Context(), args[0])
	},
}

var leadLogCmd = &cobra.Command{
	Use:   "log <lead-id> <summary>",
	Short: "Record an activity on the lead's history",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadLogRun(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var leadNextCmd = &cobra.Command{
	Use:   "next <lead-id>",
	Short: "Set, suggest, or clear the lead's next action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadNextRun(cmd.Context(), args[0])
	},
}

func init() {
	leadAddCmd.Flags().StringVar(&leadName, "name", "", "Full name (required)")
	leadAddCmd.Flags().StringVar(&leadPhone, "phone", "", "Phone number (required)")
	leadAddCmd.Flags().StringVar(&leadEmail, "email", "", "Email address")
	leadAddCmd.Flags().StringVar(&leadStatus, "status", "", "Status: New, Contacted, Qualified, Waiting, Lost (default New)")
	leadAddCmd.Flags().StringVar(&leadSource, "source", "", "Source: Zillow, Facebook, Referral, Website, Direct (default Direct)")
	leadAddCmd.Flags().StringVar(&leadInterest, "interest", "", "Interest: Buying, Selling, Renting (default Buying)")
	leadAddCmd.Flags().StringVar(&leadTemp, "temp", "", "Temperature: Hot, Warm, Cold (default Cold)")
	leadAddCmd.Flags().StringVar(&leadBudget, "budget", "", "Budget as written, e.g. \"₹3.5 Cr\"")
	leadAddCmd.Flags().StringSliceVar(&leadTags, "tag", nil, "Property preference (repeatable)")
	leadAddCmd.Flags().StringVar(&leadNotes, "notes", "", "Notes")
	_ = leadAddCmd.MarkFlagRequired("name")
	_ = leadAddCmd.MarkFlagRequired("phone")

	leadListCmd.Flags().StringVar(&leadFilter, "filter", "all", "Filter: all, new, hot, action")

	leadUpdateCmd.Flags().StringVar(&leadName, "name", "", "New name")
	leadUpdateCmd.Flags().StringVar(&leadPhone, "phone", "", "New phone")
	leadUpdateCmd.Flags().StringVar(&leadEmail, "email", "", "New email")
	leadUpdateCmd.Flags().StringVar(&leadStatus, "status", "", "New status")
	leadUpdateCmd.Flags().StringVar(&leadSource, "source", "", "New source")
	leadUpdateCmd.Flags().StringVar(&leadInterest, "interest", "", "New interest")
	leadUpdateCmd.Flags().StringVar(&leadTemp, "temp", "", "New temperature")
	leadUpdateCmd.Flags().StringVar(&leadBudget, "budget", "", "New budget")
	leadUpdateCmd.Flags().StringSliceVar(&leadTags, "tag", nil, "Replace property preferences (repeatable)")
	leadUpdateCmd.Flags().StringVar(&leadNotes, "notes", "", "New notes")

	leadPromoteCmd.Flags().StringVar(&promoteTitle, "title", "", "Deal title (default: lead name and interest)")
	leadPromoteCmd.Flags().StringVar(&promoteValue, "value", "", "Deal value (default: parsed from the lead's budget)")
	leadPromoteCmd.Flags().StringVar(&promoteAddress, "address", "", "Property address")
	leadPromoteCmd.Flags().BoolVar(&promoteUrgent, "urgent", false, "Flag the deal as urgent")
	leadPromoteCmd.Flags().BoolVar(&promoteResume, "resume", false, "Finish a promotion whose deal already exists")

	leadLogCmd.Flags().StringVar(&logType, "type", "Note", "Activity: Call, Email, Meeting, Note, WhatsApp")

	leadNextCmd.Flags().StringVar(&nextTask, "task", "", "Next action description")
	leadNextCmd.Flags().StringVar(&nextDate, "date", "", "When: YYYY-MM-DD, YYYY-MM-DD HH:MM, or RFC3339")
	leadNextCmd.Flags().BoolVar(&nextClear, "clear", false, "Clear the next action")
	leadNextCmd.Flags().BoolVar(&nextSuggest, "suggest", false, "Ask the LLM for a suggestion and apply it")

	leadCmd.AddCommand(leadAddCmd)
	leadCmd.AddCommand(leadListCmd)
	leadCmd.AddCommand(leadShowCmd)
	leadCmd.AddCommand(leadUpdateCmd)
	leadCmd.AddCommand(leadDeleteCmd)
	leadCmd.AddCommand(leadPromoteCmd)
	leadCmd.AddCommand(leadLogCmd)
	leadCmd.AddCommand(leadNextCmd)
	rootCmd.AddCommand(leadCmd)
}

// deps returns the service and session every domain command needs.
func deps() (*crm.Service, crm.Session, error) {
	sess, err := session()
	if err != nil {
		return nil, crm.Session{}, err
	}
	svc, err := getService()
	if err != nil {
		return nil, crm.Session{}, err
	}
	return svc, sess, nil
}

func leadAddRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}

	in := crm.LeadInput{
		Name:        leadName,
		Phone:       leadPhone,
		Email:       leadEmail,
		Status:      parseEnum(leadStatus, models.ParseLeadStatus),
		Source:      parseEnum(leadSource, models.ParseLeadSource),
		Interest:    parseEnum(leadInterest, models.ParseInterest),
		Temperature: parseEnum(leadTemp, models.ParseTemperature),
		Budget:      leadBudget,
		Tags:        leadTags,
		Notes:       leadNotes,
	}

	if dryRun {
		ui.DryRunMsg("Would add lead: %s (%s)", leadName, leadPhone)
		return nil
	}

	lead, err := svc.AddLead(ctx, sess, in)
	if err != nil {
		return err
	}
	ui.Success("Added lead %s: %s", output.Cyan(shortID(lead.ID)), lead.Name)
	return nil
}

func leadListRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	filter, ok := dashboard.ParseLeadFilter(leadFilter)
	if !ok {
		return fmt.Errorf("unknown filter %q (use all, new, hot, or action)", leadFilter)
	}

	leads, err := svc.ListLeads(ctx, sess)
	if err != nil {
		return err
	}
	leads = dashboard.FilterLeads(leads, filter)
	if len(leads) == 0 {
		ui.Info("No leads found.")
		return nil
	}

	now := svc.Now()
	table := ui.Table([]string{"ID", "Name", "Phone", "Status", "Temp", "Budget", "Next Action"})
	for _, l := range leads {
		next := ""
		if l.NextAction != nil {
			next = l.NextAction.Task + " (" + dueLabel(l.NextAction.Date, now) + ")"
			if l.NextAction.IsOverdue {
				next = output.Red(next)
			}
		}
		_ = table.Append([]string{
			shortID(l.ID),
			l.Name,
			l.Phone,
			output.StatusColor(string(l.Status)),
			output.TemperatureColor(string(l.Temperature)),
			l.Budget,
			next,
		})
	}
	_ = table.Render()
	return nil
}

func leadShowRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	tasks, err := svc.ListTasks(ctx, sess)
	if err != nil {
		return err
	}
	now := svc.Now()
	score := dashboard.NewScorerWithClock(svc.Now).Score(lead, tasks)

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(lead.ID)), lead.Name)
	ui.Field("Phone", lead.Phone)
	if lead.Email != "" {
		ui.Field("Email", lead.Email)
	}
	ui.Field("Status", output.StatusColor(string(lead.Status)))
	ui.Field("Temperature", output.TemperatureColor(string(lead.Temperature)))
	ui.Field("Interest", lead.Interest)
	ui.Field("Source", lead.Source)
	if lead.Budget != "" {
		ui.Field("Budget", lead.Budget)
	}
	if len(lead.Tags) > 0 {
		ui.Field("Tags", strings.Join(lead.Tags, ", "))
	}
	if lead.Notes != "" {
		ui.Field("Notes", lead.Notes)
	}
	if lead.NextAction != nil {
		ui.Field("Next", fmt.Sprintf("%s (%s)", lead.NextAction.Task, dueLabel(lead.NextAction.Date, now)))
	}
	ui.Field("Score", fmt.Sprintf("%s  (temp %d, recency %d, follow-ups %d, next action %d)",
		output.ScoreColor(score.Total), score.Temperature, score.Recency, score.FollowUps, score.NextAction))
	ui.Field("Created", lead.CreatedAt.Format(time.RFC3339))
	ui.Field("Full ID", lead.ID)

	var pending []*models.FollowUpTask
	for _, t := range tasks {
		if t.LeadID == lead.ID && t.Status == models.TaskStatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(ui.Out, "\nFollow-ups:\n")
		for _, t := range pending {
			fmt.Fprintf(ui.Out, "  %s  %-8s %s  %s\n", shortID(t.ID), t.TaskType, dueLabel(t.DueDate, now), t.Description)
		}
	}

	if len(lead.History) > 0 {
		history := append([]models.HistoryEntry(nil), lead.History...)
		sort.SliceStable(history, func(i, j int) bool { return history[i].At.After(history[j].At) })
		fmt.Fprintf(ui.Out, "\nHistory:\n")
		for _, h := range history {
			fmt.Fprintf(ui.Out, "  %s  %-8s %s\n", h.At.In(now.Location()).Format("2006-01-02 15:04"), h.Type, h.Summary)
		}
	}
	return nil
}

func leadUpdateRun(ctx context.Context, cmd *cobra.Command, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	var patch crm.LeadPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		patch.Name = &leadName
	}
	if flags.Changed("phone") {
		patch.Phone = &leadPhone
	}
	if flags.Changed("email") {
		patch.Email = &leadEmail
	}
	if flags.Changed("status") {
		v := parseEnum(leadStatus, models.ParseLeadStatus)
		patch.Status = &v
	}
	if flags.Changed("source") {
		v := parseEnum(leadSource, models.ParseLeadSource)
		patch.Source = &v
	}
	if flags.Changed("interest") {
		v := parseEnum(leadInterest, models.ParseInterest)
		patch.Interest = &v
	}
	if flags.Changed("temp") {
		v := parseEnum(leadTemp, models.ParseTemperature)
		patch.Temperature = &v
	}
	if flags.Changed("budget") {
		patch.Budget = &leadBudget
	}
	if flags.Changed("tag") {
		patch.Tags = &leadTags
	}
	if flags.Changed("notes") {
		patch.Notes = &leadNotes
	}

	if patch.Empty() {
		return fmt.Errorf("no updates specified (use --name, --phone, --email, --status, --source, --interest, --temp, --budget, --tag, or --notes)")
	}

	if dryRun {
		ui.DryRunMsg("Would update lead %s", shortID(lead.ID))
		return nil
	}

	updated, err := svc.UpdateLead(ctx, sess, lead.ID, patch)
	if err != nil {
		return err
	}
	ui.Success("Updated lead %s: %s", output.Cyan(shortID(updated.ID)), updated.Name)
	return nil
}

func leadDeleteRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete lead %s: %s", shortID(lead.ID), lead.Name)
		return nil
	}

	if err := svc.DeleteLead(ctx, sess, lead.ID); err != nil {
		return err
	}
	ui.Success("Deleted lead %s: %s", output.Cyan(shortID(lead.ID)), lead.Name)
	return nil
}

func leadPromoteRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	if promoteResume {
		if dryRun {
			ui.DryRunMsg("Would mark lead %s Qualified", shortID(lead.ID))
			return nil
		}
		updated, err := svc.ResumePromotion(ctx, sess, lead.ID)
		if err != nil {
			return err
		}
		ui.Success("Lead %s is %s", updated.Name, output.StatusColor(string(updated.Status)))
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would promote lead %s: %s", shortID(lead.ID), lead.Name)
		return nil
	}

	deal, err := svc.PromoteLead(ctx, sess, lead.ID, crm.DealSeed{
		Title:           promoteTitle,
		Value:           promoteValue,
		PropertyAddress: promoteAddress,
		IsUrgent:        promoteUrgent,
	})
	if err != nil {
		return reportPartial(err, fmt.Sprintf("Run 'crm lead promote %s --resume' to finish.", shortID(lead.ID)))
	}
	ui.Success("Promoted %s to deal %s: %s (%s)", lead.Name, output.Cyan(shortID(deal.ID)), deal.Title, deal.Value)
	return nil
}

func leadLogRun(ctx context.Context, ref, summary string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	t := parseEnum(logType, models.ParseHistoryType)

	if dryRun {
		ui.DryRunMsg("Would log %s on %s: %s", t, lead.Name, summary)
		return nil
	}

	if _, err := svc.LogActivity(ctx, sess, lead.ID, t, summary); err != nil {
		return err
	}
	ui.Success("Logged %s on %s", t, lead.Name)
	return nil
}

func leadNextRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	var next *models.NextAction
	switch {
	case nextClear:
	case nextSuggest:
		client := getLLM()
		if client == nil {
			return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
		}
		now := svc.Now()
		ui.VerboseLog("Asking the LLM for a next action for %s", lead.Name)
		s, err := client.SuggestNextAction(ctx, lead, now)
		if err != nil {
			return fmt.Errorf("suggest next action: %w", err)
		}
		ui.Info("Suggested: %s (%s, in %d days)", s.Task, s.Type, s.DueInDays)
		if s.Reason != "" {
			ui.Info("Why: %s", s.Reason)
		}
		next = &models.NextAction{Task: s.Task, Date: suggestionDate(now, s.DueInDays)}
	default:
		if nextTask == "" || nextDate == "" {
			return fmt.Errorf("specify --task and --date, --suggest, or --clear")
		}
		due, err := crm.ParseDueDate(nextDate, time.Local)
		if err != nil {
			return err
		}
		next = &models.NextAction{Task: nextTask, Date: due}
	}

	if dryRun {
		if next == nil {
			ui.DryRunMsg("Would clear next action for %s", lead.Name)
		} else {
			ui.DryRunMsg("Would set next action for %s: %s", lead.Name, next.Task)
		}
		return nil
	}

	if _, err := svc.SetNextAction(ctx, sess, lead.ID, next); err != nil {
		return err
	}
	if next == nil {
		ui.Success("Cleared next action for %s", lead.Name)
		return nil
	}
	ui.Success("Next action for %s: %s (%s)", lead.Name, next.Task, dueLabel(next.Date, svc.Now()))
	return nil
}

// suggestionDate places a suggestion days from now at 10:00 local time.
func suggestionDate(now time.Time, days int) time.Time {
	y, m, d := now.AddDate(0, 0, days).Date()
	return time.Date(y, m, d, 10, 0, 0, 0, now.Location())
}
