package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/money"
	"github.com/joescharf/crm/internal/output"
)

var (
	dealLead       string
	dealTitle      string
	dealValue      string
	dealSource     string
	dealAddress    string
	dealUrgent     bool
	dealCompletion int
	dealLastTouch  string
	dealStage      string
	dealUndo       bool
)

var dealCmd = &cobra.Command{
	Use:   "deal",
	Short: "Manage deals in the pipeline",
	Long:  "Move deals through negotiation, documentation, payment, and closed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealListRun(cmd.Context())
	},
}

var dealAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a deal directly in negotiation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealAddRun(cmd.Context(), cmd)
	},
}

var dealListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List deals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealListRun(cmd.Context())
	},
}

var dealShowCmd = &cobra.Command{
	Use:   "show <deal-id>",
	Short: "Show deal details and checklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealShowRun(cmd.Context(), args[0])
	},
}

var dealUpdateCmd = &cobra.Command{
	Use:   "update <deal-id>",
	Short: "Update a deal",
	Long:  "Update a deal's details. Use 'crm deal move' to change its stage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealUpdateRun(cmd.Context(), cmd, args[0])
	},
}

var dealMoveCmd = &cobra.Command{
	Use:   "move <deal-id> <stage>",
	Short: "Move a deal to an adjacent stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealMoveRun(cmd.Context(), args[0], args[1])
	},
}

var dealAdvanceCmd = &cobra.Command{
	Use:   "advance <deal-id>",
	Short: "Move a deal one stage forward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealStepRun(cmd.Context(), args[0], true)
	},
}

var dealBackCmd = &cobra.Command{
	Use:   "back <deal-id>",
	Short: "Move a deal one stage back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealStepRun(cmd.Context(), args[0], false)
	},
}

var dealWithdrawCmd = &cobra.Command{
	Use:   "withdraw <deal-id>",
	Short: "Withdraw a deal in negotiation back to the leads list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealWithdrawRun(cmd.Context(), args[0])
	},
}

var dealCheckCmd = &cobra.Command{
	Use:   "check <deal-id> <item>",
	Short: "Tick a checklist item by number, ID, or label",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dealCheckRun(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	dealAddCmd.Flags().StringVar(&dealLead, "lead", "", "Lead ID (required)")
	dealAddCmd.Flags().StringVar(&dealTitle, "title", "", "Deal title (required)")
	dealAddCmd.Flags().StringVar(&dealValue, "value", "", "Deal value, e.g. \"₹3.5 Cr\" (required)")
	dealAddCmd.Flags().StringVar(&dealSource, "source", "", "Source: Web, Referral, Zillow, Ads")
	dealAddCmd.Flags().StringVar(&dealAddress, "address", "", "Property address")
	dealAddCmd.Flags().BoolVar(&dealUrgent, "urgent", false, "Flag the deal as urgent")
	dealAddCmd.Flags().IntVar(&dealCompletion, "completion", 0, "Completion percent, 0-100")
	_ = dealAddCmd.MarkFlagRequired("lead")
	_ = dealAddCmd.MarkFlagRequired("title")
	_ = dealAddCmd.MarkFlagRequired("value")

	dealListCmd.Flags().StringVar(&dealStage, "stage", "", "Only deals in this stage")

	dealUpdateCmd.Flags().StringVar(&dealTitle, "title", "", "New title")
	dealUpdateCmd.Flags().StringVar(&dealValue, "value", "", "New value")
	dealUpdateCmd.Flags().StringVar(&dealSource, "source", "", "New source")
	dealUpdateCmd.Flags().StringVar(&dealAddress, "address", "", "New property address")
	dealUpdateCmd.Flags().BoolVar(&dealUrgent, "urgent", false, "Urgent flag")
	dealUpdateCmd.Flags().IntVar(&dealCompletion, "completion", 0, "Completion percent, 0-100")
	dealUpdateCmd.Flags().StringVar(&dealLastTouch, "last-touch", "", "Last touch label, e.g. \"Called buyer\"")

	dealCheckCmd.Flags().BoolVar(&dealUndo, "undo", false, "Untick the item instead")

	dealCmd.AddCommand(dealAddCmd)
	dealCmd.AddCommand(dealListCmd)
	dealCmd.AddCommand(dealShowCmd)
	dealCmd.AddCommand(dealUpdateCmd)
	dealCmd.AddCommand(dealMoveCmd)
	dealCmd.AddCommand(dealAdvanceCmd)
	dealCmd.AddCommand(dealBackCmd)
	dealCmd.AddCommand(dealWithdrawCmd)
	dealCmd.AddCommand(dealCheckCmd)
	rootCmd.AddCommand(dealCmd)
}

func dealAddRun(ctx context.Context, cmd *cobra.Command) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	lead, err := findLead(ctx, svc, sess, dealLead)
	if err != nil {
		return err
	}

	in := crm.DealInput{
		LeadID:          lead.ID,
		Title:           dealTitle,
		Value:           dealValue,
		Source:          parseEnum(dealSource, models.ParseDealSource),
		IsUrgent:        dealUrgent,
		PropertyAddress: dealAddress,
	}
	if cmd.Flags().Changed("completion") {
		in.Completion = &dealCompletion
	}

	if dryRun {
		ui.DryRunMsg("Would add deal %q for %s", dealTitle, lead.Name)
		return nil
	}

	deal, err := svc.AddDeal(ctx, sess, in)
	if err != nil {
		return err
	}
	ui.Success("Added deal %s: %s (%s)", output.Cyan(shortID(deal.ID)), deal.Title, deal.Value)
	return nil
}

func dealListRun(ctx context.Context) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	var stage models.Stage
	if dealStage != "" {
		s, ok := models.ParseStage(dealStage)
		if !ok {
			return fmt.Errorf("unknown stage %q (use negotiation, documentation, payment, or closed)", dealStage)
		}
		stage = s
	}

	deals, err := svc.ListDeals(ctx, sess)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Title", "Stage", "Value", "Done", "Last Touch", ""})
	var total int64
	n := 0
	for _, d := range deals {
		if stage != "" && d.Stage != stage {
			continue
		}
		n++
		total += d.NumericValue
		flag := ""
		if d.IsUrgent {
			flag = output.Red("urgent")
		}
		_ = table.Append([]string{
			shortID(d.ID),
			d.Title,
			output.StageColor(string(d.Stage)),
			d.Value,
			fmt.Sprintf("%d%%", d.Completion),
			d.LastTouch,
			flag,
		})
	}
	if n == 0 {
		ui.Info("No deals found.")
		return nil
	}
	_ = table.Render()
	fmt.Fprintf(ui.Out, "\n%d deals, %s\n", n, money.FormatINR(total))
	return nil
}

func dealShowRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(deal.ID)), deal.Title)
	ui.Field("Stage", output.StageColor(string(deal.Stage)))
	ui.Field("Value", deal.Value)
	ui.Field("Source", deal.Source)
	if deal.PropertyAddress != "" {
		ui.Field("Property", deal.PropertyAddress)
	}
	if deal.IsUrgent {
		ui.Field("Urgent", output.Red("yes"))
	}
	ui.Field("Completion", fmt.Sprintf("%s %d%%", output.Bar(float64(deal.Completion), 20), deal.Completion))
	ui.Field("Last touch", deal.LastTouch)
	ui.Field("In stage", fmt.Sprintf("%d days", deal.DaysInStage))
	if lead, err := svc.GetLead(ctx, sess, deal.LeadID); err == nil {
		ui.Field("Lead", fmt.Sprintf("%s (%s)", lead.Name, shortID(lead.ID)))
	} else {
		ui.Field("Lead", fmt.Sprintf("%s (deleted)", shortID(deal.LeadID)))
	}
	if deal.ClosedAt != nil {
		ui.Field("Closed", deal.ClosedAt.Format(time.RFC3339))
	}
	ui.Field("Full ID", deal.ID)

	if len(deal.Tasks) > 0 {
		fmt.Fprintf(ui.Out, "\nChecklist:\n")
		for i, t := range deal.Tasks {
			box := "[ ]"
			if t.Done {
				box = output.Green("[x]")
			}
			fmt.Fprintf(ui.Out, "  %d. %s %s\n", i+1, box, t.Label)
		}
	}
	return nil
}

func dealUpdateRun(ctx context.Context, cmd *cobra.Command, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	var patch crm.DealPatch
	changed := false
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = &dealTitle
		changed = true
	}
	if flags.Changed("value") {
		patch.Value = &dealValue
		changed = true
	}
	if flags.Changed("source") {
		v := parseEnum(dealSource, models.ParseDealSource)
		patch.Source = &v
		changed = true
	}
	if flags.Changed("address") {
		patch.PropertyAddress = &dealAddress
		changed = true
	}
	if flags.Changed("urgent") {
		patch.IsUrgent = &dealUrgent
		changed = true
	}
	if flags.Changed("completion") {
		patch.Completion = &dealCompletion
		changed = true
	}
	if flags.Changed("last-touch") {
		patch.LastTouch = &dealLastTouch
		changed = true
	}
	if !changed {
		return fmt.Errorf("no updates specified (use --title, --value, --source, --address, --urgent, --completion, or --last-touch)")
	}

	if dryRun {
		ui.DryRunMsg("Would update deal %s", shortID(deal.ID))
		return nil
	}

	updated, err := svc.UpdateDeal(ctx, sess, deal.ID, patch)
	if err != nil {
		return err
	}
	ui.Success("Updated deal %s: %s", output.Cyan(shortID(updated.ID)), updated.Title)
	return nil
}

func dealMoveRun(ctx context.Context, ref, stageName string) error {
	to, ok := models.ParseStage(stageName)
	if !ok {
		return fmt.Errorf("unknown stage %q (use negotiation, documentation, payment, or closed)", stageName)
	}
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	return moveDeal(ctx, svc, sess, deal, to)
}

func dealStepRun(ctx context.Context, ref string, forward bool) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	step, verb := crm.PreviousStage, "go back"
	if forward {
		step, verb = crm.NextStage, "advance"
	}
	to, ok := step(deal.Stage)
	if !ok {
		return fmt.Errorf("deal %s is %s and cannot %s", shortID(deal.ID), deal.Stage, verb)
	}
	return moveDeal(ctx, svc, sess, deal, to)
}

func moveDeal(ctx context.Context, svc *crm.Service, sess crm.Session, deal *models.Deal, to models.Stage) error {
	if err := crm.ValidateStageMove(deal.Stage, to); err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would move deal %s from %s to %s", shortID(deal.ID), deal.Stage, to)
		return nil
	}
	moved, err := svc.MoveDealStage(ctx, sess, deal.ID, to)
	if err != nil {
		return err
	}
	ui.Success("Moved %s to %s", moved.Title, output.StageColor(string(moved.Stage)))
	return nil
}

func dealWithdrawRun(ctx context.Context, ref string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would withdraw deal %s: %s", shortID(deal.ID), deal.Title)
		return nil
	}

	lead, err := svc.WithdrawDeal(ctx, sess, deal.ID)
	if err != nil {
		return reportPartial(err, fmt.Sprintf("Set the lead back with 'crm lead update %s --status Contacted'.", shortID(deal.LeadID)))
	}
	if lead == nil {
		ui.Success("Withdrew deal %s; its lead no longer exists", deal.Title)
		return nil
	}
	ui.Success("Withdrew deal %s; %s is %s", deal.Title, lead.Name, output.StatusColor(string(lead.Status)))
	return nil
}

// checklistItem resolves ref to a checklist item: a 1-based number, an ID
// prefix, or a case-insensitive label.
func checklistItem(deal *models.Deal, ref string) (models.DealTask, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(deal.Tasks) {
			return models.DealTask{}, fmt.Errorf("deal has %d checklist items", len(deal.Tasks))
		}
		return deal.Tasks[n-1], nil
	}
	for _, t := range deal.Tasks {
		if strings.EqualFold(t.Label, ref) || (len(ref) >= 4 && strings.HasPrefix(t.ID, strings.ToUpper(ref))) {
			return t, nil
		}
	}
	return models.DealTask{}, fmt.Errorf("no checklist item %q", ref)
}

func dealCheckRun(ctx context.Context, ref, itemRef string) error {
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	deal, err := findDeal(ctx, svc, sess, ref)
	if err != nil {
		return err
	}
	item, err := checklistItem(deal, itemRef)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would mark %q done=%t", item.Label, !dealUndo)
		return nil
	}

	if _, err := svc.ToggleDealTask(ctx, sess, deal.ID, item.ID, !dealUndo); err != nil {
		return err
	}
	if dealUndo {
		ui.Success("Unticked %q on %s", item.Label, deal.Title)
	} else {
		ui.Success("Ticked %q on %s", item.Label, deal.Title)
	}
	return nil
}
