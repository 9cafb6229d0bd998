package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/daemon"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

var (
	watchJSON  bool
	watchCount int
)

var watchCmd = &cobra.Command{
	Use:       "watch <leads|deals|tasks>",
	Short:     "Follow one collection live",
	Long:      "Print the collection now and again after every change, until interrupted.\nRun with redis.addr set to see changes made by other processes.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.KindLeads), string(models.KindDeals), string(models.KindTasks)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), daemon.ShutdownSignals()...)
		defer stop()
		return watchRun(ctx, models.Kind(args[0]))
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print each snapshot as one JSON line")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "Stop after this many snapshots (0 = run until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

func watchRun(ctx context.Context, kind models.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown collection %q (use leads, deals, or tasks)", kind)
	}
	svc, sess, err := deps()
	if err != nil {
		return err
	}
	sub, err := svc.Subscribe(ctx, sess, kind)
	if err != nil {
		return err
	}
	defer sub.Close()

	seen := 0
	for snap := range sub.C {
		if snap.Err != nil {
			// The subscription stays open; the next change retries the read.
			ui.Warning("%s: %v", kind, snap.Err)
		} else if err := printSnapshot(snap); err != nil {
			return err
		}
		seen++
		if watchCount > 0 && seen >= watchCount {
			return nil
		}
	}
	return nil
}

func printSnapshot(snap store.Snapshot) error {
	if watchJSON {
		var v any
		switch snap.Kind {
		case models.KindLeads:
			v = snap.Leads
		case models.KindDeals:
			v = snap.Deals
		default:
			v = snap.Tasks
		}
		data, err := json.Marshal(map[string]any{"kind": snap.Kind, "at": snap.At, "count": snap.Len(), "items": v})
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(data))
		return nil
	}

	fmt.Fprintf(ui.Out, "%s  %s: %d\n", snap.At.Local().Format("15:04:05"), snap.Kind, snap.Len())
	switch snap.Kind {
	case models.KindLeads:
		for _, l := range snap.Leads {
			fmt.Fprintf(ui.Out, "  %s  %-24s %-10s %s\n", shortID(l.ID), l.Name, l.Status, l.Temperature)
		}
	case models.KindDeals:
		for _, d := range snap.Deals {
			fmt.Fprintf(ui.Out, "  %s  %-24s %-14s %s\n", shortID(d.ID), d.Title, d.Stage, d.Value)
		}
	case models.KindTasks:
		for _, t := range snap.Tasks {
			fmt.Fprintf(ui.Out, "  %s  %-24s %-10s %s\n", shortID(t.ID), t.LeadName, t.Status, t.Description)
		}
	}
	return nil
}
