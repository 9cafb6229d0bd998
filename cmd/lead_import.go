package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/llm"
	"github.com/joescharf/crm/internal/models"
)

var (
	importPlain  bool
	importSource string
	importTemp   string
)

var leadImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import leads from notes, emails, or a pasted sheet",
	Long: `Import leads from free text using an LLM to extract structured data.

Without an API key, or with --plain, each line is read as one lead with
fields separated by "|", ";", tabs, or commas, name first.

Reads stdin when the file is "-". Uses ANTHROPIC_API_KEY or
anthropic.api_key in config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return leadImportRun(cmd.Context(), args[0], cmd.InOrStdin())
	},
}

func init() {
	leadImportCmd.Flags().BoolVar(&importPlain, "plain", false, "Use the line parser even when an API key is configured")
	leadImportCmd.Flags().StringVar(&importSource, "source", "", "Source for leads that do not name one")
	leadImportCmd.Flags().StringVar(&importTemp, "temp", "", "Temperature for leads that do not name one")
	leadCmd.AddCommand(leadImportCmd)
}

func leadImportRun(ctx context.Context, file string, stdin io.Reader) error {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("input is empty: %s", file)
	}

	svc, sess, err := deps()
	if err != nil {
		return err
	}

	var extracted []llm.ExtractedLead
	client := getLLM()
	if client == nil || importPlain {
		if client == nil && !importPlain {
			ui.VerboseLog("No API key configured, reading one lead per line")
		}
		extracted = llm.ParseLines(content)
	} else {
		ui.Info("Extracting leads with LLM...")
		extracted, err = client.ExtractLeads(ctx, content)
		if err != nil {
			return fmt.Errorf("extract leads: %w", err)
		}
	}

	if len(extracted) == 0 {
		ui.Info("No leads found in input.")
		return nil
	}

	table := ui.Table([]string{"#", "Name", "Phone", "Source", "Temp", "Budget"})
	for i, e := range extracted {
		_ = table.Append([]string{
			fmt.Sprintf("%d", i+1),
			e.Name,
			e.Phone,
			e.Source,
			e.Temperature,
			e.Budget,
		})
	}
	_ = table.Render()

	if dryRun {
		ui.DryRunMsg("Would create %d leads", len(extracted))
		return nil
	}

	return createExtractedLeads(ctx, svc, sess, extracted)
}

// leadInputFrom maps an extracted lead onto a LeadInput. Values the model
// does not recognise fall back to the flags, then to the service defaults.
func leadInputFrom(e llm.ExtractedLead) crm.LeadInput {
	in := crm.LeadInput{
		Name:   strings.TrimSpace(e.Name),
		Phone:  strings.TrimSpace(e.Phone),
		Email:  strings.TrimSpace(e.Email),
		Budget: strings.TrimSpace(e.Budget),
		Tags:   e.Tags,
		Notes:  strings.TrimSpace(e.Notes),
	}
	if v, ok := models.ParseLeadSource(e.Source); ok {
		in.Source = v
	} else if v, ok := models.ParseLeadSource(importSource); ok {
		in.Source = v
	}
	if v, ok := models.ParseTemperature(e.Temperature); ok {
		in.Temperature = v
	} else if v, ok := models.ParseTemperature(importTemp); ok {
		in.Temperature = v
	}
	if v, ok := models.ParseInterest(e.Interest); ok {
		in.Interest = v
	}
	return in
}

// createExtractedLeads adds each lead, skipping the ones the service rejects.
func createExtractedLeads(ctx context.Context, svc *crm.Service, sess crm.Session, extracted []llm.ExtractedLead) error {
	created, skipped := 0, 0
	for _, e := range extracted {
		if _, err := svc.AddLead(ctx, sess, leadInputFrom(e)); err != nil {
			ui.Warning("Skipping %q: %v", e.Name, err)
			skipped++
			continue
		}
		created++
	}

	ui.Success("Created %d leads", created)
	if skipped > 0 {
		ui.Warning("Skipped %d leads", skipped)
	}
	return nil
}
