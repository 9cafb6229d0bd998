package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/crm/internal/daemon"
	"github.com/joescharf/crm/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Every tool call acts as the configured owner (--owner, CRM_OWNER, or
owner in config). Register it with an MCP client as:

  {
    "mcpServers": {
      "crm": { "command": "crm", "args": ["mcp", "--owner", "agent-1"] }
    }
  }

Available tools: crm_list_leads, crm_add_lead, crm_update_lead,
crm_promote_lead, crm_lead_score, crm_list_deals, crm_move_deal_stage,
crm_withdraw_deal, crm_list_tasks, crm_add_follow_up, crm_complete_task,
crm_dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, sess, err := deps()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), daemon.ShutdownSignals()...)
		defer stop()
		return mcp.NewServer(svc, sess).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
