package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/models"
)

// Server exposes the CRM service as MCP tools. Every tool acts as the
// session it was built with.
type Server struct {
	svc  *crm.Service
	sess crm.Session
	loc  *time.Location
}

// NewServer creates the MCP server wrapper acting as sess.
func NewServer(svc *crm.Service, sess crm.Session) *Server {
	return &Server{svc: svc, sess: sess, loc: time.Local}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("crm", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listLeadsTool())
	srv.AddTool(s.addLeadTool())
	srv.AddTool(s.updateLeadTool())
	srv.AddTool(s.promoteLeadTool())
	srv.AddTool(s.leadScoreTool())
	srv.AddTool(s.listDealsTool())
	srv.AddTool(s.moveDealStageTool())
	srv.AddTool(s.withdrawDealTool())
	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.addFollowUpTool())
	srv.AddTool(s.completeTaskTool())
	srv.AddTool(s.dashboardTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// toolError renders err with its code so an agent can tell a retryable
// failure from a bad request.
func toolError(action string, err error) *mcp.CallToolResult {
	if code := crmerr.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] failed to %s: %v", code, action, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type leadOut struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email,omitempty"`
	Status      string   `json:"status"`
	Source      string   `json:"source"`
	Interest    string   `json:"interest"`
	Temperature string   `json:"temperature"`
	Budget      string   `json:"budget,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	NextAction  string   `json:"next_action,omitempty"`
	NextDue     string   `json:"next_action_due,omitempty"`
}

func toLeadOut(l *models.Lead) leadOut {
	out := leadOut{
		ID:          l.ID,
		Name:        l.Name,
		Phone:       l.Phone,
		Email:       l.Email,
		Status:      string(l.Status),
		Source:      string(l.Source),
		Interest:    string(l.Interest),
		Temperature: string(l.Temperature),
		Budget:      l.Budget,
		Tags:        l.Tags,
	}
	if l.NextAction != nil {
		out.NextAction = l.NextAction.Task
		out.NextDue = l.NextAction.Date.Format(time.RFC3339)
	}
	return out
}

type dealOut struct {
	ID          string `json:"id"`
	LeadID      string `json:"lead_id,omitempty"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Rupees      int64  `json:"value_rupees"`
	Stage       string `json:"stage"`
	Source      string `json:"source"`
	DaysInStage int    `json:"days_in_stage"`
	Completion  int    `json:"completion"`
	IsUrgent    bool   `json:"is_urgent"`
}

func toDealOut(d *models.Deal) dealOut {
	return dealOut{
		ID:          d.ID,
		LeadID:      d.LeadID,
		Title:       d.Title,
		Value:       d.Value,
		Rupees:      d.NumericValue,
		Stage:       string(d.Stage),
		Source:      string(d.Source),
		DaysInStage: d.DaysInStage,
		Completion:  d.Completion,
		IsUrgent:    d.IsUrgent,
	}
}

type taskOut struct {
	ID          string `json:"id"`
	LeadID      string `json:"lead_id"`
	LeadName    string `json:"lead_name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Due         string `json:"due"`
	DisplayTime string `json:"display_time"`
	Status      string `json:"status"`
	IsOverdue   bool   `json:"is_overdue"`
}

func toTaskOut(t *models.FollowUpTask) taskOut {
	return taskOut{
		ID:          t.ID,
		LeadID:      t.LeadID,
		LeadName:    t.LeadName,
		Type:        string(t.TaskType),
		Description: t.Description,
		Due:         t.DueDate.Format(time.RFC3339),
		DisplayTime: t.DisplayTime,
		Status:      string(t.Status),
		IsOverdue:   t.IsOverdue,
	}
}

// ---------------------------------------------------------------------------
// Leads
// ---------------------------------------------------------------------------

// crm_list_leads
func (s *Server) listLeadsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_list_leads",
		mcp.WithDescription("List leads, newest first. Returns a JSON array with id, name, phone, status, temperature, budget and next action."),
		mcp.WithString("filter", mcp.Description("Filter: all, new, hot or action (needs follow-up)")),
	)
	return tool, s.handleListLeads
}

func (s *Server) handleListLeads(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := request.GetString("filter", "")
	filter, ok := dashboard.ParseLeadFilter(raw)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("invalid filter: %s (valid: all, new, hot, action)", raw)), nil
	}
	leads, err := s.svc.ListLeads(ctx, s.sess)
	if err != nil {
		return toolError("list leads", err), nil
	}
	leads = dashboard.FilterLeads(leads, filter)
	out := make([]leadOut, len(leads))
	for i, l := range leads {
		out[i] = toLeadOut(l)
	}
	return jsonResult(out)
}

// crm_add_lead
func (s *Server) addLeadTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_add_lead",
		mcp.WithDescription("Create a new lead. Status defaults to New, temperature to Cold, interest to Buying."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full name")),
		mcp.WithString("phone", mcp.Required(), mcp.Description("Phone number")),
		mcp.WithString("email", mcp.Description("Email address")),
		mcp.WithString("source", mcp.Description("Zillow, Facebook, Referral, Website or Direct")),
		mcp.WithString("interest", mcp.Description("Buying, Selling or Renting")),
		mcp.WithString("temperature", mcp.Description("Hot, Warm or Cold")),
		mcp.WithString("budget", mcp.Description("Budget as written, e.g. ₹3.73 Cr or ₹4 Cr - ₹6 Cr")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("notes", mcp.Description("Free-form notes")),
	)
	return tool, s.handleAddLead
}

func (s *Server) handleAddLead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: name"), nil
	}
	phone, err := request.RequireString("phone")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: phone"), nil
	}

	in := crm.LeadInput{
		Name:   name,
		Phone:  phone,
		Email:  request.GetString("email", ""),
		Budget: request.GetString("budget", ""),
		Notes:  request.GetString("notes", ""),
		Tags:   splitTags(request.GetString("tags", "")),
	}
	if v := request.GetString("source", ""); v != "" {
		src, ok := models.ParseLeadSource(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid source: %s", v)), nil
		}
		in.Source = src
	}
	if v := request.GetString("interest", ""); v != "" {
		interest, ok := models.ParseInterest(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid interest: %s", v)), nil
		}
		in.Interest = interest
	}
	if v := request.GetString("temperature", ""); v != "" {
		temp, ok := models.ParseTemperature(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid temperature: %s", v)), nil
		}
		in.Temperature = temp
	}

	lead, err := s.svc.AddLead(ctx, s.sess, in)
	if err != nil {
		return toolError("add lead", err), nil
	}
	return jsonResult(toLeadOut(lead))
}

// crm_update_lead
func (s *Server) updateLeadTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_update_lead",
		mcp.WithDescription("Update fields on an existing lead. Only the provided fields change; history is not touched."),
		mcp.WithString("lead_id", mcp.Required(), mcp.Description("Lead ID")),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("phone", mcp.Description("New phone")),
		mcp.WithString("email", mcp.Description("New email")),
		mcp.WithString("status", mcp.Description("New, Contacted, Qualified, Waiting or Lost")),
		mcp.WithString("temperature", mcp.Description("Hot, Warm or Cold")),
		mcp.WithString("budget", mcp.Description("New budget")),
		mcp.WithString("notes", mcp.Description("Replacement notes")),
	)
	return tool, s.handleUpdateLead
}

func (s *Server) handleUpdateLead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("lead_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: lead_id"), nil
	}

	var patch crm.LeadPatch
	for key, target := range map[string]**string{
		"name":   &patch.Name,
		"phone":  &patch.Phone,
		"email":  &patch.Email,
		"budget": &patch.Budget,
		"notes":  &patch.Notes,
	} {
		if v := request.GetString(key, ""); v != "" {
			*target = &v
		}
	}
	if v := request.GetString("status", ""); v != "" {
		status, ok := models.ParseLeadStatus(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", v)), nil
		}
		patch.Status = &status
	}
	if v := request.GetString("temperature", ""); v != "" {
		temp, ok := models.ParseTemperature(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid temperature: %s", v)), nil
		}
		patch.Temperature = &temp
	}
	if patch.Empty() {
		return mcp.NewToolResultError("no fields to update"), nil
	}

	lead, err := s.svc.UpdateLead(ctx, s.sess, id, patch)
	if err != nil {
		return toolError("update lead", err), nil
	}
	return jsonResult(toLeadOut(lead))
}

// crm_promote_lead
func (s *Server) promoteLeadTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_promote_lead",
		mcp.WithDescription("Promote a lead to a deal in negotiation and mark the lead Qualified. Value defaults to the lead's budget."),
		mcp.WithString("lead_id", mcp.Required(), mcp.Description("Lead ID")),
		mcp.WithString("title", mcp.Description("Deal title (defaults to the lead's name)")),
		mcp.WithString("value", mcp.Description("Deal value, e.g. ₹2.5 Cr")),
		mcp.WithString("property_address", mcp.Description("Property address")),
	)
	return tool, s.handlePromoteLead
}

func (s *Server) handlePromoteLead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("lead_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: lead_id"), nil
	}
	deal, err := s.svc.PromoteLead(ctx, s.sess, id, crm.DealSeed{
		Title:           request.GetString("title", ""),
		Value:           request.GetString("value", ""),
		PropertyAddress: request.GetString("property_address", ""),
	})
	if err != nil {
		return toolError("promote lead", err), nil
	}
	return jsonResult(toDealOut(deal))
}

// crm_lead_score
func (s *Server) leadScoreTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_lead_score",
		mcp.WithDescription("Get a 0-100 engagement score for a lead with its temperature, recency, follow-up and next-action breakdown."),
		mcp.WithString("lead_id", mcp.Required(), mcp.Description("Lead ID")),
	)
	return tool, s.handleLeadScore
}

func (s *Server) handleLeadScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("lead_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: lead_id"), nil
	}
	lead, err := s.svc.GetLead(ctx, s.sess, id)
	if err != nil {
		return toolError("get lead", err), nil
	}
	tasks, err := s.svc.ListTasks(ctx, s.sess)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	sc := dashboard.NewScorerWithClock(s.svc.Now).Score(lead, tasks)
	return jsonResult(map[string]any{
		"lead":        lead.Name,
		"total":       sc.Total,
		"temperature": sc.Temperature,
		"recency":     sc.Recency,
		"follow_ups":  sc.FollowUps,
		"next_action": sc.NextAction,
	})
}

// ---------------------------------------------------------------------------
// Deals
// ---------------------------------------------------------------------------

// crm_list_deals
func (s *Server) listDealsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_list_deals",
		mcp.WithDescription("List deals, newest first, optionally limited to one pipeline stage."),
		mcp.WithString("stage", mcp.Description("negotiation, documentation, payment or closed")),
	)
	return tool, s.handleListDeals
}

func (s *Server) handleListDeals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stage models.Stage
	if v := request.GetString("stage", ""); v != "" {
		st, ok := models.ParseStage(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid stage: %s", v)), nil
		}
		stage = st
	}
	deals, err := s.svc.ListDeals(ctx, s.sess)
	if err != nil {
		return toolError("list deals", err), nil
	}
	out := make([]dealOut, 0, len(deals))
	for _, d := range deals {
		if stage != "" && d.Stage != stage {
			continue
		}
		out = append(out, toDealOut(d))
	}
	return jsonResult(out)
}

// crm_move_deal_stage
func (s *Server) moveDealStageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_move_deal_stage",
		mcp.WithDescription("Move a deal one stage forward or back. Closed deals cannot move. Give either stage or direction."),
		mcp.WithString("deal_id", mcp.Required(), mcp.Description("Deal ID")),
		mcp.WithString("stage", mcp.Description("Target stage: negotiation, documentation, payment or closed")),
		mcp.WithString("direction", mcp.Description("next or back"), mcp.Enum("next", "back")),
	)
	return tool, s.handleMoveDealStage
}

func (s *Server) handleMoveDealStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("deal_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: deal_id"), nil
	}

	var to models.Stage
	switch dir, raw := request.GetString("direction", ""), request.GetString("stage", ""); {
	case raw != "":
		st, ok := models.ParseStage(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid stage: %s", raw)), nil
		}
		to = st
	case dir == "next" || dir == "back":
		deal, err := s.svc.GetDeal(ctx, s.sess, id)
		if err != nil {
			return toolError("get deal", err), nil
		}
		var ok bool
		if dir == "next" {
			to, ok = crm.NextStage(deal.Stage)
		} else {
			to, ok = crm.PreviousStage(deal.Stage)
		}
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("deal in %s has no %s stage", deal.Stage, dir)), nil
		}
	default:
		return mcp.NewToolResultError("provide stage or direction (next, back)"), nil
	}

	deal, err := s.svc.MoveDealStage(ctx, s.sess, id, to)
	if err != nil {
		return toolError("move deal", err), nil
	}
	return jsonResult(toDealOut(deal))
}

// crm_withdraw_deal
func (s *Server) withdrawDealTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_withdraw_deal",
		mcp.WithDescription("Withdraw a deal still in negotiation: the deal is removed and its lead goes back to Contacted."),
		mcp.WithString("deal_id", mcp.Required(), mcp.Description("Deal ID")),
	)
	return tool, s.handleWithdrawDeal
}

func (s *Server) handleWithdrawDeal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("deal_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: deal_id"), nil
	}
	lead, err := s.svc.WithdrawDeal(ctx, s.sess, id)
	if err != nil {
		return toolError("withdraw deal", err), nil
	}
	result := map[string]any{"withdrawn": id}
	if lead != nil {
		result["lead"] = toLeadOut(lead)
	}
	return jsonResult(result)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// crm_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_list_tasks",
		mcp.WithDescription("List follow-up tasks ordered by due date. Pass a bucket to get only today's, upcoming or overdue pending tasks."),
		mcp.WithString("bucket", mcp.Description("today, upcoming or overdue")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.svc.ListTasks(ctx, s.sess)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	if v := request.GetString("bucket", ""); v != "" {
		b := dashboard.Bucket(strings.ToLower(v))
		if !b.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid bucket: %s (valid: today, upcoming, overdue)", v)), nil
		}
		tasks = dashboard.TaskBucket(tasks, b, s.svc.Now())
	}
	out := make([]taskOut, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskOut(t)
	}
	return jsonResult(out)
}

// crm_add_follow_up
func (s *Server) addFollowUpTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_add_follow_up",
		mcp.WithDescription("Schedule a follow-up with a lead. The lead's name, temperature and phone are copied onto the task."),
		mcp.WithString("lead_id", mcp.Required(), mcp.Description("Lead ID")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What to do")),
		mcp.WithString("due", mcp.Required(), mcp.Description("Due date: RFC3339, YYYY-MM-DD HH:MM or YYYY-MM-DD")),
		mcp.WithString("type", mcp.Description("Call, Meeting, Email or Task (default Call)")),
	)
	return tool, s.handleAddFollowUp
}

func (s *Server) handleAddFollowUp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	leadID, err := request.RequireString("lead_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: lead_id"), nil
	}
	desc, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: description"), nil
	}
	rawDue, err := request.RequireString("due")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: due"), nil
	}
	due, err := crm.ParseDueDate(rawDue, s.loc)
	if err != nil {
		return toolError("add follow-up", err), nil
	}
	in := crm.TaskInput{LeadID: leadID, Description: desc, DueDate: due}
	if v := request.GetString("type", ""); v != "" {
		tt, ok := models.ParseTaskType(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid type: %s", v)), nil
		}
		in.TaskType = tt
	}

	task, err := s.svc.AddFollowUp(ctx, s.sess, in)
	if err != nil {
		return toolError("add follow-up", err), nil
	}
	return jsonResult(toTaskOut(task))
}

// crm_complete_task
func (s *Server) completeTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_complete_task",
		mcp.WithDescription("Mark a follow-up task completed. Completing an already completed task is a no-op."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	)
	return tool, s.handleCompleteTask
}

func (s *Server) handleCompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}
	task, err := s.svc.CompleteTask(ctx, s.sess, id)
	if err != nil {
		return toolError("complete task", err), nil
	}
	return jsonResult(toTaskOut(task))
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

// crm_dashboard
func (s *Server) dashboardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("crm_dashboard",
		mcp.WithDescription("Get the pipeline summary: total value, per-stage totals and shares, hot leads, closings this month and task buckets."),
	)
	return tool, s.handleDashboard
}

func (s *Server) handleDashboard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	leads, deals, tasks, err := s.svc.Snapshot(ctx, s.sess)
	if err != nil {
		return toolError("load dashboard", err), nil
	}
	return jsonResult(dashboard.Compute(leads, deals, tasks, s.svc.Now()))
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
