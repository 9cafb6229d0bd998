package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// resetCommandFlags clears the package-level flag vars between tests.
func resetCommandFlags(t *testing.T) {
	t.Helper()
	leadName, leadPhone, leadEmail = "", "", ""
	leadStatus, leadSource, leadInterest, leadTemp = "", "", "", ""
	leadBudget, leadNotes, leadTags = "", "", nil
	leadFilter = "all"
	promoteTitle, promoteValue, promoteAddress = "", "", ""
	promoteUrgent, promoteResume = false, false
	logType, nextTask, nextDate = "Note", "", ""
	nextClear, nextSuggest = false, false
	dealStage, dealUndo = "", false
	taskDesc, taskDue, taskType, taskBucket, taskDone = "", "", "Call", "", false
	reportFormat, exportType = "json", "leads"
	dashboardJSON, watchJSON, watchCount = false, false, 0
	importPlain, importSource, importTemp = false, "", ""
	t.Setenv("ANTHROPIC_API_KEY", "")
}

func cmdEnv(t *testing.T) context.Context {
	t.Helper()
	testEnv(t)
	resetCommandFlags(t)
	return context.Background()
}

func addTestLead(t *testing.T, ctx context.Context, name, phone string) *models.Lead {
	t.Helper()
	svc, sess, err := deps()
	require.NoError(t, err)
	lead, err := svc.AddLead(ctx, sess, crm.LeadInput{
		Name:        name,
		Phone:       phone,
		Temperature: models.TemperatureHot,
		Budget:      "₹3.5 Cr",
	})
	require.NoError(t, err)
	return lead
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "01JABCDEFGHI", shortID("01JABCDEFGHIJKLMNOPQRSTUVW"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestParseEnum(t *testing.T) {
	assert.Equal(t, models.TemperatureHot, parseEnum("hot", models.ParseTemperature))
	// Unknown values pass through for the service to reject.
	assert.Equal(t, models.Temperature("Lukewarm"), parseEnum("Lukewarm", models.ParseTemperature))
}

func TestMatchPrefix(t *testing.T) {
	ids := []string{"01JAAA111", "01JAAB222", "01JBBB333"}

	id, err := matchPrefix("leads", "01jb", ids)
	require.NoError(t, err)
	assert.Equal(t, "01JBBB333", id)

	id, err = matchPrefix("leads", "01JAAB222", ids)
	require.NoError(t, err)
	assert.Equal(t, "01JAAB222", id)

	_, err = matchPrefix("leads", "01JA", ids)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = matchPrefix("leads", "ZZZ", ids)
	assert.True(t, crmerr.IsNotFound(err))
}

func TestDueLabel(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "today 3:30 PM", dueLabel(time.Date(2026, 10, 15, 15, 30, 0, 0, time.UTC), now))
	assert.Equal(t, "Oct 13 9:00 AM", dueLabel(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC), now))
	assert.Equal(t, "Fri Oct 16 9:00 AM", dueLabel(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC), now))
}

func TestDeps_RequiresOwner(t *testing.T) {
	cmdEnv(t)
	viper.Set("owner", "")

	_, _, err := deps()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no owner configured")
}

func TestLeadAddListShow(t *testing.T) {
	ctx := cmdEnv(t)

	leadName, leadPhone, leadTemp, leadBudget = "Aarav Mehta", "+91 98200 11111", "hot", "₹3.5 Cr"
	leadTags = []string{"3BHK", "Sea view"}
	require.NoError(t, leadAddRun(ctx))
	assert.Contains(t, outBuf.String(), "Added lead")

	svc, sess, err := deps()
	require.NoError(t, err)
	leads, err := svc.ListLeads(ctx, sess)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, models.TemperatureHot, leads[0].Temperature)
	assert.Equal(t, models.LeadStatusNew, leads[0].Status)

	outBuf.Reset()
	leadFilter = "hot"
	require.NoError(t, leadListRun(ctx))
	assert.Contains(t, outBuf.String(), "Aarav Mehta")

	outBuf.Reset()
	require.NoError(t, leadShowRun(ctx, shortID(leads[0].ID)))
	out := outBuf.String()
	assert.Contains(t, out, "Aarav Mehta")
	assert.Contains(t, out, "3BHK, Sea view")
	assert.Contains(t, out, "Score:")
	assert.Contains(t, out, leads[0].ID)
}

func TestLeadAdd_RejectsUnknownTemperature(t *testing.T) {
	ctx := cmdEnv(t)

	leadName, leadPhone, leadTemp = "Isha Rao", "+91 98200 22222", "lukewarm"
	err := leadAddRun(ctx)
	assert.True(t, crmerr.IsValidation(err))
}

func TestLeadAdd_DryRun(t *testing.T) {
	ctx := cmdEnv(t)
	dryRun, ui.DryRun = true, true

	leadName, leadPhone = "Kabir Shah", "+91 98200 33333"
	require.NoError(t, leadAddRun(ctx))
	assert.Contains(t, outBuf.String(), "Would add lead")

	svc, sess, err := deps()
	require.NoError(t, err)
	leads, err := svc.ListLeads(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestLeadList_UnknownFilter(t *testing.T) {
	ctx := cmdEnv(t)

	leadFilter = "warmish"
	err := leadListRun(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter")
}

func TestLeadLogAndNext(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Meera Iyer", "+91 98200 44444")

	logType = "call"
	require.NoError(t, leadLogRun(ctx, lead.ID, "Discussed Bandra listings"))

	nextTask, nextDate = "Send brochure", "2026-10-20 11:00"
	require.NoError(t, leadNextRun(ctx, lead.ID))

	svc, sess, err := deps()
	require.NoError(t, err)
	got, err := svc.GetLead(ctx, sess, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextAction)
	assert.Equal(t, "Send brochure", got.NextAction.Task)

	var calls int
	for _, h := range got.History {
		if h.Type == models.HistoryCall {
			calls++
			assert.Equal(t, "Discussed Bandra listings", h.Summary)
		}
	}
	assert.Equal(t, 1, calls)

	nextTask, nextDate, nextClear = "", "", true
	require.NoError(t, leadNextRun(ctx, lead.ID))
	got, err = svc.GetLead(ctx, sess, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextAction)
}

func TestLeadNext_RequiresTaskAndDate(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Rohan Das", "+91 98200 55555")

	nextTask = "Call back"
	err := leadNextRun(ctx, lead.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--task and --date")
}

func TestLeadNext_SuggestWithoutKey(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Rohan Das", "+91 98200 55555")

	nextSuggest = true
	err := leadNextRun(ctx, lead.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLeadPromoteWithdrawAndDelete(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Vikram Nair", "+91 98200 66666")

	promoteTitle, promoteAddress = "Worli 3BHK", "Worli Sea Face"
	require.NoError(t, leadPromoteRun(ctx, shortID(lead.ID)))
	assert.Contains(t, outBuf.String(), "Promoted Vikram Nair")

	svc, sess, err := deps()
	require.NoError(t, err)
	got, err := svc.GetLead(ctx, sess, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusQualified, got.Status)

	deals, err := svc.ListDeals(ctx, sess)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	deal := deals[0]
	assert.Equal(t, "Worli 3BHK", deal.Title)
	assert.Equal(t, models.StageNegotiation, deal.Stage)
	assert.Equal(t, int64(35_000_000), deal.NumericValue)

	outBuf.Reset()
	require.NoError(t, dealWithdrawRun(ctx, deal.ID))
	assert.Contains(t, outBuf.String(), "Withdrew deal Worli 3BHK")

	_, err = svc.GetDeal(ctx, sess, deal.ID)
	assert.True(t, crmerr.IsNotFound(err))

	require.NoError(t, leadDeleteRun(ctx, lead.ID))
	_, err = svc.GetLead(ctx, sess, lead.ID)
	assert.True(t, crmerr.IsNotFound(err))
}

func TestLeadImport_PlainLines(t *testing.T) {
	ctx := cmdEnv(t)

	input := strings.NewReader("Anita Kulkarni | +91 98200 77777 | Referral | Hot | ₹1.2 Cr\nSameer Joshi, +91 98200 88888, anita@example.com\n")
	importTemp = "warm"
	require.NoError(t, leadImportRun(ctx, "-", input))
	assert.Contains(t, outBuf.String(), "Created 2 leads")

	svc, sess, err := deps()
	require.NoError(t, err)
	leads, err := svc.ListLeads(ctx, sess)
	require.NoError(t, err)
	require.Len(t, leads, 2)

	byName := map[string]*models.Lead{}
	for _, l := range leads {
		byName[l.Name] = l
	}
	require.Contains(t, byName, "Anita Kulkarni")
	require.Contains(t, byName, "Sameer Joshi")
	assert.Equal(t, models.TemperatureHot, byName["Anita Kulkarni"].Temperature)
	assert.Equal(t, models.LeadSourceReferral, byName["Anita Kulkarni"].Source)
	assert.Equal(t, models.TemperatureWarm, byName["Sameer Joshi"].Temperature)
}

func TestLeadImport_EmptyInput(t *testing.T) {
	ctx := cmdEnv(t)

	err := leadImportRun(ctx, "-", strings.NewReader("  \n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input is empty")
}

func TestDealStepsAndChecklist(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Neha Gupta", "+91 98200 99999")
	svc, sess, err := deps()
	require.NoError(t, err)
	deal, err := svc.PromoteLead(ctx, sess, lead.ID, crm.DealSeed{})
	require.NoError(t, err)

	// Already at the first stage.
	err = dealStepRun(ctx, deal.ID, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot go back")

	require.NoError(t, dealStepRun(ctx, deal.ID, true))
	got, err := svc.GetDeal(ctx, sess, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageDocumentation, got.Stage)

	// Skipping a stage is rejected before anything is written.
	err = dealMoveRun(ctx, deal.ID, "closed")
	assert.True(t, crmerr.IsInvalidTransition(err))

	err = dealMoveRun(ctx, deal.ID, "escrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")

	require.NoError(t, dealCheckRun(ctx, deal.ID, "requirement analysis"))
	got, err = svc.GetDeal(ctx, sess, deal.ID)
	require.NoError(t, err)
	for _, item := range got.Tasks {
		assert.True(t, item.Done, item.Label)
	}

	dealUndo = true
	require.NoError(t, dealCheckRun(ctx, deal.ID, "2"))
	got, err = svc.GetDeal(ctx, sess, deal.ID)
	require.NoError(t, err)
	assert.False(t, got.Tasks[1].Done)

	err = dealCheckRun(ctx, deal.ID, "9")
	require.Error(t, err)

	outBuf.Reset()
	require.NoError(t, dealShowRun(ctx, deal.ID))
	assert.Contains(t, outBuf.String(), "Requirement Analysis")

	outBuf.Reset()
	require.NoError(t, dealListRun(ctx))
	assert.Contains(t, outBuf.String(), "1 deals")
}

func TestTaskAddCompleteAndSweep(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Farah Khan", "+91 98201 00000")
	svc, sess, err := deps()
	require.NoError(t, err)

	taskDesc, taskDue, taskType = "Site visit", "2020-01-01 10:00", "meeting"
	require.NoError(t, taskAddRun(ctx, shortID(lead.ID)))
	assert.Contains(t, outBuf.String(), "Scheduled Meeting")

	tasks, err := svc.ListTasks(ctx, sess)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "Farah Khan", task.LeadName)

	outBuf.Reset()
	require.NoError(t, taskSweepRun(ctx))
	assert.Contains(t, outBuf.String(), "Flagged 1 follow-ups")

	outBuf.Reset()
	require.NoError(t, taskSweepRun(ctx))
	assert.Contains(t, outBuf.String(), "Nothing overdue")

	outBuf.Reset()
	require.NoError(t, taskListRun(ctx))
	assert.Contains(t, outBuf.String(), "OVERDUE")
	assert.Contains(t, outBuf.String(), "Site visit")

	require.NoError(t, taskCompleteRun(ctx, task.ID))
	got, err := svc.GetTask(ctx, sess, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Completing again is a no-op.
	outBuf.Reset()
	require.NoError(t, taskCompleteRun(ctx, task.ID))
	assert.Contains(t, outBuf.String(), "Already completed")

	outBuf.Reset()
	taskDone = true
	require.NoError(t, taskListRun(ctx))
	assert.Contains(t, outBuf.String(), "Site visit")
}

func TestTaskAdd_BadDueDate(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Farah Khan", "+91 98201 00000")

	taskDesc, taskDue = "Call", "next tuesday"
	err := taskAddRun(ctx, lead.ID)
	assert.True(t, crmerr.IsValidation(err))
}

func TestTaskList_UnknownBucket(t *testing.T) {
	ctx := cmdEnv(t)

	taskBucket = "someday"
	err := taskListRun(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bucket")
}

func TestExport(t *testing.T) {
	ctx := cmdEnv(t)
	addTestLead(t, ctx, "Zoya | Ali", "+91 98201 11111")

	reportFormat = "csv"
	require.NoError(t, exportRun(ctx))
	lines := strings.Split(strings.TrimSpace(outBuf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Name,Phone"))
	assert.Contains(t, lines[1], "Zoya | Ali")

	outBuf.Reset()
	reportFormat = "markdown"
	require.NoError(t, exportRun(ctx))
	assert.Contains(t, outBuf.String(), "# Leads")
	assert.Contains(t, outBuf.String(), `Zoya \| Ali`)

	outBuf.Reset()
	reportFormat = "json"
	exportType = "tasks"
	require.NoError(t, exportRun(ctx))
	var tasks []any
	require.NoError(t, json.Unmarshal(outBuf.Bytes(), &tasks))
	assert.Empty(t, tasks)

	exportType = "contacts"
	err := exportRun(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown export type")

	exportType, reportFormat = "deals", "pdf"
	err = exportRun(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestDashboardJSON(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Dev Patel", "+91 98201 22222")
	svc, sess, err := deps()
	require.NoError(t, err)
	_, err = svc.PromoteLead(ctx, sess, lead.ID, crm.DealSeed{})
	require.NoError(t, err)

	dashboardJSON = true
	require.NoError(t, dashboardRun(ctx))

	var sum struct {
		PipelineTotal int64 `json:"pipeline_total"`
		DealCount     int   `json:"deal_count"`
		LeadCount     int   `json:"lead_count"`
	}
	require.NoError(t, json.Unmarshal(outBuf.Bytes(), &sum))
	assert.Equal(t, int64(35_000_000), sum.PipelineTotal)
	assert.Equal(t, 1, sum.DealCount)
	assert.Equal(t, 1, sum.LeadCount)

	outBuf.Reset()
	dashboardJSON = false
	require.NoError(t, dashboardRun(ctx))
	assert.Contains(t, outBuf.String(), "Pipeline")
	assert.Contains(t, outBuf.String(), "1 total, ")
}

func TestWatch_FirstSnapshot(t *testing.T) {
	ctx := cmdEnv(t)
	addTestLead(t, ctx, "Tara Menon", "+91 98201 33333")

	watchCount = 1
	require.NoError(t, watchRun(ctx, models.KindLeads))
	assert.Contains(t, outBuf.String(), "leads: 1")
	assert.Contains(t, outBuf.String(), "Tara Menon")

	err := watchRun(ctx, models.Kind("contacts"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown collection")
}

func TestWeeklyReport(t *testing.T) {
	ctx := cmdEnv(t)
	lead := addTestLead(t, ctx, "Leela Bose", "+91 98201 44444")
	svc, sess, err := deps()
	require.NoError(t, err)
	_, err = svc.LogActivity(ctx, sess, lead.ID, models.HistoryCall, "Intro call")
	require.NoError(t, err)

	require.NoError(t, reportWeeklyRun(ctx))
	out := outBuf.String()
	assert.Contains(t, out, "# Weekly Report: agent-1")
	assert.Contains(t, out, "- New: 1 (Leela Bose)")
	assert.Contains(t, out, "- Call: 1")
	assert.Contains(t, out, "- Closed this week: 0")
}

func TestCollectWeekly_Window(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -8)
	closed := now.Add(-time.Hour)

	leads := []*models.Lead{
		{Name: "Recent", CreatedAt: now},
		{Name: "Old", CreatedAt: old},
	}
	deals := []*models.Deal{
		{Title: "Closed", ClosedAt: &closed, NumericValue: 100},
		{Title: "Open"},
	}
	tasks := []*models.FollowUpTask{
		{CompletedAt: &closed},
		{CompletedAt: &old},
	}

	a := collectWeekly(leads, deals, tasks, now)
	assert.Equal(t, []string{"Recent"}, a.NewLeads)
	assert.Equal(t, 1, a.Completed)
	require.Len(t, a.Closed, 1)
	assert.Equal(t, "Closed", a.Closed[0].Title)
}

func TestVersion(t *testing.T) {
	testEnv(t)
	orig := build
	t.Cleanup(func() { build, versionJSON = orig, false })
	build = BuildInfo{Version: "1.2.0", Commit: "abc123", Date: "2026-10-01"}

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "crm 1.2.0 (commit abc123, built 2026-10-01)\n", outBuf.String())

	outBuf.Reset()
	versionJSON = true
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	var got BuildInfo
	require.NoError(t, json.Unmarshal(outBuf.Bytes(), &got))
	assert.Equal(t, build, got)
}
