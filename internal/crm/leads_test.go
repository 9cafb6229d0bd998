package crm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

func TestAddLead_Defaults(t *testing.T) {
	svc, rec := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	lead, err := svc.AddLead(ctx, agent, LeadInput{
		Name:  "  Meera Iyer ",
		Phone: "+91 99000 12345",
		Tags:  []string{"2BHK", " 2BHK", "", "Powai"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, "Meera Iyer", lead.Name)
	assert.Equal(t, models.LeadStatusNew, lead.Status)
	assert.Equal(t, models.LeadSourceDirect, lead.Source)
	assert.Equal(t, models.InterestBuying, lead.Interest)
	assert.Equal(t, models.TemperatureCold, lead.Temperature)
	assert.Equal(t, []string{"2BHK", "Powai"}, lead.Tags)
	require.Len(t, lead.History, 1)
	assert.Equal(t, models.HistorySystem, lead.History[0].Type)
	assert.Equal(t, "Lead created", lead.History[0].Summary)
	assert.True(t, testNow.Equal(lead.History[0].At))

	assert.Equal(t, []events.Type{events.LeadCreated}, rec.Types())
}

func TestAddLead_Validation(t *testing.T) {
	svc, rec := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		in   LeadInput
		want string
	}{
		{"missing name", LeadInput{Phone: "1"}, "name is required"},
		{"blank phone", LeadInput{Name: "A", Phone: "   "}, "phone is required"},
		{"bad status", LeadInput{Name: "A", Phone: "1", Status: "Archived"}, "unknown lead status"},
		{"bad source", LeadInput{Name: "A", Phone: "1", Source: "Billboard"}, "unknown lead source"},
		{"bad temperature", LeadInput{Name: "A", Phone: "1", Temperature: "Lukewarm"}, "unknown temperature"},
		{"next action without task", LeadInput{Name: "A", Phone: "1", NextAction: &models.NextAction{Date: testNow, Task: " "}}, "next action task is required"},
		{"next action without date", LeadInput{Name: "A", Phone: "1", NextAction: &models.NextAction{Task: "Call back"}}, "next action date is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddLead(ctx, agent, tt.in)
			require.Error(t, err)
			assert.True(t, crmerr.IsValidation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	leads, err := svc.ListLeads(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.Empty(t, rec.Events)
}

func TestOperations_RequireOwner(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	anon := Session{}

	_, err := svc.AddLead(ctx, anon, LeadInput{Name: "A", Phone: "1"})
	assert.True(t, crmerr.IsPermissionDenied(err))
	_, err = svc.ListDeals(ctx, anon)
	assert.True(t, crmerr.IsPermissionDenied(err))
	_, err = svc.CompleteTask(ctx, anon, "t1")
	assert.True(t, crmerr.IsPermissionDenied(err))
	_, err = svc.Subscribe(ctx, anon, models.KindLeads)
	assert.True(t, crmerr.IsPermissionDenied(err))
}

func TestUpdateLead(t *testing.T) {
	svc, rec := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	lead := addTestLead(t, svc, "Rohan Gupta")

	updated, err := svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{
		Status:      ptr(models.LeadStatusWaiting),
		Temperature: ptr(models.TemperatureWarm),
		Tags:        ptr([]string{"NRI", "NRI"}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusWaiting, updated.Status)
	assert.Equal(t, models.TemperatureWarm, updated.Temperature)
	assert.Equal(t, []string{"NRI"}, updated.Tags)
	assert.Equal(t, "Rohan Gupta", updated.Name)
	assert.Len(t, updated.History, 1, "updates do not add history")

	// Open lattice: a lost lead can come back.
	_, err = svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{Status: ptr(models.LeadStatusLost)})
	require.NoError(t, err)
	_, err = svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{Status: ptr(models.LeadStatusNew)})
	require.NoError(t, err)

	_, err = svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{Name: ptr(" ")})
	assert.True(t, crmerr.IsValidation(err))

	_, err = svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{Status: ptr(models.LeadStatus("Archived"))})
	assert.True(t, crmerr.IsValidation(err))

	_, err = svc.UpdateLead(ctx, agent, "missing", LeadPatch{Notes: ptr("x")})
	assert.True(t, crmerr.IsNotFound(err))

	_, err = svc.UpdateLead(ctx, Session{OwnerID: "agent-2"}, lead.ID, LeadPatch{Notes: ptr("x")})
	assert.True(t, crmerr.IsPermissionDenied(err))

	assert.Equal(t, []events.Type{events.LeadCreated, events.LeadUpdated, events.LeadUpdated, events.LeadUpdated}, rec.Types())
}

func TestDeleteLead_DoesNotCascade(t *testing.T) {
	mem := store.NewMemoryStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()
	lead := addTestLead(t, svc, "Kavya Nair")

	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.NoError(t, err)
	task, err := svc.AddFollowUp(ctx, agent, TaskInput{LeadID: lead.ID, Description: "Call back", DueDate: testNow.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLead(ctx, agent, lead.ID))

	_, err = svc.GetLead(ctx, agent, lead.ID)
	assert.True(t, crmerr.IsNotFound(err))
	gotDeal, err := svc.GetDeal(ctx, agent, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, gotDeal.LeadID)
	gotTask, err := svc.GetTask(ctx, agent, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kavya Nair", gotTask.LeadName)

	assert.True(t, crmerr.IsNotFound(svc.DeleteLead(ctx, agent, lead.ID)))
}

func TestLogActivity(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	lead := addTestLead(t, svc, "Dev Malhotra")

	got, err := svc.LogActivity(ctx, agent, lead.ID, models.HistoryWhatsApp, "Sent brochure")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	entry := got.History[1]
	assert.Equal(t, models.HistoryWhatsApp, entry.Type)
	assert.Equal(t, "Sent brochure", entry.Summary)
	assert.Equal(t, "Priya", entry.User)
	assert.Equal(t, "Lead created", got.History[0].Summary, "history is append-only")

	_, err = svc.LogActivity(ctx, agent, lead.ID, models.HistoryType("Fax"), "x")
	assert.True(t, crmerr.IsValidation(err))
	_, err = svc.LogActivity(ctx, agent, lead.ID, models.HistoryNote, " ")
	assert.True(t, crmerr.IsValidation(err))
}

func TestAddLead_WithNextAction(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	due := testNow.Add(48 * time.Hour)
	in := &models.NextAction{Date: due, Task: "  Site visit "}

	lead, err := svc.AddLead(context.Background(), agent, LeadInput{Name: "Kabir Shah", Phone: "+91 98111 22334", NextAction: in})
	require.NoError(t, err)
	require.NotNil(t, lead.NextAction)
	assert.Equal(t, "Site visit", lead.NextAction.Task)
	assert.True(t, due.Equal(lead.NextAction.Date))
	assert.Equal(t, "  Site visit ", in.Task, "caller's value is not modified")
}

func TestSetNextAction(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	lead := addTestLead(t, svc, "Sana Khan")

	due := testNow.Add(24 * time.Hour)
	got, err := svc.SetNextAction(ctx, agent, lead.ID, &models.NextAction{Date: due, Task: "Site visit"})
	require.NoError(t, err)
	require.NotNil(t, got.NextAction)
	assert.Equal(t, "Site visit", got.NextAction.Task)

	got, err = svc.SetNextAction(ctx, agent, lead.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.NextAction)

	_, err = svc.SetNextAction(ctx, agent, lead.ID, &models.NextAction{Task: "no date"})
	assert.True(t, crmerr.IsValidation(err))
}
