package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

func TestPromoteLead(t *testing.T) {
	stores := map[string]func(t *testing.T) store.Store{
		"saga":        func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"transaction": func(t *testing.T) store.Store { return newSQLiteStore(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			svc, rec := newTestService(t, mk(t))
			ctx := context.Background()
			lead := addTestLead(t, svc, "Aarav Mehta")

			deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
			require.NoError(t, err)
			assert.Equal(t, "Aarav Mehta", deal.Title)
			assert.Equal(t, "₹3.73 Cr", deal.Value)
			assert.Equal(t, int64(37_300_000), deal.NumericValue)
			assert.Equal(t, models.StageNegotiation, deal.Stage)
			assert.Equal(t, models.DealSourceZillow, deal.Source)
			assert.Equal(t, lead.ID, deal.LeadID)
			assert.Equal(t, 10, deal.Completion)
			assert.Equal(t, 0, deal.DaysInStage)
			assert.Equal(t, "Just now", deal.LastTouch)
			require.Len(t, deal.Tasks, 2)
			assert.Equal(t, "Initial Meeting", deal.Tasks[0].Label)
			assert.True(t, deal.Tasks[0].Done)
			assert.Equal(t, "Requirement Analysis", deal.Tasks[1].Label)
			assert.False(t, deal.Tasks[1].Done)

			got, err := svc.GetLead(ctx, agent, lead.ID)
			require.NoError(t, err)
			assert.Equal(t, models.LeadStatusQualified, got.Status)
			require.Len(t, got.History, 2)
			assert.Equal(t, "Promoted to deal: Aarav Mehta", got.History[1].Summary)

			assert.Equal(t, []events.Type{events.LeadCreated, events.DealCreated, events.LeadPromoted}, rec.Types())
		})
	}
}

func TestPromoteLead_SeedOverridesAndUnparseableBudget(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	lead, err := svc.AddLead(ctx, agent, LeadInput{Name: "Tara", Phone: "1", Source: models.LeadSourceFacebook, Budget: "flexible"})
	require.NoError(t, err)

	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), deal.NumericValue)
	assert.Equal(t, "flexible", deal.Value)
	assert.Equal(t, models.DealSourceAds, deal.Source)

	deal2, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{Title: "Tara - Juhu flat", NumericValue: ptr(int64(25_000_000))})
	require.NoError(t, err)
	assert.Equal(t, "Tara - Juhu flat", deal2.Title)
	assert.Equal(t, int64(25_000_000), deal2.NumericValue)
	assert.NotEqual(t, deal.ID, deal2.ID, "promoting twice creates two deals")

	deals, err := svc.ListDeals(ctx, agent)
	require.NoError(t, err)
	assert.Len(t, deals, 2)
}

func TestPromoteLead_OversizedBudgetHasNoValue(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	lead, err := svc.AddLead(ctx, agent, LeadInput{Name: "Dev Malhotra", Phone: "1", Budget: "₹9223372036854775807 Cr"})
	require.NoError(t, err)

	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), deal.NumericValue)
	assert.Equal(t, "₹9223372036854775807 Cr", deal.Value)
}

func TestPromoteLead_LostLeadIsPromotable(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	lead := addTestLead(t, svc, "Irfan")
	_, err := svc.UpdateLead(ctx, agent, lead.ID, LeadPatch{Status: ptr(models.LeadStatusLost)})
	require.NoError(t, err)

	_, err = svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.NoError(t, err)
}

func TestPromoteLead_Errors(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	lead := addTestLead(t, svc, "Owner Check")

	_, err := svc.PromoteLead(ctx, agent, "missing", DealSeed{})
	assert.True(t, crmerr.IsNotFound(err))

	_, err = svc.PromoteLead(ctx, Session{OwnerID: "agent-2"}, lead.ID, DealSeed{})
	assert.True(t, crmerr.IsPermissionDenied(err))

	_, err = svc.PromoteLead(ctx, agent, lead.ID, DealSeed{NumericValue: ptr(int64(-5))})
	assert.True(t, crmerr.IsValidation(err))
}

func TestPromoteLead_SagaPartialFailure(t *testing.T) {
	fs := newFaultyStore(store.NewMemoryStore())
	svc, _ := newTestService(t, fs)
	ctx := context.Background()
	lead := addTestLead(t, svc, "Half Done")

	fs.failOn("UpdateLead", crmerr.Transport("update lead", errors.New("connection reset")))
	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.Error(t, err)
	assert.True(t, crmerr.IsPartialComposite(err))

	var ce *crmerr.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, crmerr.CodePartialComposite, ce.Code)
	assert.Equal(t, []string{"create deal"}, ce.Completed)
	assert.Equal(t, []string{"qualify lead"}, ce.Remaining)
	require.NotNil(t, deal)
	assert.Equal(t, deal.ID, ce.ID)

	// The deal stays; the lead is untouched.
	deals, err := svc.ListDeals(ctx, agent)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	got, err := svc.GetLead(ctx, agent, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusNew, got.Status)

	// Reconcile.
	fs.failOn("UpdateLead", nil)
	resumed, err := svc.ResumePromotion(ctx, agent, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusQualified, resumed.Status)

	again, err := svc.ResumePromotion(ctx, agent, lead.ID)
	require.NoError(t, err)
	assert.Len(t, again.History, len(resumed.History), "resume is a no-op once qualified")
}

func TestPromoteLead_SagaFirstStepFailureIsPlain(t *testing.T) {
	fs := newFaultyStore(store.NewMemoryStore())
	svc, _ := newTestService(t, fs)
	ctx := context.Background()
	lead := addTestLead(t, svc, "Never Started")

	fs.failOn("CreateDeal", crmerr.Transport("create deal", errors.New("timeout")))
	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.Error(t, err)
	assert.Nil(t, deal)
	assert.True(t, crmerr.IsTransport(err))
	assert.False(t, crmerr.IsPartialComposite(err))
	assert.Equal(t, 0, fs.count("UpdateLead"))
}

func TestPromoteLead_TransactionRollsBack(t *testing.T) {
	sq := newSQLiteStore(t)
	st := &faultyTxStore{SQLiteStore: sq, fail: map[string]error{
		"UpdateLead": crmerr.Transport("update lead", errors.New("disk I/O error")),
	}}
	svc, _ := newTestService(t, st)
	ctx := context.Background()
	lead := addTestLead(t, svc, "Atomic")

	_, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.Error(t, err)
	assert.True(t, crmerr.IsTransport(err))
	assert.False(t, crmerr.IsPartialComposite(err))

	deals, err := svc.ListDeals(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, deals, "deal creation rolled back")
}

func TestResumePromotion_RequiresDeal(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	lead := addTestLead(t, svc, "No Deal")
	_, err := svc.ResumePromotion(context.Background(), agent, lead.ID)
	assert.True(t, crmerr.IsInvalidTransition(err))
}

func TestWithdrawDeal(t *testing.T) {
	stores := map[string]func(t *testing.T) store.Store{
		"saga":        func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"transaction": func(t *testing.T) store.Store { return newSQLiteStore(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			svc, rec := newTestService(t, mk(t))
			ctx := context.Background()
			lead := addTestLead(t, svc, "Back To Leads")
			deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
			require.NoError(t, err)

			got, err := svc.WithdrawDeal(ctx, agent, deal.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.LeadStatusContacted, got.Status)
			assert.Equal(t, "Deal withdrawn", got.History[len(got.History)-1].Summary)

			_, err = svc.GetDeal(ctx, agent, deal.ID)
			assert.True(t, crmerr.IsNotFound(err))
			assert.Contains(t, rec.Types(), events.DealWithdrawn)
		})
	}
}

func TestWithdrawDeal_OnlyFromNegotiation(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	deal, err := svc.AddDeal(ctx, agent, DealInput{Title: "Moving on"})
	require.NoError(t, err)
	_, err = svc.MoveDealStage(ctx, agent, deal.ID, models.StageDocumentation)
	require.NoError(t, err)

	_, err = svc.WithdrawDeal(ctx, agent, deal.ID)
	assert.True(t, crmerr.IsInvalidTransition(err))
	_, err = svc.GetDeal(ctx, agent, deal.ID)
	assert.NoError(t, err)
}

func TestWithdrawDeal_WithoutLead(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	direct, err := svc.AddDeal(ctx, agent, DealInput{Title: "Walk-in"})
	require.NoError(t, err)
	lead, err := svc.WithdrawDeal(ctx, agent, direct.ID)
	require.NoError(t, err)
	assert.Nil(t, lead)

	gone := addTestLead(t, svc, "Deleted Later")
	deal, err := svc.PromoteLead(ctx, agent, gone.ID, DealSeed{})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteLead(ctx, agent, gone.ID))
	lead, err = svc.WithdrawDeal(ctx, agent, deal.ID)
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestWithdrawDeal_SagaPartialFailure(t *testing.T) {
	fs := newFaultyStore(store.NewMemoryStore())
	svc, _ := newTestService(t, fs)
	ctx := context.Background()
	lead := addTestLead(t, svc, "Stuck")
	deal, err := svc.PromoteLead(ctx, agent, lead.ID, DealSeed{})
	require.NoError(t, err)

	fs.failOn("UpdateLead", crmerr.Transport("update lead", errors.New("unavailable")))
	_, err = svc.WithdrawDeal(ctx, agent, deal.ID)
	require.Error(t, err)
	assert.True(t, crmerr.IsPartialComposite(err))

	var ce *crmerr.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, deal.ID, ce.ID)
	assert.Equal(t, []string{"delete deal"}, ce.Completed)
	assert.Equal(t, []string{"revert lead"}, ce.Remaining)
}
