package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against both Store implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) {
		m := NewMemoryStore()
		t.Cleanup(func() { m.Close() })
		fn(t, m)
	})
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Lead CRUD ---

func TestLeadCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		due := time.Date(2026, 10, 20, 11, 0, 0, 0, time.UTC)

		lead := &models.Lead{
			OwnerID:     "agent-1",
			Name:        "Aarav Mehta",
			Phone:       "+91 98200 11111",
			Email:       "aarav@example.com",
			Status:      models.LeadStatusNew,
			Source:      models.LeadSourceZillow,
			Interest:    models.InterestBuying,
			Temperature: models.TemperatureHot,
			Budget:      "₹3.73 Cr",
			Tags:        []string{"3BHK", "Bandra"},
			NextAction:  &models.NextAction{Date: due, Task: "Site visit"},
			History: []models.HistoryEntry{
				{ID: "h1", Type: models.HistorySystem, At: due.Add(-time.Hour), Summary: "Lead created", User: "System"},
			},
		}
		require.NoError(t, s.CreateLead(ctx, lead))
		assert.NotEmpty(t, lead.ID)
		assert.False(t, lead.CreatedAt.IsZero())

		got, err := s.GetLead(ctx, "agent-1", lead.ID)
		require.NoError(t, err)
		assert.Equal(t, "Aarav Mehta", got.Name)
		assert.Equal(t, models.TemperatureHot, got.Temperature)
		assert.Equal(t, []string{"3BHK", "Bandra"}, got.Tags)
		require.NotNil(t, got.NextAction)
		assert.True(t, due.Equal(got.NextAction.Date))
		assert.Equal(t, "Site visit", got.NextAction.Task)
		require.Len(t, got.History, 1)
		assert.Equal(t, "Lead created", got.History[0].Summary)

		// Update
		got.Status = models.LeadStatusContacted
		got.NextAction = nil
		require.NoError(t, s.UpdateLead(ctx, got))

		got2, err := s.GetLead(ctx, "agent-1", lead.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LeadStatusContacted, got2.Status)
		assert.Nil(t, got2.NextAction)

		// List
		leads, err := s.ListLeads(ctx, "agent-1")
		require.NoError(t, err)
		assert.Len(t, leads, 1)

		// Delete
		require.NoError(t, s.DeleteLead(ctx, "agent-1", lead.ID))
		_, err = s.GetLead(ctx, "agent-1", lead.ID)
		assert.True(t, crmerr.IsNotFound(err))
	})
}

func TestLead_OwnerIsolation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := &models.Lead{OwnerID: "agent-1", Name: "Zoya", Phone: "1", Status: models.LeadStatusNew}
		require.NoError(t, s.CreateLead(ctx, lead))

		_, err := s.GetLead(ctx, "agent-2", lead.ID)
		assert.True(t, crmerr.IsPermissionDenied(err))

		other := lead.Clone()
		other.OwnerID = "agent-2"
		other.Name = "hijacked"
		assert.True(t, crmerr.IsPermissionDenied(s.UpdateLead(ctx, other)))
		assert.True(t, crmerr.IsPermissionDenied(s.DeleteLead(ctx, "agent-2", lead.ID)))

		leads, err := s.ListLeads(ctx, "agent-2")
		require.NoError(t, err)
		assert.Empty(t, leads)

		got, err := s.GetLead(ctx, "agent-1", lead.ID)
		require.NoError(t, err)
		assert.Equal(t, "Zoya", got.Name)
	})
}

func TestCreate_RequiresOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.True(t, crmerr.IsPermissionDenied(s.CreateLead(ctx, &models.Lead{Name: "x"})))
		assert.True(t, crmerr.IsPermissionDenied(s.CreateDeal(ctx, &models.Deal{Title: "x"})))
		assert.True(t, crmerr.IsPermissionDenied(s.CreateTask(ctx, &models.FollowUpTask{Description: "x"})))
	})
}

func TestGetLead_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetLead(context.Background(), "agent-1", "nonexistent")
		require.Error(t, err)
		assert.True(t, errors.Is(err, crmerr.ErrNotFound))
		assert.Contains(t, err.Error(), "lead not found")
	})
}

func TestDeleteLead_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.DeleteLead(context.Background(), "agent-1", "nonexistent")
		assert.True(t, crmerr.IsNotFound(err))
	})
}

func TestListLeads_NewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, name := range []string{"first", "second", "third"} {
			require.NoError(t, s.CreateLead(ctx, &models.Lead{OwnerID: "agent-1", Name: name, Phone: "1", Status: models.LeadStatusNew}))
			time.Sleep(2 * time.Millisecond)
		}
		leads, err := s.ListLeads(ctx, "agent-1")
		require.NoError(t, err)
		require.Len(t, leads, 3)
		assert.Equal(t, "third", leads[0].Name)
		assert.Equal(t, "first", leads[2].Name)
	})
}

// --- Deal CRUD ---

func TestDealCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		deal := &models.Deal{
			OwnerID:      "agent-1",
			LeadID:       "lead-1",
			Title:        "Aarav Mehta - Buying",
			Value:        "₹3.7 Cr",
			NumericValue: 37_300_000,
			Source:       models.DealSourceZillow,
			Stage:        models.StageNegotiation,
			LastTouch:    "Just now",
			Completion:   10,
			Tasks: []models.DealTask{
				{ID: "t1", Label: "Initial Meeting", Done: true},
				{ID: "t2", Label: "Requirement Analysis"},
			},
			IsUrgent: true,
		}
		require.NoError(t, s.CreateDeal(ctx, deal))
		assert.NotEmpty(t, deal.ID)
		assert.False(t, deal.StageChangedAt.IsZero())

		got, err := s.GetDeal(ctx, "agent-1", deal.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(37_300_000), got.NumericValue)
		assert.Equal(t, models.StageNegotiation, got.Stage)
		assert.True(t, got.IsUrgent)
		assert.Nil(t, got.ClosedAt)
		require.Len(t, got.Tasks, 2)
		assert.True(t, got.Tasks[0].Done)

		closed := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
		got.Stage = models.StageClosed
		got.ClosedAt = &closed
		require.NoError(t, s.UpdateDeal(ctx, got))

		got2, err := s.GetDeal(ctx, "agent-1", deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StageClosed, got2.Stage)
		require.NotNil(t, got2.ClosedAt)
		assert.True(t, closed.Equal(*got2.ClosedAt))

		_, err = s.GetDeal(ctx, "agent-2", deal.ID)
		assert.True(t, crmerr.IsPermissionDenied(err))

		require.NoError(t, s.DeleteDeal(ctx, "agent-1", deal.ID))
		_, err = s.GetDeal(ctx, "agent-1", deal.ID)
		assert.True(t, crmerr.IsNotFound(err))
	})
}

func TestDeleteLead_KeepsDeals(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := &models.Lead{OwnerID: "agent-1", Name: "Kabir", Phone: "1", Status: models.LeadStatusQualified}
		require.NoError(t, s.CreateLead(ctx, lead))
		deal := &models.Deal{OwnerID: "agent-1", LeadID: lead.ID, Title: "Kabir - Buying", Stage: models.StageNegotiation}
		require.NoError(t, s.CreateDeal(ctx, deal))

		require.NoError(t, s.DeleteLead(ctx, "agent-1", lead.ID))

		got, err := s.GetDeal(ctx, "agent-1", deal.ID)
		require.NoError(t, err)
		assert.Equal(t, lead.ID, got.LeadID)
	})
}

// --- Follow-up task CRUD ---

func TestTaskCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

		later := &models.FollowUpTask{OwnerID: "agent-1", LeadID: "l1", LeadName: "A", TaskType: models.TaskTypeCall,
			Description: "later", DueDate: base.Add(48 * time.Hour), Status: models.TaskStatusPending}
		sooner := &models.FollowUpTask{OwnerID: "agent-1", LeadID: "l1", LeadName: "A", TaskType: models.TaskTypeEmail,
			Description: "sooner", DueDate: base.Add(2 * time.Hour), Status: models.TaskStatusPending, IsOverdue: true}
		require.NoError(t, s.CreateTask(ctx, later))
		require.NoError(t, s.CreateTask(ctx, sooner))

		tasks, err := s.ListTasks(ctx, "agent-1")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "sooner", tasks[0].Description)
		assert.True(t, tasks[0].IsOverdue)
		assert.Equal(t, "later", tasks[1].Description)

		done := base.Add(3 * time.Hour)
		sooner.Status = models.TaskStatusCompleted
		sooner.CompletedAt = &done
		require.NoError(t, s.UpdateTask(ctx, sooner))

		got, err := s.GetTask(ctx, "agent-1", sooner.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))

		assert.True(t, crmerr.IsPermissionDenied(s.DeleteTask(ctx, "agent-2", later.ID)))
		require.NoError(t, s.DeleteTask(ctx, "agent-1", later.ID))
		_, err = s.GetTask(ctx, "agent-1", later.ID)
		assert.True(t, crmerr.IsNotFound(err))
	})
}

// --- Transactions ---

func TestInTx_CommitsTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := &models.Lead{OwnerID: "agent-1", Name: "Ishaan", Phone: "1", Status: models.LeadStatusContacted}
	require.NoError(t, s.CreateLead(ctx, lead))

	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.CreateDeal(ctx, &models.Deal{OwnerID: "agent-1", LeadID: lead.ID, Title: "Ishaan - Buying", Stage: models.StageNegotiation}); err != nil {
			return err
		}
		lead.Status = models.LeadStatusQualified
		return tx.UpdateLead(ctx, lead)
	})
	require.NoError(t, err)

	got, err := s.GetLead(ctx, "agent-1", lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusQualified, got.Status)
	deals, err := s.ListDeals(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.CreateDeal(ctx, &models.Deal{OwnerID: "agent-1", Title: "orphan", Stage: models.StageNegotiation}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	deals, err := s.ListDeals(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, deals)
}

func TestInTx_NotifiesAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, models.KindDeals, "agent-1")
	require.NoError(t, err)
	defer sub.Close()

	initial := <-sub.C
	assert.Equal(t, 0, initial.Len())

	require.NoError(t, s.InTx(ctx, func(tx Store) error {
		return tx.CreateDeal(ctx, &models.Deal{OwnerID: "agent-1", Title: "in tx", Stage: models.StageNegotiation})
	}))

	select {
	case snap := <-sub.C:
		require.NoError(t, snap.Err)
		assert.Equal(t, 1, snap.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after commit")
	}
}

func TestMemoryStore_IsNotTransactor(t *testing.T) {
	var s Store = NewMemoryStore()
	_, ok := s.(Transactor)
	assert.False(t, ok)

	var sq Store = newTestStore(t)
	_, ok = sq.(Transactor)
	assert.True(t, ok)
}
