package crm

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

var agent = Session{OwnerID: "agent-1", User: "Priya"}

// faultyStore wraps a Store and fails chosen methods.
type faultyStore struct {
	store.Store

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFaultyStore(inner store.Store) *faultyStore {
	return &faultyStore{Store: inner, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *faultyStore) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.fail[name]
}

func (f *faultyStore) failOn(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
}

func (f *faultyStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *faultyStore) GetLead(ctx context.Context, ownerID, id string) (*models.Lead, error) {
	if err := f.hit("GetLead"); err != nil {
		return nil, err
	}
	return f.Store.GetLead(ctx, ownerID, id)
}

func (f *faultyStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	if err := f.hit("UpdateLead"); err != nil {
		return err
	}
	return f.Store.UpdateLead(ctx, lead)
}

func (f *faultyStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if err := f.hit("CreateDeal"); err != nil {
		return err
	}
	return f.Store.CreateDeal(ctx, deal)
}

func (f *faultyStore) UpdateDeal(ctx context.Context, deal *models.Deal) error {
	if err := f.hit("UpdateDeal"); err != nil {
		return err
	}
	return f.Store.UpdateDeal(ctx, deal)
}

func (f *faultyStore) DeleteDeal(ctx context.Context, ownerID, id string) error {
	if err := f.hit("DeleteDeal"); err != nil {
		return err
	}
	return f.Store.DeleteDeal(ctx, ownerID, id)
}

func (f *faultyStore) UpdateTask(ctx context.Context, task *models.FollowUpTask) error {
	if err := f.hit("UpdateTask"); err != nil {
		return err
	}
	return f.Store.UpdateTask(ctx, task)
}

func (f *faultyStore) ListTasks(ctx context.Context, ownerID string) ([]*models.FollowUpTask, error) {
	if err := f.hit("ListTasks"); err != nil {
		return nil, err
	}
	return f.Store.ListTasks(ctx, ownerID)
}

// faultyTxStore is a transactional store whose transactions see a faultyStore.
type faultyTxStore struct {
	*store.SQLiteStore
	fail map[string]error
}

func (f *faultyTxStore) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.SQLiteStore.InTx(ctx, func(tx store.Store) error {
		ft := newFaultyStore(tx)
		for name, err := range f.fail {
			ft.failOn(name, err)
		}
		return fn(ft)
	})
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T, st store.Store) (*Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	svc := NewService(st,
		WithPublisher(rec),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testNow }),
	)
	return svc, rec
}

func addTestLead(t *testing.T, svc *Service, name string) *models.Lead {
	t.Helper()
	lead, err := svc.AddLead(context.Background(), agent, LeadInput{
		Name:        name,
		Phone:       "+91 98000 00000",
		Source:      models.LeadSourceZillow,
		Temperature: models.TemperatureHot,
		Budget:      "₹3.73 Cr",
	})
	require.NoError(t, err)
	return lead
}

func ptr[T any](v T) *T { return &v }
