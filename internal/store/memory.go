package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// MemoryStore is an in-process Store. It does not implement Transactor, so
// composite operations against it run as sagas.
type MemoryStore struct {
	mu    sync.RWMutex
	leads map[string]*models.Lead
	deals map[string]*models.Deal
	tasks map[string]*models.FollowUpTask

	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		leads:    make(map[string]*models.Lead),
		deals:    make(map[string]*models.Deal),
		tasks:    make(map[string]*models.FollowUpTask),
		notifier: o.notifier,
		log:      o.log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return m.notifier.Close() }

func (m *MemoryStore) Subscribe(ctx context.Context, kind models.Kind, ownerID string) (*Subscription, error) {
	return subscribe(ctx, m, m.notifier, kind, ownerID)
}

func (m *MemoryStore) notify(ctx context.Context, ownerID string, kind models.Kind) {
	if err := m.notifier.Notify(ctx, ownerID, kind); err != nil {
		m.log.Warn("change notification failed",
			zap.String("owner", ownerID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// owned returns a PermissionDenied or NotFound error unless the record exists
// and belongs to ownerID. Callers hold m.mu.
func owned(kind models.Kind, id, ownerID, recordOwner string, exists bool) error {
	if !exists {
		return crmerr.NotFound(string(kind), id)
	}
	if ownerID == "" || recordOwner != ownerID {
		return crmerr.PermissionDenied(string(kind), id)
	}
	return nil
}

// --- Leads ---

func (m *MemoryStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	if lead.OwnerID == "" {
		return crmerr.WithOp("create lead", crmerr.PermissionDenied("leads", ""))
	}
	m.mu.Lock()
	if lead.ID == "" {
		lead.ID = newULID()
	}
	now := m.now()
	lead.CreatedAt, lead.UpdatedAt = now, now
	m.leads[lead.ID] = lead.Clone()
	m.mu.Unlock()

	m.notify(ctx, lead.OwnerID, models.KindLeads)
	return nil
}

func (m *MemoryStore) GetLead(_ context.Context, ownerID, id string) (*models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	var owner string
	if ok {
		owner = l.OwnerID
	}
	if err := owned(models.KindLeads, id, ownerID, owner, ok); err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

func (m *MemoryStore) ListLeads(_ context.Context, ownerID string) ([]*models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Lead
	for _, l := range m.leads {
		if l.OwnerID == ownerID {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	m.mu.Lock()
	cur, ok := m.leads[lead.ID]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindLeads, lead.ID, lead.OwnerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	lead.CreatedAt = cur.CreatedAt
	lead.UpdatedAt = m.now()
	m.leads[lead.ID] = lead.Clone()
	m.mu.Unlock()

	m.notify(ctx, lead.OwnerID, models.KindLeads)
	return nil
}

func (m *MemoryStore) DeleteLead(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	cur, ok := m.leads[id]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindLeads, id, ownerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.leads, id)
	m.mu.Unlock()

	m.notify(ctx, ownerID, models.KindLeads)
	return nil
}

// --- Deals ---

func (m *MemoryStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if deal.OwnerID == "" {
		return crmerr.WithOp("create deal", crmerr.PermissionDenied("deals", ""))
	}
	m.mu.Lock()
	if deal.ID == "" {
		deal.ID = newULID()
	}
	now := m.now()
	deal.CreatedAt, deal.UpdatedAt = now, now
	if deal.StageChangedAt.IsZero() {
		deal.StageChangedAt = now
	}
	m.deals[deal.ID] = deal.Clone()
	m.mu.Unlock()

	m.notify(ctx, deal.OwnerID, models.KindDeals)
	return nil
}

func (m *MemoryStore) GetDeal(_ context.Context, ownerID, id string) (*models.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	var owner string
	if ok {
		owner = d.OwnerID
	}
	if err := owned(models.KindDeals, id, ownerID, owner, ok); err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

func (m *MemoryStore) ListDeals(_ context.Context, ownerID string) ([]*models.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Deal
	for _, d := range m.deals {
		if d.OwnerID == ownerID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateDeal(ctx context.Context, deal *models.Deal) error {
	m.mu.Lock()
	cur, ok := m.deals[deal.ID]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindDeals, deal.ID, deal.OwnerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	deal.CreatedAt = cur.CreatedAt
	deal.UpdatedAt = m.now()
	m.deals[deal.ID] = deal.Clone()
	m.mu.Unlock()

	m.notify(ctx, deal.OwnerID, models.KindDeals)
	return nil
}

func (m *MemoryStore) DeleteDeal(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	cur, ok := m.deals[id]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindDeals, id, ownerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.deals, id)
	m.mu.Unlock()

	m.notify(ctx, ownerID, models.KindDeals)
	return nil
}

// --- Follow-up tasks ---

func (m *MemoryStore) CreateTask(ctx context.Context, task *models.FollowUpTask) error {
	if task.OwnerID == "" {
		return crmerr.WithOp("create task", crmerr.PermissionDenied("tasks", ""))
	}
	m.mu.Lock()
	if task.ID == "" {
		task.ID = newULID()
	}
	now := m.now()
	task.CreatedAt, task.UpdatedAt = now, now
	m.tasks[task.ID] = task.Clone()
	m.mu.Unlock()

	m.notify(ctx, task.OwnerID, models.KindTasks)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, ownerID, id string) (*models.FollowUpTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	var owner string
	if ok {
		owner = t.OwnerID
	}
	if err := owned(models.KindTasks, id, ownerID, owner, ok); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (m *MemoryStore) ListTasks(_ context.Context, ownerID string) ([]*models.FollowUpTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.FollowUpTask
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, task *models.FollowUpTask) error {
	m.mu.Lock()
	cur, ok := m.tasks[task.ID]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindTasks, task.ID, task.OwnerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	task.CreatedAt = cur.CreatedAt
	task.UpdatedAt = m.now()
	m.tasks[task.ID] = task.Clone()
	m.mu.Unlock()

	m.notify(ctx, task.OwnerID, models.KindTasks)
	return nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	cur, ok := m.tasks[id]
	var owner string
	if ok {
		owner = cur.OwnerID
	}
	if err := owned(models.KindTasks, id, ownerID, owner, ok); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.tasks, id)
	m.mu.Unlock()

	m.notify(ctx, ownerID, models.KindTasks)
	return nil
}
