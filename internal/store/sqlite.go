package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type change struct {
	ownerID string
	kind    models.Kind
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db       *sql.DB
	q        queryer
	notifier Notifier
	log      *zap.Logger

	// pending collects change signals while inside InTx; they are sent after commit.
	pending *[]change
}

// Option configures a SQLiteStore or MemoryStore.
type Option func(*options)

type options struct {
	notifier Notifier
	log      *zap.Logger
}

// WithNotifier replaces the default in-process notifier, e.g. with a RedisNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the logger used for non-fatal store problems.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = NewLocalNotifier()
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer; a single connection
	// serializes access and avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	o := buildOptions(opts)
	return &SQLiteStore{db: db, q: db, notifier: o.notifier, log: o.log}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection and the notifier.
func (s *SQLiteStore) Close() error {
	if err := s.notifier.Close(); err != nil {
		s.log.Warn("close notifier", zap.Error(err))
	}
	return s.db.Close()
}

// InTx runs fn inside a single database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pending != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return crmerr.Transport("begin transaction", err)
	}
	txStore := &SQLiteStore{db: s.db, q: tx, notifier: s.notifier, log: s.log, pending: &[]change{}}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return crmerr.Transport("commit transaction", err)
	}
	for _, c := range *txStore.pending {
		s.notify(ctx, c.ownerID, c.kind)
	}
	return nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, kind models.Kind, ownerID string) (*Subscription, error) {
	return subscribe(ctx, s, s.notifier, kind, ownerID)
}

func (s *SQLiteStore) notify(ctx context.Context, ownerID string, kind models.Kind) {
	if s.pending != nil {
		*s.pending = append(*s.pending, change{ownerID: ownerID, kind: kind})
		return
	}
	if err := s.notifier.Notify(ctx, ownerID, kind); err != nil {
		s.log.Warn("change notification failed",
			zap.String("owner", ownerID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// checkOwner resolves the owner of id in table and compares it with ownerID.
func (s *SQLiteStore) checkOwner(ctx context.Context, table string, kind models.Kind, ownerID, id string) error {
	if ownerID == "" {
		return crmerr.PermissionDenied(string(kind), id)
	}
	var owner string
	err := s.q.QueryRowContext(ctx, "SELECT owner_id FROM "+table+" WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return crmerr.NotFound(string(kind), id)
	}
	if err != nil {
		return crmerr.Transport("lookup "+string(kind), err)
	}
	if owner != ownerID {
		return crmerr.PermissionDenied(string(kind), id)
	}
	return nil
}

func (s *SQLiteStore) deleteRow(ctx context.Context, table string, kind models.Kind, ownerID, id string) error {
	if err := s.checkOwner(ctx, table, kind, ownerID, id); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return crmerr.Transport("delete "+string(kind), err)
	}
	s.notify(ctx, ownerID, kind)
	return nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Leads ---

const leadColumns = `id, owner_id, name, phone, email, status, source, interest, temperature, budget, tags, notes, next_action, history, created_at, updated_at`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	if lead.OwnerID == "" {
		return crmerr.WithOp("create lead", crmerr.PermissionDenied("leads", ""))
	}
	if lead.ID == "" {
		lead.ID = newULID()
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	args, err := leadArgs(lead)
	if err != nil {
		return crmerr.Validation("create lead", "encode lead: %v", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{lead.ID, lead.OwnerID}, append(args, lead.CreatedAt, lead.UpdatedAt)...)...,
	)
	if err != nil {
		return crmerr.Transport("create lead", err)
	}
	s.notify(ctx, lead.OwnerID, models.KindLeads)
	return nil
}

// leadArgs returns the mutable lead columns, name through history.
func leadArgs(lead *models.Lead) ([]any, error) {
	tags, err := marshalJSON(nonNilStrings(lead.Tags))
	if err != nil {
		return nil, err
	}
	history, err := marshalJSON(nonNilHistory(lead.History))
	if err != nil {
		return nil, err
	}
	var nextAction sql.NullString
	if lead.NextAction != nil {
		na, err := marshalJSON(lead.NextAction)
		if err != nil {
			return nil, err
		}
		nextAction = sql.NullString{String: na, Valid: true}
	}
	return []any{
		lead.Name, lead.Phone, lead.Email,
		string(lead.Status), string(lead.Source), string(lead.Interest), string(lead.Temperature),
		lead.Budget, tags, lead.Notes, nextAction, history,
	}, nil
}

func scanLead(row rowScanner) (*models.Lead, error) {
	lead := &models.Lead{}
	var status, source, interest, temperature, tags, history string
	var nextAction sql.NullString
	if err := row.Scan(&lead.ID, &lead.OwnerID, &lead.Name, &lead.Phone, &lead.Email,
		&status, &source, &interest, &temperature, &lead.Budget, &tags, &lead.Notes,
		&nextAction, &history, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
		return nil, err
	}
	lead.Status = models.LeadStatus(status)
	lead.Source = models.LeadSource(source)
	lead.Interest = models.Interest(interest)
	lead.Temperature = models.Temperature(temperature)
	if err := json.Unmarshal([]byte(tags), &lead.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &lead.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if nextAction.Valid {
		lead.NextAction = &models.NextAction{}
		if err := json.Unmarshal([]byte(nextAction.String), lead.NextAction); err != nil {
			return nil, fmt.Errorf("decode next action: %w", err)
		}
	}
	return lead, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, ownerID, id string) (*models.Lead, error) {
	lead, err := scanLead(s.q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crmerr.NotFound("leads", id)
	}
	if err != nil {
		return nil, crmerr.Transport("get lead", err)
	}
	if lead.OwnerID != ownerID {
		return nil, crmerr.PermissionDenied("leads", id)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, ownerID string) ([]*models.Lead, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, crmerr.Transport("list leads", err)
	}
	defer func() { _ = rows.Close() }()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, crmerr.Transport("scan lead", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, crmerr.Transport("list leads", err)
	}
	return leads, nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	if err := s.checkOwner(ctx, "leads", models.KindLeads, lead.OwnerID, lead.ID); err != nil {
		return err
	}
	lead.UpdatedAt = time.Now().UTC()
	args, err := leadArgs(lead)
	if err != nil {
		return crmerr.Validation("update lead", "encode lead: %v", err)
	}
	_, err = s.q.ExecContext(ctx,
		`UPDATE leads SET name=?, phone=?, email=?, status=?, source=?, interest=?, temperature=?, budget=?, tags=?, notes=?, next_action=?, history=?, updated_at=?
		WHERE id=?`,
		append(args, lead.UpdatedAt, lead.ID)...,
	)
	if err != nil {
		return crmerr.Transport("update lead", err)
	}
	s.notify(ctx, lead.OwnerID, models.KindLeads)
	return nil
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, ownerID, id string) error {
	return s.deleteRow(ctx, "leads", models.KindLeads, ownerID, id)
}

// --- Deals ---

const dealColumns = `id, owner_id, lead_id, title, value, numeric_value, source, stage, last_touch, days_in_stage, completion, tasks, is_urgent, property_address, stage_changed_at, closed_at, created_at, updated_at`

func (s *SQLiteStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if deal.OwnerID == "" {
		return crmerr.WithOp("create deal", crmerr.PermissionDenied("deals", ""))
	}
	if deal.ID == "" {
		deal.ID = newULID()
	}
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.UpdatedAt = now
	if deal.StageChangedAt.IsZero() {
		deal.StageChangedAt = now
	}

	args, err := dealArgs(deal)
	if err != nil {
		return crmerr.Validation("create deal", "encode deal: %v", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{deal.ID, deal.OwnerID}, append(args, deal.CreatedAt, deal.UpdatedAt)...)...,
	)
	if err != nil {
		return crmerr.Transport("create deal", err)
	}
	s.notify(ctx, deal.OwnerID, models.KindDeals)
	return nil
}

// dealArgs returns the mutable deal columns, lead_id through closed_at.
func dealArgs(deal *models.Deal) ([]any, error) {
	tasks, err := marshalJSON(nonNilDealTasks(deal.Tasks))
	if err != nil {
		return nil, err
	}
	var closedAt any
	if deal.ClosedAt != nil {
		closedAt = deal.ClosedAt.UTC()
	}
	return []any{
		deal.LeadID, deal.Title, deal.Value, deal.NumericValue, string(deal.Source), string(deal.Stage),
		deal.LastTouch, deal.DaysInStage, deal.Completion, tasks, boolToInt(deal.IsUrgent),
		deal.PropertyAddress, deal.StageChangedAt.UTC(), closedAt,
	}, nil
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	deal := &models.Deal{}
	var source, stage, tasks string
	var closedAt sql.NullTime
	if err := row.Scan(&deal.ID, &deal.OwnerID, &deal.LeadID, &deal.Title, &deal.Value, &deal.NumericValue,
		&source, &stage, &deal.LastTouch, &deal.DaysInStage, &deal.Completion, &tasks, &deal.IsUrgent,
		&deal.PropertyAddress, &deal.StageChangedAt, &closedAt, &deal.CreatedAt, &deal.UpdatedAt); err != nil {
		return nil, err
	}
	deal.Source = models.DealSource(source)
	deal.Stage = models.Stage(stage)
	if closedAt.Valid {
		deal.ClosedAt = &closedAt.Time
	}
	if err := json.Unmarshal([]byte(tasks), &deal.Tasks); err != nil {
		return nil, fmt.Errorf("decode deal tasks: %w", err)
	}
	return deal, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, ownerID, id string) (*models.Deal, error) {
	deal, err := scanDeal(s.q.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crmerr.NotFound("deals", id)
	}
	if err != nil {
		return nil, crmerr.Transport("get deal", err)
	}
	if deal.OwnerID != ownerID {
		return nil, crmerr.PermissionDenied("deals", id)
	}
	return deal, nil
}

func (s *SQLiteStore) ListDeals(ctx context.Context, ownerID string) ([]*models.Deal, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, crmerr.Transport("list deals", err)
	}
	defer func() { _ = rows.Close() }()

	var deals []*models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, crmerr.Transport("scan deal", err)
		}
		deals = append(deals, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, crmerr.Transport("list deals", err)
	}
	return deals, nil
}

func (s *SQLiteStore) UpdateDeal(ctx context.Context, deal *models.Deal) error {
	if err := s.checkOwner(ctx, "deals", models.KindDeals, deal.OwnerID, deal.ID); err != nil {
		return err
	}
	deal.UpdatedAt = time.Now().UTC()
	args, err := dealArgs(deal)
	if err != nil {
		return crmerr.Validation("update deal", "encode deal: %v", err)
	}
	_, err = s.q.ExecContext(ctx,
		`UPDATE deals SET lead_id=?, title=?, value=?, numeric_value=?, source=?, stage=?, last_touch=?, days_in_stage=?, completion=?, tasks=?, is_urgent=?, property_address=?, stage_changed_at=?, closed_at=?, updated_at=?
		WHERE id=?`,
		append(args, deal.UpdatedAt, deal.ID)...,
	)
	if err != nil {
		return crmerr.Transport("update deal", err)
	}
	s.notify(ctx, deal.OwnerID, models.KindDeals)
	return nil
}

func (s *SQLiteStore) DeleteDeal(ctx context.Context, ownerID, id string) error {
	return s.deleteRow(ctx, "deals", models.KindDeals, ownerID, id)
}

// --- Follow-up tasks ---

const taskColumns = `id, owner_id, lead_id, lead_name, lead_temp, lead_phone, task_type, description, due_date, display_time, is_overdue, status, completed_at, created_at, updated_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.FollowUpTask) error {
	if task.OwnerID == "" {
		return crmerr.WithOp("create task", crmerr.PermissionDenied("tasks", ""))
	}
	if task.ID == "" {
		task.ID = newULID()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO follow_up_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{task.ID, task.OwnerID}, append(taskArgs(task), task.CreatedAt, task.UpdatedAt)...)...,
	)
	if err != nil {
		return crmerr.Transport("create task", err)
	}
	s.notify(ctx, task.OwnerID, models.KindTasks)
	return nil
}

// taskArgs returns the mutable task columns, lead_id through completed_at.
func taskArgs(task *models.FollowUpTask) []any {
	var completedAt any
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.UTC()
	}
	return []any{
		task.LeadID, task.LeadName, string(task.LeadTemp), task.LeadPhone, string(task.TaskType),
		task.Description, task.DueDate.UTC(), task.DisplayTime, boolToInt(task.IsOverdue),
		string(task.Status), completedAt,
	}
}

func scanTask(row rowScanner) (*models.FollowUpTask, error) {
	task := &models.FollowUpTask{}
	var leadTemp, taskType, status string
	var completedAt sql.NullTime
	if err := row.Scan(&task.ID, &task.OwnerID, &task.LeadID, &task.LeadName, &leadTemp, &task.LeadPhone,
		&taskType, &task.Description, &task.DueDate, &task.DisplayTime, &task.IsOverdue, &status,
		&completedAt, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.LeadTemp = models.Temperature(leadTemp)
	task.TaskType = models.TaskType(taskType)
	task.Status = models.TaskStatus(status)
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, ownerID, id string) (*models.FollowUpTask, error) {
	task, err := scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM follow_up_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crmerr.NotFound("tasks", id)
	}
	if err != nil {
		return nil, crmerr.Transport("get task", err)
	}
	if task.OwnerID != ownerID {
		return nil, crmerr.PermissionDenied("tasks", id)
	}
	return task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, ownerID string) ([]*models.FollowUpTask, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM follow_up_tasks WHERE owner_id = ? ORDER BY due_date ASC, id ASC`, ownerID)
	if err != nil {
		return nil, crmerr.Transport("list tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.FollowUpTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, crmerr.Transport("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, crmerr.Transport("list tasks", err)
	}
	// due_date is stored as text; sort on the parsed value to be safe across offsets.
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].DueDate.Before(tasks[j].DueDate) })
	return tasks, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.FollowUpTask) error {
	if err := s.checkOwner(ctx, "follow_up_tasks", models.KindTasks, task.OwnerID, task.ID); err != nil {
		return err
	}
	task.UpdatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`UPDATE follow_up_tasks SET lead_id=?, lead_name=?, lead_temp=?, lead_phone=?, task_type=?, description=?, due_date=?, display_time=?, is_overdue=?, status=?, completed_at=?, updated_at=?
		WHERE id=?`,
		append(taskArgs(task), task.UpdatedAt, task.ID)...,
	)
	if err != nil {
		return crmerr.Transport("update task", err)
	}
	s.notify(ctx, task.OwnerID, models.KindTasks)
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, ownerID, id string) error {
	return s.deleteRow(ctx, "follow_up_tasks", models.KindTasks, ownerID, id)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilHistory(v []models.HistoryEntry) []models.HistoryEntry {
	if v == nil {
		return []models.HistoryEntry{}
	}
	return v
}

func nonNilDealTasks(v []models.DealTask) []models.DealTask {
	if v == nil {
		return []models.DealTask{}
	}
	return v
}
