package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bilancio/internal/auth"
	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/limits"
	"bilancio/internal/notify"
	"bilancio/internal/report"
	"bilancio/internal/sheets"
	"bilancio/internal/store"
)

var (
	ErrSyncDisabled   = errors.New("sync is not configured")
	ErrExportDisabled = errors.New("report export is not configured")
)

// BudgetServiceConfig wires the collaborators of a BudgetService. Store and
// Auth are required.
type BudgetServiceConfig struct {
	Store     *store.Store
	Auth      auth.Provider
	Sync      *SyncEngine
	Notifier  notify.Notifier
	Reports   sheets.ReportWriter
	Reminders ReminderLog
	Clock     func() time.Time

	// ReportCacheTTL bounds how long a computed report is reused (default: 5m)
	ReportCacheTTL time.Duration
}

// Session is the signed-in identity and the role it acts with.
type Session struct {
	Email string    `json:"email"`
	Role  core.Role `json:"role"`
}

// BudgetService is the application facade. It checks permissions, applies
// user actions to the store and recomputes derived state.
type BudgetService struct {
	store     *store.Store
	auth      auth.Provider
	sync      *SyncEngine
	notifier  notify.Notifier
	exporter  sheets.ReportWriter
	reminders ReminderLog
	now       func() time.Time
	evaluator *limits.Evaluator
	reports   *cache.LRUCache[report.Report]
}

func NewBudgetService(cfg BudgetServiceConfig) (*BudgetService, error) {
	if cfg.Store == nil {
		return nil, errors.New("budget service: missing store")
	}
	if cfg.Auth == nil {
		return nil, errors.New("budget service: missing identity provider")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Reminders == nil {
		cfg.Reminders = NewMemoryReminderLog()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = 5 * time.Minute
	}
	s := &BudgetService{
		store:     cfg.Store,
		auth:      cfg.Auth,
		sync:      cfg.Sync,
		notifier:  cfg.Notifier,
		exporter:  cfg.Reports,
		reminders: cfg.Reminders,
		now:       cfg.Clock,
		evaluator: limits.NewEvaluator(),
		reports:   cache.NewLRUCache[report.Report](16, cfg.ReportCacheTTL).WithClock(cfg.Clock),
	}
	// Whatever is already over a threshold was reported before this process
	// started.
	month := core.MonthOf(s.now())
	s.evaluator.Evaluate(month, s.limitsOf(month), store.Select[core.Transaction](s.store, nil))
	return s, nil
}

// ReportCache exposes the report cache for periodic cleanup.
func (s *BudgetService) ReportCache() cache.Cleaner { return s.reports }

// Session resolves the caller. The role is that of the member whose email
// matches the identity; an identity without a member record is the owner.
func (s *BudgetService) Session(ctx context.Context) (Session, error) {
	id, err := s.auth.Identity(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("resolve identity: %w", err)
	}
	email := core.NormalizeEmail(id.Email)
	return Session{Email: email, Role: roleOf(email, store.Select[core.FamilyMember](s.store, nil))}, nil
}

func roleOf(email string, members []core.FamilyMember) core.Role {
	for _, m := range members {
		if core.NormalizeEmail(m.Email) == email {
			return m.Role
		}
	}
	return core.RoleOwner
}

// authorize fails with core.ErrPermissionDenied unless the caller may change
// shared data.
func (s *BudgetService) authorize(ctx context.Context, op string) (Session, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return Session{}, err
	}
	if !sess.Role.CanMutate() {
		slog.WarnContext(ctx, "Permission denied", "op", op, "email", sess.Email, "role", sess.Role)
		return sess, fmt.Errorf("%s: %w", op, core.ErrPermissionDenied)
	}
	return sess, nil
}

func (s *BudgetService) put(ctx context.Context, op string, e core.Entity) (core.Entity, error) {
	stored, err := s.store.Upsert(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slog.InfoContext(ctx, "Record saved", "op", op, "table", stored.EntityTable(), "id", stored.EntityID())
	return stored, nil
}

func (s *BudgetService) remove(ctx context.Context, op string, table core.Table, id int64) error {
	if _, err := s.authorize(ctx, op); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, table, id, s.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	slog.InfoContext(ctx, "Record deleted", "op", op, "table", table, "id", id)
	return nil
}

func (s *BudgetService) checkCategory(id int64) error {
	if id == 0 {
		return nil
	}
	if _, ok := s.store.Get(core.TableCategories, id); !ok {
		return &core.ValidationError{Field: "categoryId", Err: core.ErrUnknownCategory}
	}
	return nil
}

// Categories

func (s *BudgetService) Categories() []core.Category {
	return store.Select[core.Category](s.store, nil)
}

func (s *BudgetService) AddCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if _, err := s.authorize(ctx, "add category"); err != nil {
		return core.Category{}, err
	}
	c.ID = 0
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	c.UpdatedAt = core.Bump(time.Time{}, s.now())
	stored, err := s.put(ctx, "add category", c)
	if err != nil {
		return core.Category{}, err
	}
	return stored.(core.Category), nil
}

func (s *BudgetService) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if _, err := s.authorize(ctx, "update category"); err != nil {
		return core.Category{}, err
	}
	prev, ok := store.Find[core.Category](s.store, c.ID)
	if !ok {
		return core.Category{}, fmt.Errorf("update category %d: %w", c.ID, core.ErrNotFound)
	}
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	c.UpdatedAt = core.Bump(prev.UpdatedAt, s.now())
	stored, err := s.put(ctx, "update category", c)
	if err != nil {
		return core.Category{}, err
	}
	return stored.(core.Category), nil
}

// DeleteCategory removes the category. Its transactions and recurring
// payments are kept without a category; its limits are removed.
func (s *BudgetService) DeleteCategory(ctx context.Context, id int64) error {
	return s.remove(ctx, "delete category", core.TableCategories, id)
}

// ImportCategories adds the names listed by r that do not exist yet, compared
// case-insensitively, and returns how many were added.
func (s *BudgetService) ImportCategories(ctx context.Context, r sheets.CategoryReader) (int, error) {
	if _, err := s.authorize(ctx, "import categories"); err != nil {
		return 0, err
	}
	names, err := r.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	existing := make(map[string]bool)
	for _, c := range s.Categories() {
		existing[strings.ToLower(c.Name)] = true
	}
	added := 0
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || existing[key] {
			continue
		}
		if _, err := s.AddCategory(ctx, core.Category{Name: name}); err != nil {
			return added, err
		}
		existing[key] = true
		added++
	}
	return added, nil
}

// Members

func (s *BudgetService) Members() []core.FamilyMember {
	return store.Select[core.FamilyMember](s.store, nil)
}

func (s *BudgetService) checkMember(m core.FamilyMember) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for _, other := range s.Members() {
		if other.ID != m.ID && core.NormalizeEmail(other.Email) == m.Email {
			return &core.ValidationError{Field: "email", Err: core.ErrDuplicateEmail}
		}
	}
	return nil
}

func (s *BudgetService) AddMember(ctx context.Context, m core.FamilyMember) (core.FamilyMember, error) {
	if _, err := s.authorize(ctx, "add member"); err != nil {
		return core.FamilyMember{}, err
	}
	m.ID = 0
	m.Name = strings.TrimSpace(m.Name)
	m.Email = core.NormalizeEmail(m.Email)
	if err := s.checkMember(m); err != nil {
		return core.FamilyMember{}, err
	}
	m.UpdatedAt = core.Bump(time.Time{}, s.now())
	stored, err := s.put(ctx, "add member", m)
	if err != nil {
		return core.FamilyMember{}, err
	}
	return stored.(core.FamilyMember), nil
}

func (s *BudgetService) UpdateMember(ctx context.Context, m core.FamilyMember) (core.FamilyMember, error) {
	if _, err := s.authorize(ctx, "update member"); err != nil {
		return core.FamilyMember{}, err
	}
	prev, ok := store.Find[core.FamilyMember](s.store, m.ID)
	if !ok {
		return core.FamilyMember{}, fmt.Errorf("update member %d: %w", m.ID, core.ErrNotFound)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Email = core.NormalizeEmail(m.Email)
	if err := s.checkMember(m); err != nil {
		return core.FamilyMember{}, err
	}
	m.UpdatedAt = core.Bump(prev.UpdatedAt, s.now())
	stored, err := s.put(ctx, "update member", m)
	if err != nil {
		return core.FamilyMember{}, err
	}
	return stored.(core.FamilyMember), nil
}

// DeleteMember removes the member; their transactions are kept unassigned.
func (s *BudgetService) DeleteMember(ctx context.Context, id int64) error {
	return s.remove(ctx, "delete member", core.TableMembers, id)
}

// Transactions

// Transactions returns the transactions dated in [from, to). Zero bounds are
// open.
func (s *BudgetService) Transactions(from, to time.Time) []core.Transaction {
	return store.Select(s.store, func(tx core.Transaction) bool {
		return (from.IsZero() || !tx.Date.Before(from)) && (to.IsZero() || tx.Date.Before(to))
	})
}

func (s *BudgetService) checkTransaction(tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := s.checkCategory(tx.CategoryID); err != nil {
		return err
	}
	if tx.MemberID != 0 {
		if _, ok := s.store.Get(core.TableMembers, tx.MemberID); !ok {
			return &core.ValidationError{Field: "memberId", Err: core.ErrUnknownMember}
		}
	}
	return nil
}

func (s *BudgetService) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if _, err := s.authorize(ctx, "add transaction"); err != nil {
		return core.Transaction{}, err
	}
	tx.ID = 0
	tx.Note = strings.TrimSpace(tx.Note)
	tx.Date = tx.Date.Truncate(time.Millisecond)
	if err := s.checkTransaction(tx); err != nil {
		return core.Transaction{}, err
	}
	tx.UpdatedAt = core.Bump(time.Time{}, s.now())
	stored, err := s.put(ctx, "add transaction", tx)
	if err != nil {
		return core.Transaction{}, err
	}
	s.refreshLimits(ctx)
	return stored.(core.Transaction), nil
}

// UpdateTransaction replaces the whole transaction.
func (s *BudgetService) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if _, err := s.authorize(ctx, "update transaction"); err != nil {
		return core.Transaction{}, err
	}
	prev, ok := store.Find[core.Transaction](s.store, tx.ID)
	if !ok {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", tx.ID, core.ErrNotFound)
	}
	tx.Note = strings.TrimSpace(tx.Note)
	tx.Date = tx.Date.Truncate(time.Millisecond)
	if err := s.checkTransaction(tx); err != nil {
		return core.Transaction{}, err
	}
	tx.UpdatedAt = core.Bump(prev.UpdatedAt, s.now())
	stored, err := s.put(ctx, "update transaction", tx)
	if err != nil {
		return core.Transaction{}, err
	}
	s.refreshLimits(ctx)
	return stored.(core.Transaction), nil
}

func (s *BudgetService) DeleteTransaction(ctx context.Context, id int64) error {
	return s.remove(ctx, "delete transaction", core.TableTransactions, id)
}

// Recurring payments

func (s *BudgetService) RecurringPayments() []core.RecurringPayment {
	return store.Select[core.RecurringPayment](s.store, nil)
}

func (s *BudgetService) AddRecurringPayment(ctx context.Context, rp core.RecurringPayment) (core.RecurringPayment, error) {
	if _, err := s.authorize(ctx, "add recurring payment"); err != nil {
		return core.RecurringPayment{}, err
	}
	rp.ID = 0
	rp.Title = strings.TrimSpace(rp.Title)
	if err := rp.Validate(); err != nil {
		return core.RecurringPayment{}, err
	}
	if err := s.checkCategory(rp.CategoryID); err != nil {
		return core.RecurringPayment{}, err
	}
	rp.UpdatedAt = core.Bump(time.Time{}, s.now())
	stored, err := s.put(ctx, "add recurring payment", rp)
	if err != nil {
		return core.RecurringPayment{}, err
	}
	return stored.(core.RecurringPayment), nil
}

func (s *BudgetService) UpdateRecurringPayment(ctx context.Context, rp core.RecurringPayment) (core.RecurringPayment, error) {
	if _, err := s.authorize(ctx, "update recurring payment"); err != nil {
		return core.RecurringPayment{}, err
	}
	prev, ok := store.Find[core.RecurringPayment](s.store, rp.ID)
	if !ok {
		return core.RecurringPayment{}, fmt.Errorf("update recurring payment %d: %w", rp.ID, core.ErrNotFound)
	}
	rp.Title = strings.TrimSpace(rp.Title)
	if err := rp.Validate(); err != nil {
		return core.RecurringPayment{}, err
	}
	if err := s.checkCategory(rp.CategoryID); err != nil {
		return core.RecurringPayment{}, err
	}
	rp.UpdatedAt = core.Bump(prev.UpdatedAt, s.now())
	stored, err := s.put(ctx, "update recurring payment", rp)
	if err != nil {
		return core.RecurringPayment{}, err
	}
	return stored.(core.RecurringPayment), nil
}

func (s *BudgetService) DeleteRecurringPayment(ctx context.Context, id int64) error {
	return s.remove(ctx, "delete recurring payment", core.TableRecurringPayments, id)
}

// Category limits

func (s *BudgetService) limitsOf(month core.MonthKey) []core.CategoryLimit {
	return store.Select(s.store, func(l core.CategoryLimit) bool { return l.Month == month })
}

// CategoryLimits returns the limits configured for month.
func (s *BudgetService) CategoryLimits(month core.MonthKey) []core.CategoryLimit {
	return s.limitsOf(month)
}

// SetCategoryLimit creates or replaces the limit of category for month.
func (s *BudgetService) SetCategoryLimit(ctx context.Context, categoryID int64, month core.MonthKey, amount core.Money) (core.CategoryLimit, error) {
	if _, err := s.authorize(ctx, "set category limit"); err != nil {
		return core.CategoryLimit{}, err
	}
	l := core.CategoryLimit{CategoryID: categoryID, MonthlyLimit: amount, Month: month}
	if err := l.Validate(); err != nil {
		return core.CategoryLimit{}, err
	}
	if _, ok := s.store.Get(core.TableCategories, categoryID); !ok {
		return core.CategoryLimit{}, &core.ValidationError{Field: "categoryId", Err: core.ErrUnknownCategory}
	}
	var prev time.Time
	for _, existing := range s.limitsOf(month) {
		if existing.CategoryID == categoryID {
			l.ID = existing.ID
			prev = existing.UpdatedAt
		}
	}
	l.UpdatedAt = core.Bump(prev, s.now())
	stored, err := s.put(ctx, "set category limit", l)
	if err != nil {
		return core.CategoryLimit{}, err
	}
	s.refreshLimits(ctx)
	return stored.(core.CategoryLimit), nil
}

func (s *BudgetService) DeleteCategoryLimit(ctx context.Context, id int64) error {
	return s.remove(ctx, "delete category limit", core.TableCategoryLimits, id)
}

// Reports

// Report builds the weekly or monthly report at the current time.
func (s *BudgetService) Report(ctx context.Context, kind report.Kind) (report.Report, error) {
	now := s.now()
	key := fmt.Sprintf("%s:%s:%d", kind, now.Format("2006-01-02"), s.store.Version())
	if r, ok := s.reports.Get(key); ok {
		return r, nil
	}
	r, err := report.Build(kind, now, store.Select[core.Transaction](s.store, nil), s.Categories())
	if err != nil {
		return report.Report{}, err
	}
	s.reports.Set(key, r)
	slog.DebugContext(ctx, "Report built", "kind", kind, "title", r.Title)
	return r, nil
}

// ExportReport appends the current report of kind to the configured sheet
// and returns the written row reference.
func (s *BudgetService) ExportReport(ctx context.Context, kind report.Kind) (string, error) {
	if s.exporter == nil {
		return "", ErrExportDisabled
	}
	if _, err := s.Session(ctx); err != nil {
		return "", err
	}
	r, err := s.Report(ctx, kind)
	if err != nil {
		return "", err
	}
	ref, err := s.exporter.AppendReport(ctx, r)
	if err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	slog.InfoContext(ctx, "Report exported", "kind", kind, "ref", ref)
	return ref, nil
}

// Sync

// Sync pushes local changes for the signed-in account and merges the remote
// state back. Limits are re-evaluated against the merged data.
func (s *BudgetService) Sync(ctx context.Context) (SyncResult, error) {
	if s.sync == nil {
		return SyncResult{}, ErrSyncDisabled
	}
	id, err := s.auth.Identity(ctx)
	if err != nil {
		failure := &SyncFailure{Account: core.NormalizeEmail(id.Email), Phase: PhaseAuth, Err: err}
		s.sync.RecordFailure(ctx, failure.Account, failure)
		return SyncResult{}, failure
	}
	res, err := s.sync.Sync(ctx, id.Email, s.store)
	if err != nil {
		return res, err
	}
	if res.Merge.Adopted > 0 {
		s.refreshLimits(ctx)
	}
	return res, nil
}

func (s *BudgetService) SyncStatus(ctx context.Context) (SyncStatus, error) {
	if s.sync == nil {
		return SyncStatus{}, ErrSyncDisabled
	}
	sess, err := s.Session(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	return s.sync.Status(sess.Email), nil
}
