// Package store is the in-memory domain store.
//
// All mutations are serialized behind one lock; readers receive copies. When a
// Persister is configured every mutation is written through before it becomes
// visible, so a restarted process can reload the same tables.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bilancio/internal/core"
)

// Persister is the durable backing of a Store.
type Persister interface {
	Load(ctx context.Context) ([]core.Entity, []core.Tombstone, error)
	Save(ctx context.Context, e core.Entity) error
	Remove(ctx context.Context, table core.Table, id int64) error
	SaveTombstone(ctx context.Context, t core.Tombstone) error
	ClearTombstone(ctx context.Context, table core.Table, id int64) error
}

type key struct {
	table core.Table
	id    int64
}

type Store struct {
	mu         sync.RWMutex
	tables     map[core.Table]map[int64]core.Entity
	tombstones map[key]core.Tombstone
	maxID      map[core.Table]int64
	version    uint64
	subs       map[*subscription]struct{}
	persister  Persister
}

// New returns an empty store without durable backing.
func New() *Store {
	s := &Store{
		tables:     make(map[core.Table]map[int64]core.Entity, len(core.Tables)),
		tombstones: make(map[key]core.Tombstone),
		maxID:      make(map[core.Table]int64, len(core.Tables)),
		subs:       make(map[*subscription]struct{}),
	}
	for _, t := range core.Tables {
		s.tables[t] = make(map[int64]core.Entity)
	}
	return s
}

// Open loads every record from p and returns a store writing through to it.
func Open(ctx context.Context, p Persister) (*Store, error) {
	s := New()
	entities, tombstones, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	for _, e := range entities {
		tbl, ok := s.tables[e.EntityTable()]
		if !ok {
			return nil, fmt.Errorf("load %s/%d: %w", e.EntityTable(), e.EntityID(), core.ErrUnknownTable)
		}
		tbl[e.EntityID()] = e
		s.track(e.EntityTable(), e.EntityID())
	}
	for _, t := range tombstones {
		s.tombstones[key{t.Table, t.ID}] = t
		s.track(t.Table, t.ID)
	}
	s.persister = p
	slog.InfoContext(ctx, "Domain store loaded", "records", len(entities), "tombstones", len(tombstones))
	return s, nil
}

func (s *Store) track(table core.Table, id int64) {
	if id > s.maxID[table] {
		s.maxID[table] = id
	}
}

// Version increases on every change to any table.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Upsert inserts e or replaces the record with the same identity. A zero id
// is assigned the next free id of the table. The stored entity is returned.
//
// Category limits are unique per (category, month): the write with the newer
// updatedAt wins and the loser is removed. Writing a limit older than the one
// it conflicts with fails with core.ErrStaleWrite.
func (s *Store) Upsert(ctx context.Context, e core.Entity) (core.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ctx, e)
}

// UpsertIfNewer stores e only if it is strictly newer than the local record
// and than any local tombstone for the same identity. It reports whether the
// write happened. The comparison uses the local state at call time.
func (s *Store) UpsertIfNewer(ctx context.Context, e core.Entity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[e.EntityTable()]
	if !ok {
		return false, fmt.Errorf("upsert %s: %w", e.EntityTable(), core.ErrUnknownTable)
	}
	if local, ok := tbl[e.EntityID()]; ok && !e.Updated().After(local.Updated()) {
		return false, nil
	}
	if ts, ok := s.tombstones[key{e.EntityTable(), e.EntityID()}]; ok && !e.Updated().After(ts.DeletedAt) {
		return false, nil
	}
	if _, err := s.upsertLocked(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) upsertLocked(ctx context.Context, e core.Entity) (core.Entity, error) {
	table := e.EntityTable()
	tbl, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("upsert %s: %w", table, core.ErrUnknownTable)
	}
	if e.EntityID() == 0 {
		e = withID(e, s.maxID[table]+1)
	}
	id := e.EntityID()
	if prev, ok := tbl[id]; ok && prev == e {
		return e, nil
	}

	var displaced []int64
	if l, ok := e.(core.CategoryLimit); ok {
		for _, other := range tbl {
			o := other.(core.CategoryLimit)
			if o.ID == l.ID || o.CategoryID != l.CategoryID || o.Month != l.Month {
				continue
			}
			if l.UpdatedAt.Before(o.UpdatedAt) {
				return nil, fmt.Errorf("upsert limit %d for category %d in %s: %w", l.ID, l.CategoryID, l.Month, core.ErrStaleWrite)
			}
			displaced = append(displaced, o.ID)
		}
	}

	if s.persister != nil {
		if err := s.persister.Save(ctx, e); err != nil {
			return nil, fmt.Errorf("persist %s/%d: %w", table, id, err)
		}
	}
	tbl[id] = e
	s.track(table, id)
	if ts, ok := s.tombstones[key{table, id}]; ok && e.Updated().After(ts.DeletedAt) {
		s.dropTombstoneLocked(ctx, ts)
	}
	for _, other := range displaced {
		if err := s.deleteLocked(ctx, table, other, e.Updated()); err != nil {
			return nil, err
		}
	}
	s.changed(table)
	return e, nil
}

// Delete removes a record and leaves a tombstone for the next push. Records
// referencing it are detached: transactions and recurring payments lose their
// category, transactions lose their member and the category's limits are
// deleted. Detached records get a bumped updatedAt.
func (s *Store) Delete(ctx context.Context, table core.Table, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("delete %s: %w", table, core.ErrUnknownTable)
	}
	if _, ok := tbl[id]; !ok {
		return fmt.Errorf("delete %s/%d: %w", table, id, core.ErrNotFound)
	}

	switch table {
	case core.TableCategories:
		for _, e := range s.sortedLocked(core.TableTransactions) {
			tx := e.(core.Transaction)
			if tx.CategoryID == id {
				tx.CategoryID = 0
				tx.UpdatedAt = core.Bump(tx.UpdatedAt, now)
				if _, err := s.upsertLocked(ctx, tx); err != nil {
					return err
				}
			}
		}
		for _, e := range s.sortedLocked(core.TableRecurringPayments) {
			rp := e.(core.RecurringPayment)
			if rp.CategoryID == id {
				rp.CategoryID = 0
				rp.UpdatedAt = core.Bump(rp.UpdatedAt, now)
				if _, err := s.upsertLocked(ctx, rp); err != nil {
					return err
				}
			}
		}
		for _, e := range s.sortedLocked(core.TableCategoryLimits) {
			if l := e.(core.CategoryLimit); l.CategoryID == id {
				if err := s.deleteLocked(ctx, core.TableCategoryLimits, l.ID, now); err != nil {
					return err
				}
			}
		}
	case core.TableMembers:
		for _, e := range s.sortedLocked(core.TableTransactions) {
			tx := e.(core.Transaction)
			if tx.MemberID == id {
				tx.MemberID = 0
				tx.UpdatedAt = core.Bump(tx.UpdatedAt, now)
				if _, err := s.upsertLocked(ctx, tx); err != nil {
					return err
				}
			}
		}
	}
	return s.deleteLocked(ctx, table, id, now)
}

func (s *Store) deleteLocked(ctx context.Context, table core.Table, id int64, now time.Time) error {
	prev, ok := s.tables[table][id]
	if !ok {
		return nil
	}
	ts := core.Tombstone{Table: table, ID: id, DeletedAt: core.Bump(prev.Updated(), now)}
	if s.persister != nil {
		if err := s.persister.Remove(ctx, table, id); err != nil {
			return fmt.Errorf("persist delete %s/%d: %w", table, id, err)
		}
		if err := s.persister.SaveTombstone(ctx, ts); err != nil {
			return fmt.Errorf("persist tombstone %s/%d: %w", table, id, err)
		}
	}
	delete(s.tables[table], id)
	s.tombstones[key{table, id}] = ts
	s.changed(table)
	return nil
}

// ClearTombstone forgets a deletion once the remote copy is gone.
func (s *Store) ClearTombstone(ctx context.Context, t core.Tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tombstones[key{t.Table, t.ID}]; ok && cur.DeletedAt.Equal(t.DeletedAt) {
		s.dropTombstoneLocked(ctx, cur)
	}
}

func (s *Store) dropTombstoneLocked(ctx context.Context, t core.Tombstone) {
	if s.persister != nil {
		if err := s.persister.ClearTombstone(ctx, t.Table, t.ID); err != nil {
			// The tombstone is cleared again after the next successful push.
			slog.WarnContext(ctx, "Failed to clear persisted tombstone", "table", t.Table, "id", t.ID, "error", err)
			return
		}
	}
	delete(s.tombstones, key{t.Table, t.ID})
}

// Tombstones returns the pending deletions ordered by table then id.
func (s *Store) Tombstones() []core.Tombstone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Tombstone, 0, len(s.tombstones))
	for _, t := range s.tombstones {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one record.
func (s *Store) Get(table core.Table, id int64) (core.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[table][id]
	return e, ok
}

// QueryAll returns the records of a table ordered by id.
func (s *Store) QueryAll(table core.Table) []core.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(table)
}

// QueryBy returns the records of a table matching pred, ordered by id.
func (s *Store) QueryBy(table core.Table, pred func(core.Entity) bool) []core.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Entity
	for _, e := range s.sortedLocked(table) {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of records in a table.
func (s *Store) Count(table core.Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Snapshot exports every table and the pending tombstones.
func (s *Store) Snapshot(now time.Time) core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := core.Snapshot{Version: core.SnapshotVersion, TakenAt: now}
	for _, t := range core.Tables {
		for _, e := range s.sortedLocked(t) {
			snap.Add(e)
		}
	}
	for _, t := range s.tombstones {
		snap.Tombstones = append(snap.Tombstones, t)
	}
	sort.Slice(snap.Tombstones, func(i, j int) bool {
		if snap.Tombstones[i].Table != snap.Tombstones[j].Table {
			return snap.Tombstones[i].Table < snap.Tombstones[j].Table
		}
		return snap.Tombstones[i].ID < snap.Tombstones[j].ID
	})
	return snap
}

func (s *Store) sortedLocked(table core.Table) []core.Entity {
	tbl := s.tables[table]
	out := make([]core.Entity, 0, len(tbl))
	for _, e := range tbl {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

func withID(e core.Entity, id int64) core.Entity {
	switch v := e.(type) {
	case core.Category:
		v.ID = id
		return v
	case core.FamilyMember:
		v.ID = id
		return v
	case core.Transaction:
		v.ID = id
		return v
	case core.RecurringPayment:
		v.ID = id
		return v
	case core.CategoryLimit:
		v.ID = id
		return v
	case core.CollaborationInvite:
		v.ID = id
		return v
	}
	return e
}
