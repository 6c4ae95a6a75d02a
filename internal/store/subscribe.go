package store

import (
	"context"
	"slices"

	"bilancio/internal/core"
)

// View is a consistent copy of the watched tables.
type View struct {
	Version uint64
	Tables  map[core.Table][]core.Entity
}

// Records returns the records of one watched table.
func (v View) Records(t core.Table) []core.Entity { return v.Tables[t] }

type subscription struct {
	tables []core.Table
	ch     chan View
}

func (sub *subscription) watches(t core.Table) bool {
	return slices.Contains(sub.tables, t)
}

// Subscribe streams views of the given tables, or of every table when none
// are named. The current view is delivered first and a new one follows every
// mutation touching a watched table. A slow reader only sees the latest view.
// The channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context, tables ...core.Table) <-chan View {
	if len(tables) == 0 {
		tables = core.Tables
	}
	sub := &subscription{tables: slices.Clone(tables), ch: make(chan View, 1)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.ch <- s.viewLocked(sub.tables)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch
}

func (s *Store) viewLocked(tables []core.Table) View {
	v := View{Version: s.version, Tables: make(map[core.Table][]core.Entity, len(tables))}
	for _, t := range tables {
		v.Tables[t] = s.sortedLocked(t)
	}
	return v
}

// changed bumps the version and publishes to subscribers of table. Callers
// hold the write lock.
func (s *Store) changed(table core.Table) {
	s.version++
	for sub := range s.subs {
		if !sub.watches(table) {
			continue
		}
		v := s.viewLocked(sub.tables)
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- v
	}
}
