package core

import (
	"sort"
	"time"
)

// SnapshotVersion is written with every exported snapshot.
const SnapshotVersion = 1

// Tombstone records an explicit local deletion not yet applied remotely.
type Tombstone struct {
	Table     Table
	ID        int64
	DeletedAt time.Time
}

// Snapshot is a full export of the local tables at one point in time.
type Snapshot struct {
	Version           int
	TakenAt           time.Time
	Categories        []Category
	Members           []FamilyMember
	Transactions      []Transaction
	RecurringPayments []RecurringPayment
	CategoryLimits    []CategoryLimit
	Invites           []CollaborationInvite
	Tombstones        []Tombstone
}

// Entities returns the records of one table.
func (s Snapshot) Entities(t Table) []Entity {
	var out []Entity
	switch t {
	case TableCategories:
		for _, e := range s.Categories {
			out = append(out, e)
		}
	case TableMembers:
		for _, e := range s.Members {
			out = append(out, e)
		}
	case TableTransactions:
		for _, e := range s.Transactions {
			out = append(out, e)
		}
	case TableRecurringPayments:
		for _, e := range s.RecurringPayments {
			out = append(out, e)
		}
	case TableCategoryLimits:
		for _, e := range s.CategoryLimits {
			out = append(out, e)
		}
	case TableInvites:
		for _, e := range s.Invites {
			out = append(out, e)
		}
	}
	return out
}

// Add appends e to the slice for its table.
func (s *Snapshot) Add(e Entity) {
	switch v := e.(type) {
	case Category:
		s.Categories = append(s.Categories, v)
	case FamilyMember:
		s.Members = append(s.Members, v)
	case Transaction:
		s.Transactions = append(s.Transactions, v)
	case RecurringPayment:
		s.RecurringPayments = append(s.RecurringPayments, v)
	case CategoryLimit:
		s.CategoryLimits = append(s.CategoryLimits, v)
	case CollaborationInvite:
		s.Invites = append(s.Invites, v)
	}
}

// Count returns the number of records per table.
func (s Snapshot) Count() map[Table]int {
	out := make(map[Table]int, len(Tables))
	for _, t := range Tables {
		out[t] = len(s.Entities(t))
	}
	return out
}

// Sort orders every table by id so that snapshots compare deterministically.
func (s *Snapshot) Sort() {
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].ID < s.Categories[j].ID })
	sort.Slice(s.Members, func(i, j int) bool { return s.Members[i].ID < s.Members[j].ID })
	sort.Slice(s.Transactions, func(i, j int) bool { return s.Transactions[i].ID < s.Transactions[j].ID })
	sort.Slice(s.RecurringPayments, func(i, j int) bool { return s.RecurringPayments[i].ID < s.RecurringPayments[j].ID })
	sort.Slice(s.CategoryLimits, func(i, j int) bool { return s.CategoryLimits[i].ID < s.CategoryLimits[j].ID })
	sort.Slice(s.Invites, func(i, j int) bool { return s.Invites[i].ID < s.Invites[j].ID })
}
