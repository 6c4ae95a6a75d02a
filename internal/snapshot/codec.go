// Package snapshot converts domain entities to and from the flat field maps
// stored as remote documents.
//
// Timestamps travel as integer epoch milliseconds and amounts as decimal
// currency units. Decoding is strict about shape so that callers can skip
// records written by misbehaving clients.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

// Fields is the flat document body of one record.
type Fields map[string]any

// ErrMalformed marks a remote record that is missing or has mistyped fields.
var ErrMalformed = errors.New("malformed record")

// FieldUpdatedAt is present on every record.
const FieldUpdatedAt = "updatedAt"

// Encode returns the document body for e.
func Encode(e core.Entity) (Fields, error) {
	switch v := e.(type) {
	case core.Category:
		return Fields{
			"name":         v.Name,
			"color":        v.Color,
			FieldUpdatedAt: millis(v.UpdatedAt),
		}, nil
	case core.FamilyMember:
		return Fields{
			"name":         v.Name,
			"email":        v.Email,
			"role":         string(v.Role),
			FieldUpdatedAt: millis(v.UpdatedAt),
		}, nil
	case core.Transaction:
		f := Fields{
			"amount":       amount(v.Amount),
			"note":         v.Note,
			"date":         millis(v.Date),
			"isIncome":     v.IsIncome,
			FieldUpdatedAt: millis(v.UpdatedAt),
		}
		if v.CategoryID != 0 {
			f["categoryId"] = v.CategoryID
		}
		if v.MemberID != 0 {
			f["memberId"] = v.MemberID
		}
		return f, nil
	case core.RecurringPayment:
		f := Fields{
			"title":        v.Title,
			"amount":       amount(v.Amount),
			"dayOfMonth":   int64(v.DayOfMonth),
			"active":       v.Active,
			FieldUpdatedAt: millis(v.UpdatedAt),
		}
		if v.CategoryID != 0 {
			f["categoryId"] = v.CategoryID
		}
		return f, nil
	case core.CategoryLimit:
		return Fields{
			"categoryId":   v.CategoryID,
			"monthlyLimit": amount(v.MonthlyLimit),
			"monthKey":     string(v.Month),
			FieldUpdatedAt: millis(v.UpdatedAt),
		}, nil
	case core.CollaborationInvite:
		return Fields{
			"email":        v.Email,
			"inviterName":  v.InviterName,
			"role":         string(v.Role),
			"status":       string(v.Status),
			"createdAt":    millis(v.CreatedAt),
			FieldUpdatedAt: millis(v.UpdatedAt),
		}, nil
	}
	return nil, fmt.Errorf("encode %T: %w", e, core.ErrUnknownTable)
}

// Decode rebuilds the entity stored under table/id. Any missing required
// field, wrong type or failed validation yields an error wrapping ErrMalformed.
func Decode(table core.Table, id int64, f Fields) (core.Entity, error) {
	d := decoder{f: f}
	var e core.Entity
	switch table {
	case core.TableCategories:
		e = core.Category{
			ID:        id,
			Name:      d.str("name", true),
			Color:     d.str("color", false),
			UpdatedAt: d.timestamp(FieldUpdatedAt, true),
		}
	case core.TableMembers:
		e = core.FamilyMember{
			ID:        id,
			Name:      d.str("name", true),
			Email:     d.str("email", true),
			Role:      core.Role(d.str("role", true)),
			UpdatedAt: d.timestamp(FieldUpdatedAt, true),
		}
	case core.TableTransactions:
		e = core.Transaction{
			ID:         id,
			Amount:     d.money("amount", true),
			Note:       d.str("note", false),
			CategoryID: d.integer("categoryId", false),
			MemberID:   d.integer("memberId", false),
			Date:       d.timestamp("date", true),
			IsIncome:   d.boolean("isIncome", true),
			UpdatedAt:  d.timestamp(FieldUpdatedAt, true),
		}
	case core.TableRecurringPayments:
		e = core.RecurringPayment{
			ID:         id,
			Title:      d.str("title", true),
			Amount:     d.money("amount", true),
			DayOfMonth: int(d.integer("dayOfMonth", true)),
			CategoryID: d.integer("categoryId", false),
			Active:     d.boolean("active", true),
			UpdatedAt:  d.timestamp(FieldUpdatedAt, true),
		}
	case core.TableCategoryLimits:
		e = core.CategoryLimit{
			ID:           id,
			CategoryID:   d.integer("categoryId", true),
			MonthlyLimit: d.money("monthlyLimit", true),
			Month:        core.MonthKey(d.str("monthKey", true)),
			UpdatedAt:    d.timestamp(FieldUpdatedAt, true),
		}
	case core.TableInvites:
		e = core.CollaborationInvite{
			ID:          id,
			Email:       d.str("email", true),
			InviterName: d.str("inviterName", true),
			Role:        core.Role(d.str("role", true)),
			Status:      core.InviteStatus(d.str("status", true)),
			CreatedAt:   d.timestamp("createdAt", true),
			UpdatedAt:   d.timestamp(FieldUpdatedAt, true),
		}
	default:
		return nil, fmt.Errorf("decode %s: %w", table, core.ErrUnknownTable)
	}
	if d.err != nil {
		return nil, fmt.Errorf("%s/%d: %w", table, id, d.err)
	}
	if v, ok := e.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s/%d: %w: %v", table, id, ErrMalformed, err)
		}
	}
	return e, nil
}

// UpdatedAt reads the updatedAt of a document body without decoding the rest.
func UpdatedAt(f Fields) (time.Time, bool) {
	d := decoder{f: f}
	t := d.timestamp(FieldUpdatedAt, true)
	return t, d.err == nil
}

// RecordKey is the stringified identity used as the document name.
func RecordKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseRecordKey is the inverse of RecordKey.
func ParseRecordKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("record key %q: %w", key, ErrMalformed)
	}
	return id, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func amount(m core.Money) float64 {
	f, _ := m.Decimal().Float64()
	return f
}

// decoder records the first problem and keeps returning zero values after it.
type decoder struct {
	f   Fields
	err error
}

func (d *decoder) fail(key, problem string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %q %s", ErrMalformed, key, problem)
	}
}

func (d *decoder) lookup(key string, required bool) (any, bool) {
	v, ok := d.f[key]
	if !ok || v == nil {
		if required {
			d.fail(key, "missing")
		}
		return nil, false
	}
	return v, true
}

func (d *decoder) str(key string, required bool) string {
	v, ok := d.lookup(key, required)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(key, "is not a string")
	}
	return s
}

func (d *decoder) boolean(key string, required bool) bool {
	v, ok := d.lookup(key, required)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.fail(key, "is not a bool")
	}
	return b
}

func (d *decoder) number(key string, required bool) (decimal.Decimal, bool) {
	v, ok := d.lookup(key, required)
	if !ok {
		return decimal.Zero, false
	}
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			break
		}
		return decimal.NewFromFloat(n), true
	case json.Number:
		if dec, err := decimal.NewFromString(n.String()); err == nil {
			return dec, true
		}
	}
	d.fail(key, "is not a number")
	return decimal.Zero, false
}

func (d *decoder) integer(key string, required bool) int64 {
	n, ok := d.number(key, required)
	if !ok {
		return 0
	}
	if !n.IsInteger() {
		d.fail(key, "is not an integer")
		return 0
	}
	return n.IntPart()
}

func (d *decoder) money(key string, required bool) core.Money {
	n, ok := d.number(key, required)
	if !ok {
		return core.Money{}
	}
	return core.Money{Cents: n.Shift(2).Round(0).IntPart()}
}

func (d *decoder) timestamp(key string, required bool) time.Time {
	ms := d.integer(key, required)
	if ms == 0 {
		if required && d.err == nil {
			d.fail(key, "is zero")
		}
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
