package snapshot

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"bilancio/internal/core"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

func TestEncodeDecodeEntities(t *testing.T) {
	entities := []core.Entity{
		core.Category{ID: 1, Name: "Groceries", Color: "#00ff00", UpdatedAt: ms(1_700_000_000_000)},
		core.FamilyMember{ID: 2, Name: "Ada", Email: "ada@x.com", Role: core.RoleEditor, UpdatedAt: ms(1_700_000_000_001)},
		core.Transaction{ID: 3, Amount: core.Money{Cents: 1234}, Note: "milk", CategoryID: 1, MemberID: 2, Date: ms(1_700_000_000_500), UpdatedAt: ms(1_700_000_000_002)},
		core.Transaction{ID: 4, Amount: core.Money{Cents: 250000}, IsIncome: true, Date: ms(1_700_000_000_600), UpdatedAt: ms(1_700_000_000_003)},
		core.RecurringPayment{ID: 5, Title: "Rent", Amount: core.Money{Cents: 80000}, DayOfMonth: 31, Active: true, UpdatedAt: ms(1_700_000_000_004)},
		core.CategoryLimit{ID: 6, CategoryID: 1, MonthlyLimit: core.Money{Cents: 30000}, Month: "2024-05", UpdatedAt: ms(1_700_000_000_005)},
		core.CollaborationInvite{ID: 7, Email: "a@x.com", InviterName: "Owner", Role: core.RoleViewer, Status: core.InvitePending, CreatedAt: ms(1_700_000_000_006), UpdatedAt: ms(1_700_000_000_006)},
	}
	for _, e := range entities {
		f, err := Encode(e)
		if err != nil {
			t.Fatalf("encode %T: %v", e, err)
		}
		// Documents travel as JSON, so decode from the JSON form.
		raw, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Fields
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got, err := Decode(e.EntityTable(), e.EntityID(), back)
		if err != nil {
			t.Fatalf("decode %T: %v", e, err)
		}
		if !reflect.DeepEqual(got, e) {
			t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, e)
		}
	}
}

func TestEncodeUpdatedAtIsEpochMillis(t *testing.T) {
	f, err := Encode(core.Category{ID: 1, Name: "x", UpdatedAt: ms(1_700_000_000_123)})
	if err != nil {
		t.Fatal(err)
	}
	v, ok := f[FieldUpdatedAt].(int64)
	if !ok || v != 1_700_000_000_123 {
		t.Fatalf("updatedAt = %#v", f[FieldUpdatedAt])
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name  string
		table core.Table
		f     Fields
	}{
		{"missing name", core.TableCategories, Fields{"updatedAt": int64(1)}},
		{"missing updatedAt", core.TableCategories, Fields{"name": "x"}},
		{"name not a string", core.TableCategories, Fields{"name": 7, "updatedAt": int64(1)}},
		{"amount is text", core.TableTransactions, Fields{"amount": "12", "date": int64(1), "isIncome": false, "updatedAt": int64(1)}},
		{"negative amount", core.TableTransactions, Fields{"amount": -1.0, "date": int64(1), "isIncome": false, "updatedAt": int64(1)}},
		{"missing income flag", core.TableTransactions, Fields{"amount": 1.0, "date": int64(1), "updatedAt": int64(1)}},
		{"fractional day", core.TableRecurringPayments, Fields{"title": "t", "amount": 1.0, "dayOfMonth": 1.5, "active": true, "updatedAt": int64(1)}},
		{"day out of range", core.TableRecurringPayments, Fields{"title": "t", "amount": 1.0, "dayOfMonth": 40.0, "active": true, "updatedAt": int64(1)}},
		{"bad month key", core.TableCategoryLimits, Fields{"categoryId": 1.0, "monthlyLimit": 10.0, "monthKey": "May", "updatedAt": int64(1)}},
		{"unknown status", core.TableInvites, Fields{"email": "a@x.com", "inviterName": "o", "role": "viewer", "status": "maybe", "createdAt": int64(1), "updatedAt": int64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.table, 1, tc.f); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeUnknownTable(t *testing.T) {
	if _, err := Decode("nope", 1, Fields{}); !errors.Is(err, core.ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestParseRecordKey(t *testing.T) {
	if id, err := ParseRecordKey(RecordKey(42)); err != nil || id != 42 {
		t.Fatalf("got %d, %v", id, err)
	}
	for _, k := range []string{"", "abc", "0", "-3"} {
		if _, err := ParseRecordKey(k); !errors.Is(err, ErrMalformed) {
			t.Fatalf("key %q: expected ErrMalformed, got %v", k, err)
		}
	}
}

func TestUpdatedAt(t *testing.T) {
	if got, ok := UpdatedAt(Fields{"updatedAt": float64(1_700_000_000_123)}); !ok || got.UnixMilli() != 1_700_000_000_123 {
		t.Fatalf("got %v, %v", got, ok)
	}
	if _, ok := UpdatedAt(Fields{"updatedAt": "yesterday"}); ok {
		t.Fatalf("expected failure for string updatedAt")
	}
}
