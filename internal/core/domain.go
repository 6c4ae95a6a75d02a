package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table names double as the remote collection names under accounts/{email}/.
const (
	TableCategories        Table = "categories"
	TableMembers           Table = "members"
	TableTransactions      Table = "transactions"
	TableRecurringPayments Table = "recurring_payments"
	TableCategoryLimits    Table = "category_limits"
	TableInvites           Table = "invites"
)

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

type (
	Table string

	Role string

	// Entity is implemented by every record kept in the domain store.
	Entity interface {
		EntityID() int64
		EntityTable() Table
		Updated() time.Time
	}

	Category struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Color     string    `json:"color"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	FamilyMember struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Email     string    `json:"email"`
		Role      Role      `json:"role"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Transaction references are optional; zero means unset.
	Transaction struct {
		ID         int64     `json:"id"`
		Amount     Money     `json:"amount"`
		Note       string    `json:"note"`
		CategoryID int64     `json:"categoryId,omitempty"`
		MemberID   int64     `json:"memberId,omitempty"`
		Date       time.Time `json:"date"`
		IsIncome   bool      `json:"isIncome"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	RecurringPayment struct {
		ID         int64     `json:"id"`
		Title      string    `json:"title"`
		Amount     Money     `json:"amount"`
		DayOfMonth int       `json:"dayOfMonth"`
		CategoryID int64     `json:"categoryId,omitempty"`
		Active     bool      `json:"active"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	CategoryLimit struct {
		ID           int64     `json:"id"`
		CategoryID   int64     `json:"categoryId"`
		MonthlyLimit Money     `json:"monthlyLimit"`
		Month        MonthKey  `json:"monthKey"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}
)

// Tables lists every entity table in push/pull order.
var Tables = []Table{
	TableCategories,
	TableMembers,
	TableTransactions,
	TableRecurringPayments,
	TableCategoryLimits,
	TableInvites,
}

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyName         = errors.New("empty name")
	ErrEmptyTitle        = errors.New("empty title")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidDay        = errors.New("invalid day of month")
	ErrMissingDate       = errors.New("missing date")
	ErrMissingCategory   = errors.New("missing category")
	ErrUnknownCategory   = errors.New("unknown category")
	ErrUnknownMember     = errors.New("unknown member")
	ErrDuplicateEmail    = errors.New("email already used by another member")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNoteTooLong       = errors.New("note too long (max 200 characters)")
	ErrUnknownTable      = errors.New("unknown table")
	ErrStaleWrite        = errors.New("stale write")
	ErrInvalidLimitValue = errors.New("limit must be positive")
)

// PermissionDeniedMessage is shown whenever a viewer attempts a mutation.
const PermissionDeniedMessage = "Viewers can only look at the family budget. Ask the owner for editor access to make changes."

// ValidationError carries the offending field next to the underlying sentinel.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func (c Category) EntityID() int64    { return c.ID }
func (Category) EntityTable() Table   { return TableCategories }
func (c Category) Updated() time.Time { return c.UpdatedAt }

func (m FamilyMember) EntityID() int64    { return m.ID }
func (FamilyMember) EntityTable() Table   { return TableMembers }
func (m FamilyMember) Updated() time.Time { return m.UpdatedAt }

func (t Transaction) EntityID() int64    { return t.ID }
func (Transaction) EntityTable() Table   { return TableTransactions }
func (t Transaction) Updated() time.Time { return t.UpdatedAt }

func (r RecurringPayment) EntityID() int64    { return r.ID }
func (RecurringPayment) EntityTable() Table   { return TableRecurringPayments }
func (r RecurringPayment) Updated() time.Time { return r.UpdatedAt }

func (l CategoryLimit) EntityID() int64    { return l.ID }
func (CategoryLimit) EntityTable() Table   { return TableCategoryLimits }
func (l CategoryLimit) Updated() time.Time { return l.UpdatedAt }

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanMutate reports whether members with this role may change shared data.
func (r Role) CanMutate() bool {
	return r == RoleOwner || r == RoleEditor
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	return nil
}

func (m FamilyMember) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if !ValidEmail(m.Email) {
		return invalid("email", ErrInvalidEmail)
	}
	if !m.Role.Valid() {
		return invalid("role", ErrInvalidRole)
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return invalid("amount", err)
	}
	if t.Date.IsZero() {
		return invalid("date", ErrMissingDate)
	}
	if len(t.Note) > 200 {
		return invalid("note", ErrNoteTooLong)
	}
	return nil
}

// Month returns the month key the transaction falls in.
func (t Transaction) Month() MonthKey {
	return MonthOf(t.Date)
}

func (r RecurringPayment) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if err := r.Amount.Validate(); err != nil {
		return invalid("amount", err)
	}
	if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
		return invalid("dayOfMonth", ErrInvalidDay)
	}
	return nil
}

// DueOn reports whether the payment falls on the given calendar day. Days past
// the end of a short month are due on its last day.
func (r RecurringPayment) DueOn(day time.Time) bool {
	if !r.Active {
		return false
	}
	last := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location()).Day()
	target := r.DayOfMonth
	if target > last {
		target = last
	}
	return day.Day() == target
}

func (l CategoryLimit) Validate() error {
	if l.CategoryID == 0 {
		return invalid("categoryId", ErrMissingCategory)
	}
	if err := l.MonthlyLimit.Validate(); err != nil {
		return invalid("monthlyLimit", ErrInvalidLimitValue)
	}
	if err := l.Month.Validate(); err != nil {
		return invalid("month", err)
	}
	return nil
}

// ValidEmail performs the light shape check used for member and invite emails.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}

// NormalizeEmail lower-cases and trims an email for comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Bump returns the next updatedAt for a record last written at prev. Timestamps
// are kept at millisecond precision and never move backwards.
func Bump(prev, now time.Time) time.Time {
	now = now.Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
