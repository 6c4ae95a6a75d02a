package core

import (
	"errors"
	"fmt"
	"time"
)

// MonthKey identifies a calendar month as "YYYY-MM".
type MonthKey string

var ErrInvalidMonthKey = errors.New("invalid month key")

const monthKeyLayout = "2006-01"

// MonthOf returns the month key of t in t's location.
func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthKeyLayout))
}

// ParseMonthKey validates and returns s as a MonthKey.
func ParseMonthKey(s string) (MonthKey, error) {
	k := MonthKey(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k MonthKey) Validate() error {
	if _, err := time.Parse(monthKeyLayout, string(k)); err != nil {
		return ErrInvalidMonthKey
	}
	return nil
}

// Start returns midnight of the first day of the month in loc.
func (k MonthKey) Start(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month key %q: %w", k, ErrInvalidMonthKey)
	}
	return t, nil
}

// Previous returns the key of the preceding month.
func (k MonthKey) Previous() MonthKey {
	t, err := time.Parse(monthKeyLayout, string(k))
	if err != nil {
		return k
	}
	return MonthOf(t.AddDate(0, -1, 0))
}
