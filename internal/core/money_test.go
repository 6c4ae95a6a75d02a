package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		1234:   "12.34",
		100000: "1000.00",
		-250:   "-2.50",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Errorf("Money{%d}.String() = %q, want %q", cents, got, want)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -5}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestMoneyUnmarshalJSON(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{`"12.34"`, 1234, true},
		{`12.5`, 1250, true},
		{`"0.00"`, 0, true},
		{`"-12.50"`, -1250, true},
		{`"12,3"`, 1230, true},
		{`"abc"`, 0, false},
		{`true`, 0, false},
	}
	for _, tc := range cases {
		var m Money
		err := m.UnmarshalJSON([]byte(tc.in))
		if tc.ok && (err != nil || m.Cents != tc.out) {
			t.Fatalf("%s expected %d, got %d (err=%v)", tc.in, tc.out, m.Cents, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.in)
		}
	}
}
