package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWireAmountMatchesStoredTotal(t *testing.T) {
	cases := []struct {
		wire   string
		stored string
	}{
		{"1234.56", "1234.56"},
		{"1234.5", "1234.50"},
		{"50", "50.00"},
		{"1,234.56", "1234.56"},
	}
	for _, tc := range cases {
		wire, err := ParseWalletAmount(tc.wire)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.wire, err)
		}
		stored, err := StringToCents(tc.stored)
		if err != nil {
			t.Fatalf("stored %q: %v", tc.stored, err)
		}
		if ToCents(wire) != stored {
			t.Fatalf("expected %q == %q in cents, got %d vs %d", tc.wire, tc.stored, ToCents(wire), stored)
		}
	}
}

func TestWireAmountMismatch(t *testing.T) {
	wire, err := ParseWalletAmount("49.99")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stored, _ := StringToCents("50.00")
	if ToCents(wire) == stored {
		t.Fatalf("expected 49.99 and 50.00 to differ")
	}
}

func TestStringToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"50.00", 5000},
		{"50.000", 5000},
		{"50.004", 5000},
		{"50.005", 5001},
		{"1,234.5", 123450},
		{" 7 ", 700},
	}
	for _, tc := range cases {
		got, err := StringToCents(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("expected %q -> %d, got %d", tc.in, tc.want, got)
		}
	}
	for _, in := range []string{"", "abc", "1,2345", "12,34.00"} {
		if _, err := StringToCents(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", in, err)
		}
	}
}

func TestParseWalletAmountRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "-1", "1e3", "1.234", "12,34.00", "abc", "1,2345"} {
		if _, err := ParseWalletAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", in, err)
		}
	}
}

func TestToCentsRoundsHalfAwayFromZero(t *testing.T) {
	if got := ToCents(decimal.RequireFromString("0.005")); got != 1 {
		t.Fatalf("expected 0.005 -> 1 cent, got %d", got)
	}
	if got := ToCents(decimal.RequireFromString("0.004")); got != 0 {
		t.Fatalf("expected 0.004 -> 0 cent, got %d", got)
	}
}

func TestTotal(t *testing.T) {
	got := Total(decimal.RequireFromString("19.99"), 3)
	if Format(got) != "59.97" {
		t.Fatalf("expected 59.97, got %s", Format(got))
	}
}
