package id

import (
	"math/big"
	"testing"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
)

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 18, "500000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{"42", 0, "42"},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q, %d): %v", tc.in, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ToBaseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestToBaseUnitsRejectsExcessPrecision(t *testing.T) {
	_, err := ToBaseUnits("0.0000001", 6)
	if err == nil {
		t.Fatal("expected precision error")
	}
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestToBaseUnitsRejectsNonPositive(t *testing.T) {
	for _, in := range []string{"0", "-1", "", "abc"} {
		if _, err := ToBaseUnits(in, 18); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestFromBaseUnitsRoundTrip(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000", 10)
	if got := FromBaseUnits(v, 6); got != "1.5" {
		t.Fatalf("FromBaseUnits = %s, want 1.5", got)
	}
	if got := FromBaseUnits(nil, 6); got != "0" {
		t.Fatalf("FromBaseUnits(nil) = %s, want 0", got)
	}
}

func TestNormalizeAmountExactlyOneForm(t *testing.T) {
	if _, _, err := NormalizeAmount("", "", 18); err == nil {
		t.Fatal("expected error when neither form is given")
	}
	if _, _, err := NormalizeAmount("100", "0.1", 18); err == nil {
		t.Fatal("expected error when both forms are given")
	}

	base, display, err := NormalizeAmount("1500000", "", 6)
	if err != nil {
		t.Fatalf("base form: %v", err)
	}
	if base.String() != "1500000" || display != "1.5" {
		t.Fatalf("base form = %s / %s", base, display)
	}

	base, display, err = NormalizeAmount("", "1.5", 6)
	if err != nil {
		t.Fatalf("decimal form: %v", err)
	}
	if base.String() != "1500000" || display != "1.5" {
		t.Fatalf("decimal form = %s / %s", base, display)
	}
}
