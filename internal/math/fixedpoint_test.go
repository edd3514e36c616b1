package math_test

import (
	fpmath "RTokenLedger/internal/math"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

// ============================================================================
// Test: parsing and formatting
// ============================================================================

func TestFromString_RoundTrip(t *testing.T) {
	cases := []string{"0", "1", "1.05", "0.000000000000000001", "123456789.123456789"}
	for _, s := range cases {
		f, err := fpmath.FromString(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if f.String() != s {
			t.Errorf("got %q, want %q", f.String(), s)
		}
	}
}

func TestFromString_Rejects(t *testing.T) {
	if _, err := fpmath.FromString("-1"); !errors.Is(err, fpmath.ErrNegative) {
		t.Errorf("negative: got %v", err)
	}
	if _, err := fpmath.FromString("0.0000000000000000001"); !errors.Is(err, fpmath.ErrTooPrecise) {
		t.Errorf("19 decimals: got %v", err)
	}
	if _, err := fpmath.FromString("abc"); !errors.Is(err, fpmath.ErrInvalidInput) {
		t.Errorf("garbage: got %v", err)
	}
}

func TestUnmarshalText_Inf(t *testing.T) {
	var f fpmath.Fix
	if err := f.UnmarshalText([]byte("inf")); err != nil {
		t.Fatal(err)
	}
	if f != fpmath.Inf {
		t.Errorf("expected Inf, got %s", f)
	}
	out, _ := f.MarshalText()
	if string(out) != "inf" {
		t.Errorf("got %q", out)
	}
}

// ============================================================================
// Test: rounding modes
// ============================================================================

func TestDiv_Rounding(t *testing.T) {
	one := fpmath.NewFix(1)
	three := fpmath.NewFix(3)

	floor := one.Div(three, fpmath.RoundDown)
	ceil := one.Div(three, fpmath.RoundUp)
	round := one.Div(three, fpmath.RoundHalfUp)

	if floor.String() != "0.333333333333333333" {
		t.Errorf("floor: got %s", floor)
	}
	if ceil.String() != "0.333333333333333334" {
		t.Errorf("ceil: got %s", ceil)
	}
	if round != floor {
		t.Errorf("round: got %s, want %s", round, floor)
	}

	two := fpmath.NewFix(2)
	if got := two.Div(three, fpmath.RoundHalfUp).String(); got != "0.666666666666666667" {
		t.Errorf("round 2/3: got %s", got)
	}
}

func TestMul_ExactHasNoRounding(t *testing.T) {
	a := fpmath.MustParse("1.5")
	b := fpmath.MustParse("2")
	for _, mode := range []fpmath.RoundingMode{fpmath.RoundDown, fpmath.RoundHalfUp, fpmath.RoundUp} {
		if got := a.Mul(b, mode); got != fpmath.NewFix(3) {
			t.Errorf("%s: got %s", mode, got)
		}
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// 1e30 * 1e30 / 1e30 overflows 256 bits only without a wide intermediate
	big := fpmath.MustParse("1000000000000000000000000000000")
	got := big.MulDiv(big, big, fpmath.RoundDown)
	if got != big {
		t.Errorf("got %s", got)
	}
}

func TestSub_UnderflowPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r != fpmath.ErrUnderflow {
			t.Errorf("expected ErrUnderflow panic, got %v", r)
		}
	}()
	fpmath.NewFix(1).Sub(fpmath.NewFix(2))
}

func TestSubSat(t *testing.T) {
	if !fpmath.NewFix(1).SubSat(fpmath.NewFix(2)).IsZero() {
		t.Error("expected zero")
	}
	if fpmath.NewFix(5).SubSat(fpmath.NewFix(2)) != fpmath.NewFix(3) {
		t.Error("expected 3")
	}
}

func TestDiv_ByZeroPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != fpmath.ErrDivByZero {
			t.Errorf("expected ErrDivByZero panic, got %v", r)
		}
	}()
	fpmath.One.Div(fpmath.Zero, fpmath.RoundDown)
}

// ============================================================================
// Test: token quanta
// ============================================================================

func TestToQuanta_SixDecimals(t *testing.T) {
	f := fpmath.MustParse("1.0000005")
	if got := f.ToQuanta(6, fpmath.RoundDown); got.Uint64() != 1_000_000 {
		t.Errorf("floor: got %d", got.Uint64())
	}
	if got := f.ToQuanta(6, fpmath.RoundUp); got.Uint64() != 1_000_001 {
		t.Errorf("ceil: got %d", got.Uint64())
	}
}

func TestFromQuanta(t *testing.T) {
	got := fpmath.FromQuanta(uint256.NewInt(2_500_000), 6)
	if got != fpmath.MustParse("2.5") {
		t.Errorf("got %s", got)
	}
	got = fpmath.FromQuanta(uint256.NewInt(1), 18)
	if got.String() != "0.000000000000000001" {
		t.Errorf("got %s", got)
	}
}

func TestMinMaxAbsDiff(t *testing.T) {
	a, b := fpmath.NewFix(2), fpmath.NewFix(7)
	if fpmath.Min(a, b) != a || fpmath.Max(a, b) != b {
		t.Error("min/max wrong")
	}
	if fpmath.AbsDiff(a, b) != fpmath.NewFix(5) || fpmath.AbsDiff(b, a) != fpmath.NewFix(5) {
		t.Error("absdiff wrong")
	}
}
