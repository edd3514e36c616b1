package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the precision of every Fix value.
const Decimals = 18

var (
	// ErrOverflow is raised (as a panic value) when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixed point: overflow")
	// ErrUnderflow is raised (as a panic value) when Sub would go below zero.
	ErrUnderflow = errors.New("fixed point: underflow")
	// ErrDivByZero is raised (as a panic value) on division by zero.
	ErrDivByZero = errors.New("fixed point: division by zero")

	ErrNegative     = errors.New("fixed point: negative value")
	ErrTooPrecise   = errors.New("fixed point: more than 18 decimal places")
	ErrInvalidInput = errors.New("fixed point: invalid number")
)

// RoundingMode selects how a division remainder is handled.
type RoundingMode int

const (
	RoundDown   RoundingMode = iota // FLOOR
	RoundHalfUp                     // ROUND
	RoundUp                         // CEIL
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "FLOOR"
	case RoundHalfUp:
		return "ROUND"
	case RoundUp:
		return "CEIL"
	default:
		return "UNKNOWN"
	}
}

var (
	scale    = uint256.NewInt(1_000_000_000_000_000_000)
	oneRaw   = uint256.NewInt(1)
	tenRaw   = uint256.NewInt(10)
	maxValue = new(uint256.Int).SetAllOne()
)

// Fix is an unsigned 18-decimal fixed-point number. The zero value is 0.
// Fix is a value type: it can be copied, compared with == and used as a map value.
type Fix struct {
	v uint256.Int
}

var (
	Zero = Fix{}
	One  = Fix{v: *scale}
	// Inf is the largest representable value, used as a "never" sentinel.
	Inf = Fix{v: *maxValue}
)

// NewFix returns n whole units.
func NewFix(n uint64) Fix {
	var f Fix
	f.v.Mul(uint256.NewInt(n), scale)
	return f
}

// Ratio returns num/den with the given rounding.
func Ratio(num, den uint64, mode RoundingMode) Fix {
	return Fix{v: mulDiv(uint256.NewInt(num), scale, uint256.NewInt(den), mode)}
}

// FromRaw wraps an already-scaled integer.
func FromRaw(raw *uint256.Int) Fix {
	var f Fix
	f.v.Set(raw)
	return f
}

// Raw returns a copy of the scaled integer.
func (a Fix) Raw() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

// FromString parses a non-negative decimal string such as "1.05".
func FromString(s string) (Fix, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidInput, s)
	}
	return FromDecimal(d)
}

// MustParse is FromString for constants and tests.
func MustParse(s string) Fix {
	f, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FromDecimal converts an exact decimal into Fix.
func FromDecimal(d decimal.Decimal) (Fix, error) {
	if d.IsNegative() {
		return Zero, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return Zero, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	raw, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return Zero, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return Fix{v: *raw}, nil
}

// Decimal renders the exact value as a shopspring decimal.
func (a Fix) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), -Decimals)
}

func (a Fix) String() string {
	if a == Inf {
		return "inf"
	}
	return a.Decimal().String()
}

// MarshalText encodes the value as its decimal string.
func (a Fix) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Fix) UnmarshalText(b []byte) error {
	if string(b) == "inf" {
		*a = Inf
		return nil
	}
	f, err := FromString(string(b))
	if err != nil {
		return err
	}
	*a = f
	return nil
}

// --- Arithmetic ---

func (a Fix) Add(b Fix) Fix {
	var r Fix
	if _, overflow := r.v.AddOverflow(&a.v, &b.v); overflow {
		panic(ErrOverflow)
	}
	return r
}

// Sub panics when b > a; callers compare first.
func (a Fix) Sub(b Fix) Fix {
	var r Fix
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		panic(ErrUnderflow)
	}
	return r
}

// SubSat returns max(a-b, 0).
func (a Fix) SubSat(b Fix) Fix {
	if a.Lte(b) {
		return Zero
	}
	return a.Sub(b)
}

// Mul returns a*b.
func (a Fix) Mul(b Fix, mode RoundingMode) Fix {
	return Fix{v: mulDiv(&a.v, &b.v, scale, mode)}
}

// Div returns a/b.
func (a Fix) Div(b Fix, mode RoundingMode) Fix {
	return Fix{v: mulDiv(&a.v, scale, &b.v, mode)}
}

// MulDiv returns a*b/c with a 512-bit intermediate.
func (a Fix) MulDiv(b, c Fix, mode RoundingMode) Fix {
	return Fix{v: mulDiv(&a.v, &b.v, &c.v, mode)}
}

func (a Fix) Cmp(b Fix) int  { return a.v.Cmp(&b.v) }
func (a Fix) Lt(b Fix) bool  { return a.v.Lt(&b.v) }
func (a Fix) Gt(b Fix) bool  { return a.v.Gt(&b.v) }
func (a Fix) Lte(b Fix) bool { return !a.v.Gt(&b.v) }
func (a Fix) Gte(b Fix) bool { return !a.v.Lt(&b.v) }
func (a Fix) IsZero() bool   { return a.v.IsZero() }

func Min(a, b Fix) Fix {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b Fix) Fix {
	if a.Gt(b) {
		return a
	}
	return b
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b Fix) Fix {
	if a.Gt(b) {
		return a.Sub(b)
	}
	return b.Sub(a)
}

// --- Token quanta ---

// ToQuanta converts whole tokens into integer token units for a token with the
// given decimals.
func (a Fix) ToQuanta(decimals uint8, mode RoundingMode) *uint256.Int {
	if decimals == Decimals {
		return a.Raw()
	}
	if decimals < Decimals {
		f := pow10(Decimals - decimals)
		r := mulDiv(&a.v, oneRaw, f, mode)
		return &r
	}
	r := mulDiv(&a.v, pow10(decimals-Decimals), oneRaw, RoundDown)
	return &r
}

// FromQuanta converts integer token units into whole tokens.
func FromQuanta(q *uint256.Int, decimals uint8) Fix {
	if decimals <= Decimals {
		return Fix{v: mulDiv(q, pow10(Decimals-decimals), oneRaw, RoundDown)}
	}
	return Fix{v: mulDiv(q, oneRaw, pow10(decimals-Decimals), RoundDown)}
}

// BigInt returns the scaled integer as a big.Int, for NUMERIC storage.
func (a Fix) BigInt() *big.Int {
	return a.v.ToBig()
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(tenRaw, uint256.NewInt(uint64(n)))
}

// mulDiv computes x*y/d with the requested rounding.
func mulDiv(x, y, d *uint256.Int, mode RoundingMode) uint256.Int {
	if d.IsZero() {
		panic(ErrDivByZero)
	}

	var q uint256.Int
	if _, overflow := q.MulDivOverflow(x, y, d); overflow {
		panic(ErrOverflow)
	}
	if mode == RoundDown {
		return q
	}

	var rem uint256.Int
	rem.MulMod(x, y, d)
	if rem.IsZero() {
		return q
	}

	roundUp := mode == RoundUp
	if mode == RoundHalfUp {
		var rest uint256.Int
		rest.Sub(d, &rem)
		roundUp = !rem.Lt(&rest)
	}
	if roundUp {
		if _, overflow := q.AddOverflow(&q, oneRaw); overflow {
			panic(ErrOverflow)
		}
	}
	return q
}
