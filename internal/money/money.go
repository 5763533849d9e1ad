// Package money provides fixed-point decimal amounts with a precision
// that is chosen per equivalent rather than fixed at compile time.
//
// Amounts are stored as big.Int in the smallest unit of the equivalent
// they belong to (1 unit at precision 6 == 1,000,000 smallest-unit steps).
package money

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxPrecision bounds the number of fractional digits an Equivalent may
// declare. 18 covers every currency-like unit seen in practice while
// keeping smallest-unit arithmetic inside comfortable big.Int ranges.
const MaxPrecision = 18

// Amount is a non-negative-or-signed fixed point quantity expressed in
// the smallest unit of a single equivalent. It carries no equivalent
// identity of its own; callers are responsible for never mixing amounts
// that belong to different equivalents or precisions.
type Amount struct {
	units     *big.Int
	precision int
}

// Zero returns the additive identity at the given precision.
func Zero(precision int) Amount {
	return Amount{units: big.NewInt(0), precision: precision}
}

// FromUnits wraps an already-smallest-unit integer.
func FromUnits(units *big.Int, precision int) Amount {
	if units == nil {
		units = big.NewInt(0)
	}
	return Amount{units: new(big.Int).Set(units), precision: precision}
}

// Parse converts a decimal string (e.g. "1.50") into an Amount at the
// given precision. Returns an error on invalid input.
//
// Rules:
//   - Empty string parses to zero
//   - A leading "-" marks a negative amount
//   - At most one decimal point is allowed
//   - Fractional digits beyond precision are rejected rather than
//     silently truncated, since truncation would lose value at the
//     ledger boundary
func Parse(s string, precision int) (Amount, error) {
	if precision < 0 || precision > MaxPrecision {
		return Amount{}, fmt.Errorf("money: precision %d out of range [0,%d]", precision, MaxPrecision)
	}
	if s == "" {
		return Zero(precision), nil
	}

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, fmt.Errorf("money: invalid amount %q", s)
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if len(frac) > precision {
		return Amount{}, fmt.Errorf("money: amount %q has more than %d fractional digits", s, precision)
	}
	for len(frac) < precision {
		frac += "0"
	}

	combined := whole + frac
	if combined == "" {
		combined = "0"
	}
	units, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid amount %q", s)
	}
	if neg {
		units.Neg(units)
	}
	return Amount{units: units, precision: precision}, nil
}

// MustParse is Parse but panics on error; used for constants in tests.
func MustParse(s string, precision int) Amount {
	a, err := Parse(s, precision)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a decimal string with exactly precision
// fractional digits.
func (a Amount) String() string {
	if a.units == nil {
		return Zero(a.precision).String()
	}
	neg := a.units.Sign() < 0
	abs := new(big.Int).Abs(a.units)
	s := abs.String()
	for len(s) < a.precision+1 {
		s = "0" + s
	}
	if a.precision == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	split := len(s) - a.precision
	result := s[:split] + "." + s[split:]
	if neg {
		result = "-" + result
	}
	return result
}

// Units returns the underlying smallest-unit integer. Callers must not
// mutate the returned value.
func (a Amount) Units() *big.Int {
	if a.units == nil {
		return big.NewInt(0)
	}
	return a.units
}

// Precision returns the number of fractional digits this amount was
// parsed or constructed with.
func (a Amount) Precision() int { return a.precision }

func (a Amount) requireSamePrecision(b Amount) {
	if a.precision != b.precision {
		panic(fmt.Sprintf("money: mismatched precision %d vs %d", a.precision, b.precision))
	}
}

// Add returns a+b. Panics if the two amounts were parsed at different
// precisions — that indicates a caller mixed amounts across equivalents.
func (a Amount) Add(b Amount) Amount {
	a.requireSamePrecision(b)
	return Amount{units: new(big.Int).Add(a.Units(), b.Units()), precision: a.precision}
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount {
	a.requireSamePrecision(b)
	return Amount{units: new(big.Int).Sub(a.Units(), b.Units()), precision: a.precision}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{units: new(big.Int).Neg(a.Units()), precision: a.precision}
}

// Cmp compares a to b, returning -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	a.requireSamePrecision(b)
	return a.Units().Cmp(b.Units())
}

// Sign returns -1, 0, or 1 depending on whether a is negative, zero, or
// positive.
func (a Amount) Sign() int {
	return a.Units().Sign()
}

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Float64 converts the amount to a float64 for metrics/observability use
// only; never use this for ledger arithmetic or comparisons.
func (a Amount) Float64() float64 {
	f := new(big.Float).SetInt(a.Units())
	scale := new(big.Float).SetFloat64(1)
	ten := big.NewFloat(10)
	for i := 0; i < a.precision; i++ {
		scale.Mul(scale, ten)
	}
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
