package fixed

import "math/big"

// Amounts and ratios are 1e18-scaled big integers throughout the system:
// 1 WAD is "1.0". Helpers always allocate; inputs are never mutated.

var (
	// Wad is the fixed-point unit (1e18).
	Wad = big.NewInt(1_000_000_000_000_000_000)

	// Zero is a shared immutable zero. Never mutate.
	Zero = big.NewInt(0)
)

// SecondsPerYear converts annual interest rates to elapsed-time interest.
const SecondsPerYear = 31_557_600 // 365.25 days

// New returns a fresh big.Int with value v.
func New(v int64) *big.Int { return big.NewInt(v) }

// Clone returns a copy of v, or zero when v is nil.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }

// IsPositive reports whether v is non-nil and strictly positive.
func IsPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// MulDivDown computes a * b / denom, truncating toward zero.
// Panics on a zero denominator: callers control every denominator in the
// system and a zero there means corrupted accounting, not bad user input.
func MulDivDown(a, b, denom *big.Int) *big.Int {
	if denom == nil || denom.Sign() == 0 {
		panic("fixed: division by zero")
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// MulDivUp computes a * b / denom, rounding away from zero for positive
// operands. Used where truncation would let a borrower underpay by a unit.
func MulDivUp(a, b, denom *big.Int) *big.Int {
	if denom == nil || denom.Sign() == 0 {
		panic("fixed: division by zero")
	}
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, denom, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// WadMul computes a * b / 1e18 (truncating).
func WadMul(a, b *big.Int) *big.Int { return MulDivDown(a, b, Wad) }

// WadDiv computes a * 1e18 / b (truncating).
func WadDiv(a, b *big.Int) *big.Int { return MulDivDown(a, Wad, b) }

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ClampNonNegative returns v, or zero when v is negative.
func ClampNonNegative(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
