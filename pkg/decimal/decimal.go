// Package decimal implements the market's fixed-point monetary type
// system: four disjoint, phantom-tagged unsigned domains (Collateral,
// Notional, Usd, LpToken), a signed wrapper for deltas, and a
// NonZero wrapper for API boundaries that require strict positivity.
//
// Cross-domain arithmetic is rejected at compile time: Amount[T] only
// offers Add/Sub against another Amount[T] with the same T, so
// Collateral+Notional does not type-check. Conversion between domains
// happens only through a PricePoint (see pkg/market/price), never here.
package decimal

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// CollateralTag, NotionalTag, UsdTag and LpTokenTag are unexported
// marker types used purely as type parameters; they carry no data.
type (
	CollateralTag struct{}
	NotionalTag   struct{}
	UsdTag        struct{}
	LpTokenTag    struct{}
)

// Amount is an unsigned fixed-point decimal value tagged with a
// monetary domain. The zero value is zero in that domain.
type Amount[T any] struct {
	dec sdkmath.LegacyDec
}

// Collateral, Notional, Usd and LpToken are the four disjoint scalar
// domains the engine distinguishes at the type level.
type (
	Collateral = Amount[CollateralTag]
	Notional   = Amount[NotionalTag]
	Usd        = Amount[UsdTag]
	LpToken    = Amount[LpTokenTag]
)

// Zero returns the zero value of a given domain.
func Zero[T any]() Amount[T] {
	return Amount[T]{dec: sdkmath.LegacyZeroDec()}
}

// NewAmount wraps a non-negative LegacyDec as a tagged Amount. It
// panics on a negative input, matching cosmossdk.io/math's own
// panic-on-invariant-violation convention for construction helpers;
// callers that can't guarantee non-negativity should use FromSigned.
func NewAmount[T any](dec sdkmath.LegacyDec) Amount[T] {
	if dec.IsNegative() {
		panic(fmt.Sprintf("decimal: negative value %s for unsigned domain", dec))
	}
	return Amount[T]{dec: dec}
}

// ParseAmount parses a decimal string into a tagged Amount.
func ParseAmount[T any](s string) (Amount[T], error) {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return Amount[T]{}, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount[T]{}, fmt.Errorf("decimal: %q is negative, domain is unsigned", s)
	}
	return Amount[T]{dec: d}, nil
}

// Dec returns the underlying decimal value.
func (a Amount[T]) Dec() sdkmath.LegacyDec { return a.dec }

// Add returns a + b.
func (a Amount[T]) Add(b Amount[T]) Amount[T] {
	return Amount[T]{dec: a.dec.Add(b.dec)}
}

// Sub returns a - b, or an error if the result would be negative.
func (a Amount[T]) Sub(b Amount[T]) (Amount[T], error) {
	r := a.dec.Sub(b.dec)
	if r.IsNegative() {
		return Amount[T]{}, fmt.Errorf("decimal: underflow subtracting %s from %s", b.dec, a.dec)
	}
	return Amount[T]{dec: r}, nil
}

// SaturatingSub returns max(a-b, 0), used for "deltas truncated at
// zero" fee-accounting semantics.
func (a Amount[T]) SaturatingSub(b Amount[T]) Amount[T] {
	r := a.dec.Sub(b.dec)
	if r.IsNegative() {
		return Amount[T]{dec: sdkmath.LegacyZeroDec()}
	}
	return Amount[T]{dec: r}
}

// Mul scales the amount by a dimensionless factor, remaining in the
// same domain.
func (a Amount[T]) Mul(factor sdkmath.LegacyDec) Amount[T] {
	return Amount[T]{dec: a.dec.Mul(factor)}
}

// Quo divides the amount by a dimensionless factor, remaining in the
// same domain.
func (a Amount[T]) Quo(factor sdkmath.LegacyDec) Amount[T] {
	return Amount[T]{dec: a.dec.Quo(factor)}
}

// Ratio divides two amounts of the same domain, yielding a
// dimensionless ratio (e.g. utilization = locked.Ratio(total)).
func (a Amount[T]) Ratio(b Amount[T]) sdkmath.LegacyDec {
	return a.dec.Quo(b.dec)
}

func (a Amount[T]) IsZero() bool               { return a.dec.IsZero() }
func (a Amount[T]) IsPositive() bool           { return a.dec.IsPositive() }
func (a Amount[T]) GT(b Amount[T]) bool        { return a.dec.GT(b.dec) }
func (a Amount[T]) GTE(b Amount[T]) bool       { return a.dec.GTE(b.dec) }
func (a Amount[T]) LT(b Amount[T]) bool        { return a.dec.LT(b.dec) }
func (a Amount[T]) LTE(b Amount[T]) bool       { return a.dec.LTE(b.dec) }
func (a Amount[T]) Equal(b Amount[T]) bool     { return a.dec.Equal(b.dec) }
func (a Amount[T]) String() string             { return a.dec.String() }

func (a Amount[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.dec.String())
}

func (a *Amount[T]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return fmt.Errorf("decimal: unmarshal %q: %w", s, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("decimal: unmarshal %q: negative value for unsigned domain", s)
	}
	a.dec = d
	return nil
}

// Signed wraps an Amount[T] with an explicit sign, used for deltas
// and running signed sums (e.g. deposit_collateral, notional_size).
type Signed[T any] struct {
	mag Amount[T]
	neg bool
}

// SignedZero returns the signed zero value of a domain.
func SignedZero[T any]() Signed[T] {
	return Signed[T]{mag: Zero[T](), neg: false}
}

// NewSigned splits an arbitrary-sign LegacyDec into magnitude and sign.
func NewSigned[T any](dec sdkmath.LegacyDec) Signed[T] {
	if dec.IsNegative() {
		return Signed[T]{mag: Amount[T]{dec: dec.Neg()}, neg: true}
	}
	return Signed[T]{mag: Amount[T]{dec: dec}, neg: false}
}

// FromUnsigned lifts an unsigned Amount into signed space (always
// non-negative).
func FromUnsigned[T any](a Amount[T]) Signed[T] {
	return Signed[T]{mag: a, neg: false}
}

// Dec returns the signed decimal value.
func (s Signed[T]) Dec() sdkmath.LegacyDec {
	if s.neg {
		return s.mag.dec.Neg()
	}
	return s.mag.dec
}

// Abs returns the unsigned magnitude.
func (s Signed[T]) Abs() Amount[T] { return s.mag }

func (s Signed[T]) IsNegative() bool { return s.neg && !s.mag.IsZero() }
func (s Signed[T]) IsPositive() bool { return !s.neg && !s.mag.IsZero() }
func (s Signed[T]) IsZero() bool     { return s.mag.IsZero() }

// Negate flips the sign.
func (s Signed[T]) Negate() Signed[T] {
	if s.mag.IsZero() {
		return s
	}
	return Signed[T]{mag: s.mag, neg: !s.neg}
}

// Add returns s + o, both within the same domain.
func (s Signed[T]) Add(o Signed[T]) Signed[T] {
	return NewSigned[T](s.Dec().Add(o.Dec()))
}

// Sub returns s - o.
func (s Signed[T]) Sub(o Signed[T]) Signed[T] {
	return NewSigned[T](s.Dec().Sub(o.Dec()))
}

// AddUnsigned returns s + a for an unsigned amount a.
func (s Signed[T]) AddUnsigned(a Amount[T]) Signed[T] {
	return s.Add(FromUnsigned(a))
}

// SubUnsigned returns s - a for an unsigned amount a.
func (s Signed[T]) SubUnsigned(a Amount[T]) Signed[T] {
	return s.Sub(FromUnsigned(a))
}

func (s Signed[T]) GT(o Signed[T]) bool  { return s.Dec().GT(o.Dec()) }
func (s Signed[T]) GTE(o Signed[T]) bool { return s.Dec().GTE(o.Dec()) }
func (s Signed[T]) LT(o Signed[T]) bool  { return s.Dec().LT(o.Dec()) }
func (s Signed[T]) LTE(o Signed[T]) bool { return s.Dec().LTE(o.Dec()) }

func (s Signed[T]) String() string { return s.Dec().String() }

func (s Signed[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Dec().String())
}

func (s *Signed[T]) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	d, err := sdkmath.LegacyNewDecFromStr(str)
	if err != nil {
		return fmt.Errorf("decimal: unmarshal signed %q: %w", str, err)
	}
	*s = NewSigned[T](d)
	return nil
}

// NonZero wraps an Amount[T] that has been validated as strictly
// positive, for API boundaries such as deposits, LP shares and
// trigger prices.
type NonZero[T any] struct {
	amt Amount[T]
}

// NewNonZero validates a and returns a NonZero wrapper, or an error
// if a is zero.
func NewNonZero[T any](a Amount[T]) (NonZero[T], error) {
	if a.IsZero() {
		return NonZero[T]{}, fmt.Errorf("decimal: value must be strictly positive, got zero")
	}
	return NonZero[T]{amt: a}, nil
}

// MustNonZero is NewNonZero but panics on a zero value; intended for
// constants and test fixtures, never for untrusted input.
func MustNonZero[T any](a Amount[T]) NonZero[T] {
	nz, err := NewNonZero(a)
	if err != nil {
		panic(err)
	}
	return nz
}

// Amount unwraps the validated value.
func (n NonZero[T]) Amount() Amount[T] { return n.amt }

func (n NonZero[T]) String() string { return n.amt.String() }
