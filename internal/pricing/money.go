package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

var (
	// ErrNotRepresentable is returned when an amount carries more fractional digits than the scale keeps.
	ErrNotRepresentable = errors.New("pricing: amount not representable at scale")
	// ErrOutOfRange is returned when an amount does not fit in minor units.
	ErrOutOfRange = errors.New("pricing: amount out of range")
	// ErrInvalidScale is returned for scales outside [0, MaxScale].
	ErrInvalidScale = errors.New("pricing: invalid scale")
)

// MaxScale bounds the number of decimal places kept in minor units.
const MaxScale Scale = 6

// Scale is the number of decimal places kept when converting an amount to
// minor units. Cents uses two places, i.e. a factor of 100.
type Scale int32

// Cents is the default scale.
const Cents Scale = 2

var maxMoney = decimal.NewFromInt(math.MaxInt64)

// Validate reports whether the scale is usable.
func (s Scale) Validate() error {
	if s < 0 || s > MaxScale {
		return fmt.Errorf("%w: %d", ErrInvalidScale, s)
	}
	return nil
}

// Factor returns the multiplier between major and minor units.
func (s Scale) Factor() int64 {
	f := int64(1)
	for i := Scale(0); i < s; i++ {
		f *= 10
	}
	return f
}

// ToMinor converts d to minor units exactly. Amounts with more fractional
// digits than the scale are rejected rather than rounded.
func (s Scale) ToMinor(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(int32(s))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrNotRepresentable, d.String())
	}
	if shifted.Abs().GreaterThan(maxMoney) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return shifted.IntPart(), nil
}

// FloorMinor converts d to minor units rounding toward negative infinity.
func (s Scale) FloorMinor(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(int32(s)).Floor()
	if shifted.Abs().GreaterThan(maxMoney) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return shifted.IntPart(), nil
}

// FromMinor converts minor units back to a decimal amount.
func (s Scale) FromMinor(m Money) decimal.Decimal {
	return decimal.New(m, -int32(s))
}

// Sum adds amounts in minor units.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}
