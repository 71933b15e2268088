// README: Money value object shared across modules (whole IDR, no minor unit).
package types

import (
	"errors"
	"math"
)

// Currency is the single settlement currency. IDR has no minor unit in practice,
// so every amount is a whole number of rupiah.
const Currency = "IDR"

type Money int64

// MaxMoney bounds every stored amount. It keeps ApplyFraction's intermediate
// product inside int64.
const MaxMoney Money = 100_000_000_000_000

var ErrAmountOutOfRange = errors.New("amount out of range")

// BasisPoints expresses a fraction in 1/10000 units (0.3 == 3000).
type BasisPoints int64

const fullBasis = 10000

// BasisPointsFromFraction converts a decimal fraction such as 0.3 to basis points.
func BasisPointsFromFraction(f float64) BasisPoints {
	return BasisPoints(math.Floor(f*fullBasis + 0.5))
}

func (b BasisPoints) Fraction() float64 {
	return float64(b) / fullBasis
}

// ApplyFraction returns round-half-up(m * bp / unit) * unit using integer math only.
// A unit below 1 is treated as 1.
func (m Money) ApplyFraction(bp BasisPoints, unit Money) Money {
	if unit < 1 {
		unit = 1
	}
	num := int64(m) * int64(bp)
	den := int64(fullBasis) * int64(unit)
	return Money((num+den/2)/den) * unit
}

// RoundHalfUp converts a non-negative float amount to whole currency units.
// NaN, infinities, negatives and values above MaxMoney are refused.
func RoundHalfUp(v float64) (Money, error) {
	if math.IsNaN(v) || v < 0 || v > float64(MaxMoney) {
		return 0, ErrAmountOutOfRange
	}
	return Money(math.Floor(v + 0.5)), nil
}

// Add sums two amounts within [0, MaxMoney].
func (m Money) Add(o Money) (Money, error) {
	if m < 0 || o < 0 || m > MaxMoney || o > MaxMoney || m+o > MaxMoney {
		return 0, ErrAmountOutOfRange
	}
	return m + o, nil
}
