// Package quant implements the integer basis-point arithmetic used for
// locking, fills, fees and prize distribution.
//
// Every product is formed in 256 bits before dividing, so amount*price can
// never wrap. Division truncates toward zero; all operands are non-negative
// so this is floor, and a fill never credits more than was received.
package quant

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every price and fee rate.
const BasisPoints = 10000

var (
	// ErrOverflow is returned when a result does not fit in an int64.
	ErrOverflow = errors.New("quant: result overflows int64")

	// ErrNegative is returned when an operand is negative.
	ErrNegative = errors.New("quant: negative operand")

	// ErrDivisionByZero is returned by ProRata when the denominator is zero.
	ErrDivisionByZero = errors.New("quant: division by zero")
)

// Cost returns floor(amount * price / 10000): the base-asset value of
// amount outcome units at a basis-point price.
func Cost(amount, price int64) (int64, error) {
	return MulDiv(amount, price, BasisPoints)
}

// ApplyBps returns floor(value * rateBps / 10000). Used for fee rates.
func ApplyBps(value, rateBps int64) (int64, error) {
	return MulDiv(value, rateBps, BasisPoints)
}

// ProRata returns floor(total * weight / sum).
func ProRata(total, weight, sum int64) (int64, error) {
	if sum == 0 {
		return 0, ErrDivisionByZero
	}
	return MulDiv(total, weight, sum)
}

// MulDiv returns floor(a * b / d) with a 256-bit intermediate product.
func MulDiv(a, b, d int64) (int64, error) {
	if a < 0 || b < 0 || d < 0 {
		return 0, ErrNegative
	}
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	q := product.Div(product, uint256.NewInt(uint64(d)))
	if !q.IsUint64() || q.Uint64() > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(q.Uint64()), nil
}

// Add returns a + b, or ErrOverflow.
func Add(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}
