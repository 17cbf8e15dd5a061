// Package limits implements per-order risk limits applied before any funds
// are locked.
package limits

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderTooLarge is returned when an order's amount exceeds the
	// per-order maximum.
	ErrOrderTooLarge = errors.New("limits: order amount exceeds maximum")

	// ErrTooManyOpenOrders is returned when the owner already has the
	// maximum number of resting orders in the target book.
	ErrTooManyOpenOrders = errors.New("limits: too many open orders in book")
)

// OrderLimiter enforces order size and resting-order count limits.
// A zero limit disables that check.
type OrderLimiter struct {
	// MaxOrderAmount is the largest totalAmount a single order may carry.
	MaxOrderAmount int64

	// MaxOpenOrdersPerBook caps how many resting orders one owner may have
	// in a single (event, outcome) book.
	MaxOpenOrdersPerBook int
}

// NewOrderLimiter creates a limiter. Negative limits are treated as zero.
func NewOrderLimiter(maxOrderAmount int64, maxOpenOrdersPerBook int) *OrderLimiter {
	if maxOrderAmount < 0 {
		maxOrderAmount = 0
	}
	if maxOpenOrdersPerBook < 0 {
		maxOpenOrdersPerBook = 0
	}
	return &OrderLimiter{
		MaxOrderAmount:       maxOrderAmount,
		MaxOpenOrdersPerBook: maxOpenOrdersPerBook,
	}
}

// CheckOrder validates a new order of amount given how many orders the
// owner already has resting in the book. A nil limiter allows everything.
func (l *OrderLimiter) CheckOrder(amount int64, openInBook int) error {
	if l == nil {
		return nil
	}
	if l.MaxOrderAmount > 0 && amount > l.MaxOrderAmount {
		return fmt.Errorf("%w: %d > %d", ErrOrderTooLarge, amount, l.MaxOrderAmount)
	}
	if l.MaxOpenOrdersPerBook > 0 && openInBook >= l.MaxOpenOrdersPerBook {
		return fmt.Errorf("%w: %d resting, max %d", ErrTooManyOpenOrders, openInBook, l.MaxOpenOrdersPerBook)
	}
	return nil
}
