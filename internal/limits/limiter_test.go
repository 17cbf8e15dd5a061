package limits

import (
	"errors"
	"testing"
)

func TestCheckOrder_WithinLimits(t *testing.T) {
	limiter := NewOrderLimiter(1000, 5)

	if err := limiter.CheckOrder(1000, 4); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckOrder_TooLarge(t *testing.T) {
	limiter := NewOrderLimiter(1000, 5)

	err := limiter.CheckOrder(1001, 0)
	if !errors.Is(err, ErrOrderTooLarge) {
		t.Errorf("expected ErrOrderTooLarge, got %v", err)
	}
}

func TestCheckOrder_TooManyOpen(t *testing.T) {
	limiter := NewOrderLimiter(1000, 5)

	err := limiter.CheckOrder(1, 5)
	if !errors.Is(err, ErrTooManyOpenOrders) {
		t.Errorf("expected ErrTooManyOpenOrders, got %v", err)
	}
}

func TestCheckOrder_ZeroDisables(t *testing.T) {
	limiter := NewOrderLimiter(0, 0)

	if err := limiter.CheckOrder(1<<62, 1<<20); err != nil {
		t.Errorf("expected zero limits to disable checks, got %v", err)
	}
}

func TestCheckOrder_NilLimiter(t *testing.T) {
	var limiter *OrderLimiter
	if err := limiter.CheckOrder(1<<62, 1<<20); err != nil {
		t.Errorf("expected nil limiter to allow, got %v", err)
	}
}

func TestNewOrderLimiter_NegativeClamped(t *testing.T) {
	limiter := NewOrderLimiter(-5, -1)
	if limiter.MaxOrderAmount != 0 || limiter.MaxOpenOrdersPerBook != 0 {
		t.Errorf("expected negative limits clamped to 0, got %+v", limiter)
	}
}
