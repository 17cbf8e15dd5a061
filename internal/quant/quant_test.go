package quant

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	tests := []struct {
		amount, price, want int64
	}{
		{100, 6000, 60},
		{80, 5000, 40},
		{1, 5000, 0}, // truncates
		{3, 3333, 0},
		{10000, 1, 1},
		{10000, 10000, 10000},
		{12345, 6789, 8381},
	}
	for _, tt := range tests {
		got, err := Cost(tt.amount, tt.price)
		if err != nil {
			t.Fatalf("Cost(%d, %d): unexpected error: %v", tt.amount, tt.price, err)
		}
		if got != tt.want {
			t.Errorf("Cost(%d, %d) = %d, want %d", tt.amount, tt.price, got, tt.want)
		}
	}
}

func TestCost_NoIntermediateOverflow(t *testing.T) {
	// amount*price overflows int64 but the quotient fits.
	amount := int64(math.MaxInt64 / 2)
	got, err := Cost(amount, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != amount {
		t.Errorf("expected %d, got %d", amount, got)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := MulDiv(math.MaxInt64, 2, 1)
	if err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_Negative(t *testing.T) {
	if _, err := MulDiv(-1, 2, 3); err != ErrNegative {
		t.Errorf("expected ErrNegative, got %v", err)
	}
}

func TestProRata(t *testing.T) {
	got, err := ProRata(1000, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 333 {
		t.Errorf("expected 333, got %d", got)
	}
	if _, err := ProRata(1000, 1, 0); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestAdd(t *testing.T) {
	if _, err := Add(math.MaxInt64, 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	got, err := Add(40, 2)
	if err != nil || got != 42 {
		t.Errorf("Add(40, 2) = %d, %v", got, err)
	}
}
