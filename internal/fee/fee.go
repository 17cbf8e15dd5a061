// Package fee computes placement and trade fees and collects them into the
// tenant treasury.
package fee

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/quant"
)

// Kind labels what a fee was charged for.
type Kind string

const (
	KindPlacement Kind = "placement"
	KindTrade     Kind = "trade"
)

// ErrInvalidRate is returned for fee rates outside [0, 10000] bps.
var ErrInvalidRate = errors.New("fee: rate must be within [0, 10000] bps")

// Vault receives fees. RefundFee reverses a CollectFee whose order was
// rejected before it reached the book.
type Vault interface {
	CollectFee(ctx context.Context, payer, asset string, amount int64, kind Kind) error
	RefundFee(ctx context.Context, payer, asset string, amount int64, kind Kind) error
}

// Schedule holds the tenant fee rates in basis points.
type Schedule struct {
	PlacementBps int64
	TradeBps     int64
}

// Validate checks both rates.
func (s Schedule) Validate() error {
	for _, r := range []int64{s.PlacementBps, s.TradeBps} {
		if r < 0 || r > quant.BasisPoints {
			return fmt.Errorf("%w: %d", ErrInvalidRate, r)
		}
	}
	return nil
}

// Placement returns the placement fee on the notional amount*price/10000.
func (s Schedule) Placement(amount, price int64) (int64, error) {
	notional, err := quant.Cost(amount, price)
	if err != nil {
		return 0, err
	}
	return quant.ApplyBps(notional, s.PlacementBps)
}

// Trade splits the fee on a fill's cost between the counterparties: the
// buyer pays floor(fee/2) and the seller pays the rest.
func (s Schedule) Trade(cost int64) (buyer, seller int64, err error) {
	total, err := quant.ApplyBps(cost, s.TradeBps)
	if err != nil {
		return 0, 0, err
	}
	buyer = total / 2
	return buyer, total - buyer, nil
}

// LedgerVault sweeps fees from the payer's available balance into the
// ledger treasury.
type LedgerVault struct {
	ledger *ledger.Ledger
}

// NewLedgerVault creates a vault backed by l.
func NewLedgerVault(l *ledger.Ledger) *LedgerVault {
	return &LedgerVault{ledger: l}
}

func (v *LedgerVault) CollectFee(_ context.Context, payer, asset string, amount int64, kind Kind) error {
	if amount == 0 {
		return nil
	}
	if err := v.ledger.Transfer(payer, v.ledger.Treasury(), asset, amount); err != nil {
		return fmt.Errorf("collect %s fee from %s: %w", kind, payer, err)
	}
	return nil
}

func (v *LedgerVault) RefundFee(_ context.Context, payer, asset string, amount int64, kind Kind) error {
	if amount == 0 {
		return nil
	}
	if err := v.ledger.Transfer(v.ledger.Treasury(), payer, asset, amount); err != nil {
		return fmt.Errorf("refund %s fee to %s: %w", kind, payer, err)
	}
	return nil
}

// Charge is one fee debit, recorded so it can be reported after the
// critical section that collected it.
type Charge struct {
	Payer  string
	Asset  string
	Amount int64
	Kind   Kind
}
