package ledger

import (
	"errors"
	"sync"
	"testing"
)

const (
	usdt  = "USDT"
	event = "event1"
)

func funded(t *testing.T, owner string, amount int64) *Ledger {
	t.Helper()
	l := New("treasury")
	if err := l.Deposit(owner, usdt, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return l
}

// --- Lock / unlock ---

func TestLock_MovesAvailableToLocked(t *testing.T) {
	l := funded(t, "alice", 100)

	if err := l.Lock("alice", usdt, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := l.Balance("alice", usdt)
	if b.Available != 40 || b.Locked != 60 {
		t.Errorf("expected 40/60, got %d/%d", b.Available, b.Locked)
	}
}

func TestLock_InsufficientBalance(t *testing.T) {
	l := funded(t, "alice", 10)

	err := l.Lock("alice", usdt, 11)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	b := l.Balance("alice", usdt)
	if b.Available != 10 || b.Locked != 0 {
		t.Errorf("balance mutated on failure: %+v", b)
	}
}

func TestUnlock_MoreThanLockedIsInvalidState(t *testing.T) {
	l := funded(t, "alice", 100)
	_ = l.Lock("alice", usdt, 5)

	if err := l.Unlock("alice", usdt, 6); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := l.Unlock("alice", usdt, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := l.Balance("alice", usdt); b.Available != 100 || b.Locked != 0 {
		t.Errorf("expected 100/0, got %+v", b)
	}
}

func TestWithdraw(t *testing.T) {
	l := funded(t, "alice", 50)
	if err := l.Withdraw("alice", usdt, 51); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Withdraw("alice", usdt, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Deposit("alice", usdt, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero deposit, got %v", err)
	}
}

// --- Trade settlement ---

func TestSettleTrade_Conservation(t *testing.T) {
	l := New("treasury")
	_ = l.Deposit("buyer", usdt, 1000)
	_ = l.Deposit("seller", usdt, 500)
	_ = l.MintCompleteSet("seller", usdt, event, 500, 2)
	if err := l.Lock("buyer", usdt, 300); err != nil {
		t.Fatal(err)
	}
	if err := l.LockPosition("seller", usdt, event, 0, 100); err != nil {
		t.Fatal(err)
	}

	err := l.SettleTrade(TradeSettlement{
		Buyer: "buyer", Seller: "seller", Asset: usdt,
		Cost: 250, Quantity: 100, EventID: event, OutcomeIndex: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b := l.Balance("buyer", usdt); b.Locked != 50 || b.Available != 700 {
		t.Errorf("buyer balance: %+v", b)
	}
	if b := l.Balance("seller", usdt); b.Available != 250 {
		t.Errorf("seller available: expected 250, got %d", b.Available)
	}
	if p := l.Position("buyer", usdt, event, 0); p.Available != 100 {
		t.Errorf("buyer position: expected 100, got %d", p.Available)
	}
	if p := l.Position("seller", usdt, event, 0); p.Quantity() != 400 || p.Locked != 0 {
		t.Errorf("seller position: %+v", p)
	}
}

func TestSettleTrade_RejectsUnbackedFill(t *testing.T) {
	l := New("treasury")
	_ = l.Deposit("buyer", usdt, 100)
	_ = l.Lock("buyer", usdt, 10)

	err := l.SettleTrade(TradeSettlement{
		Buyer: "buyer", Seller: "seller", Asset: usdt,
		Cost: 10, Quantity: 5, EventID: event,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if b := l.Balance("buyer", usdt); b.Locked != 10 {
		t.Errorf("buyer locked mutated on failure: %+v", b)
	}
}

func TestSettleTrade_SelfTrade(t *testing.T) {
	l := New("treasury")
	_ = l.Deposit("alice", usdt, 200)
	_ = l.MintCompleteSet("alice", usdt, event, 100, 2)
	_ = l.Lock("alice", usdt, 50)
	_ = l.LockPosition("alice", usdt, event, 1, 100)

	err := l.SettleTrade(TradeSettlement{
		Buyer: "alice", Seller: "alice", Asset: usdt,
		Cost: 50, Quantity: 100, EventID: event, OutcomeIndex: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := l.Balance("alice", usdt); b.Available != 100 || b.Locked != 0 {
		t.Errorf("expected 100/0, got %+v", b)
	}
	if p := l.Position("alice", usdt, event, 1); p.Available != 100 || p.Locked != 0 {
		t.Errorf("expected position 100/0, got %+v", p)
	}
}

// --- Complete sets ---

func TestMintBurn_RoundTrip(t *testing.T) {
	l := funded(t, "alice", 1000)

	if err := l.MintCompleteSet("alice", usdt, event, 400, 3); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if pool := l.Pool(event, usdt); pool.Total != 400 {
		t.Errorf("expected pool 400, got %d", pool.Total)
	}
	for i := 0; i < 3; i++ {
		if p := l.Position("alice", usdt, event, i); p.Available != 400 {
			t.Errorf("outcome %d: expected 400, got %d", i, p.Available)
		}
	}

	if err := l.BurnCompleteSet("alice", usdt, event, 400, 3); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if b := l.Balance("alice", usdt); b.Available != 1000 {
		t.Errorf("expected 1000 restored, got %d", b.Available)
	}
	if pool := l.Pool(event, usdt); pool.Total != 0 {
		t.Errorf("expected empty pool, got %d", pool.Total)
	}
}

func TestMint_InsufficientBalance(t *testing.T) {
	l := funded(t, "alice", 10)
	if err := l.MintCompleteSet("alice", usdt, event, 11, 2); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if pool := l.Pool(event, usdt); pool.Total != 0 {
		t.Errorf("pool mutated on failure: %d", pool.Total)
	}
}

func TestBurn_IncompleteSet(t *testing.T) {
	l := funded(t, "alice", 100)
	_ = l.MintCompleteSet("alice", usdt, event, 100, 2)
	_ = l.LockPosition("alice", usdt, event, 1, 30)

	err := l.BurnCompleteSet("alice", usdt, event, 100, 2)
	if !errors.Is(err, ErrIncompleteSet) {
		t.Fatalf("expected ErrIncompleteSet, got %v", err)
	}
	if p := l.Position("alice", usdt, event, 0); p.Available != 100 {
		t.Errorf("position mutated on failure: %+v", p)
	}
}

// --- Distribution ---

func TestDistributePrizePool_SingleWinnerTakesPool(t *testing.T) {
	l := funded(t, "alice", 500)
	_ = l.MintCompleteSet("alice", usdt, event, 500, 2)

	winners, weights := l.Holders(event, usdt, 0)
	dist, err := l.DistributePrizePool(event, usdt, 0, winners, weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Distributed != 500 || dist.Remainder != 0 {
		t.Errorf("unexpected distribution: %+v", dist)
	}
	if b := l.Balance("alice", usdt); b.Available != 500 {
		t.Errorf("expected alice to receive 500, got %d", b.Available)
	}
	if p := l.Position("alice", usdt, event, 0); p.Quantity() != 0 {
		t.Errorf("winning position should be zeroed, got %+v", p)
	}
	if pool := l.Pool(event, usdt); pool.Total != 0 {
		t.Errorf("pool should be empty, got %d", pool.Total)
	}
}

func TestDistributePrizePool_RemainderToTreasury(t *testing.T) {
	l := funded(t, "alice", 100)
	_ = l.MintCompleteSet("alice", usdt, event, 100, 2)

	dist, err := l.DistributePrizePool(event, usdt, 0, []string{"a", "b", "c"}, []int64{1, 1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Distributed != 99 || dist.Remainder != 1 {
		t.Errorf("expected 99 distributed, 1 remainder, got %+v", dist)
	}
	if b := l.Balance("treasury", usdt); b.Available != 1 {
		t.Errorf("expected treasury to hold remainder 1, got %d", b.Available)
	}
}

func TestDistributePrizePool_NoWinners(t *testing.T) {
	l := funded(t, "alice", 100)
	_ = l.MintCompleteSet("alice", usdt, event, 100, 2)

	dist, err := l.DistributePrizePool(event, usdt, 0, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Remainder != 100 {
		t.Errorf("expected whole pool to treasury, got %+v", dist)
	}
}

func TestDistributePrizePool_RejectsBadWeights(t *testing.T) {
	l := New("treasury")
	if _, err := l.DistributePrizePool(event, usdt, 0, []string{"a"}, []int64{0}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero weight, got %v", err)
	}
	if _, err := l.DistributePrizePool(event, usdt, 0, []string{"a"}, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for length mismatch, got %v", err)
	}
}

// --- Concurrency ---

func TestSettleTrade_OppositeDirectionsDoNotDeadlock(t *testing.T) {
	l := New("treasury")
	for _, u := range []string{"alice", "bob"} {
		_ = l.Deposit(u, usdt, 1_000_000)
		_ = l.MintCompleteSet(u, usdt, event, 500_000, 2)
		_ = l.Lock(u, usdt, 500_000)
		_ = l.LockPosition(u, usdt, event, 0, 500_000)
	}

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.SettleTrade(TradeSettlement{Buyer: "alice", Seller: "bob", Asset: usdt, Cost: 1, Quantity: 1, EventID: event})
		}()
		go func() {
			defer wg.Done()
			_ = l.SettleTrade(TradeSettlement{Buyer: "bob", Seller: "alice", Asset: usdt, Cost: 1, Quantity: 1, EventID: event})
		}()
	}
	wg.Wait()

	total := int64(0)
	for _, u := range []string{"alice", "bob"} {
		b := l.Balance(u, usdt)
		total += b.Available + b.Locked
	}
	if total != 1_000_000 {
		t.Errorf("collateral not conserved: %d", total)
	}
}
