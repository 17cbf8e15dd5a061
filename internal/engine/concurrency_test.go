package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/fee"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
	"github.com/atmx/clob-engine/internal/tenant"
)

// gatedStore parks the first PARTIAL write of holdID until release is
// closed, so a later state of the same order reaches the journal first.
type gatedStore struct {
	*store.MemoryStore
	holdID  string
	blocked chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	if o.ID == s.holdID && o.Status == model.StatusPartial {
		s.once.Do(func() { close(s.blocked) })
		<-s.release
	}
	return s.MemoryStore.UpsertOrder(ctx, o)
}

func TestFlush_OutOfOrderJournalKeepsLatestOrderState(t *testing.T) {
	tn, err := tenant.New("acme", treasury, []string{usdt}, fee.Schedule{})
	require.NoError(t, err)
	gs := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		blocked:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	e, err := New(Options{Ledger: ledger.New(treasury), Tenant: tn, Store: gs})
	require.NoError(t, err)
	h := &harness{Engine: e, pub: events.NewMemoryPublisher()}
	ctx := context.Background()

	h.event(t, "e1", 2)
	h.seller(t, "bob", "e1", 100)
	h.fund(t, "alice", 100)
	h.fund(t, "carol", 100)

	maker := h.place(t, "bob", "e1", model.SideSell, 5000, 100)
	gs.holdID = maker.Order.ID

	done := make(chan error, 1)
	go func() {
		_, err := e.PlaceOrder(ctx, PlaceOrderRequest{Owner: "alice", EventID: "e1", Side: model.SideBuy, Price: 5000, Amount: 40, Asset: usdt})
		done <- err
	}()

	select {
	case <-gs.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("partial fill was never journaled")
	}

	// The second fill commits and journals while the first flush is parked.
	res := h.place(t, "carol", "e1", model.SideBuy, 5000, 60)
	require.Len(t, res.Trades, 1)
	close(gs.release)
	require.NoError(t, <-done)

	got, err := h.GetOrder(ctx, maker.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, got.Status)
	assert.EqualValues(t, 100, got.FilledAmount)
	assert.Zero(t, got.Locked)
	assert.EqualValues(t, 3, got.Revision)
}

func TestPlaceOrder_ConcurrentPlacementConserves(t *testing.T) {
	e := newPropertyEngine(t, fee.Schedule{PlacementBps: 20, TradeBps: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, owner := range traders {
		wg.Add(1)
		go func(seed int64, owner string) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			var mine []string
			for n := 0; n < 300; n++ {
				if len(mine) > 0 && r.Intn(4) == 0 {
					idx := r.Intn(len(mine))
					if _, err := e.CancelOrder(ctx, owner, mine[idx]); err != nil && !errors.Is(err, ErrOrderNotFound) {
						t.Errorf("cancel %s: %v", mine[idx], err)
					}
					mine = append(mine[:idx], mine[idx+1:]...)
					continue
				}

				side := model.SideBuy
				if r.Intn(2) == 0 {
					side = model.SideSell
				}
				res, err := e.PlaceOrder(ctx, PlaceOrderRequest{
					Owner:        owner,
					EventID:      "e1",
					OutcomeIndex: r.Intn(2),
					Side:         side,
					Price:        int64(r.Intn(99)+1) * 100,
					Amount:       int64(r.Intn(120) + 1),
					Asset:        usdt,
				})
				switch {
				case err == nil:
					if res.Resting() {
						mine = append(mine, res.Order.ID)
					}
				case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientPosition):
				default:
					t.Errorf("place for %s: %v", owner, err)
				}
			}
		}(int64(i+1), owner)
	}
	wg.Wait()

	checkInvariants(t, e)

	// Every flush has landed: the journal agrees with the live books.
	for _, owner := range traders {
		orders, err := e.OrdersByOwner(ctx, owner)
		require.NoError(t, err)
		for _, rec := range orders {
			live, err := e.GetOrder(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, live.Status, rec.Status, "order %s", rec.ID)
			assert.Equal(t, live.FilledAmount, rec.FilledAmount, "order %s", rec.ID)
			assert.Equal(t, live.Revision, rec.Revision, "order %s", rec.ID)
		}
	}
}
