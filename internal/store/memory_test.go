package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/clob-engine/internal/model"
)

func seedEvent(t *testing.T, s *MemoryStore, id string, created time.Time) *model.Event {
	t.Helper()
	ev := &model.Event{
		ID:           id,
		Title:        "Will it rain?",
		Asset:        "USDT",
		OutcomeCount: 2,
		Status:       model.EventActive,
		CreatedAt:    created,
	}
	if err := s.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	return ev
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ev := seedEvent(t, s, "b", base)
	seedEvent(t, s, "a", base.Add(time.Minute))

	if err := s.CreateEvent(ctx, ev); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate, got %v", err)
	}

	// Caller mutation must not leak into the store.
	ev.Title = "mutated"
	got, err := s.GetEvent(ctx, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Will it rain?" {
		t.Errorf("store shared caller memory: %q", got.Title)
	}

	winner := 1
	now := base.Add(time.Hour)
	if err := s.UpdateEvent(ctx, &model.Event{ID: "b", Status: model.EventSettled, WinningOutcome: &winner, FinalizedAt: &now}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetEvent(ctx, "b")
	if got.Status != model.EventSettled || got.WinningOutcome == nil || *got.WinningOutcome != 1 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Title != "Will it rain?" {
		t.Errorf("update must not touch title, got %q", got.Title)
	}

	list, _ := s.ListEvents(ctx)
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("expected creation order [b a], got %+v", list)
	}

	if _, err := s.GetEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateEvent(ctx, &model.Event{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryStore_OrdersUpsertAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	o := &model.Order{ID: "o2", Owner: "alice", SequenceNumber: 2, TotalAmount: 10, Status: model.StatusPending}
	_ = s.UpsertOrder(ctx, o)
	_ = s.UpsertOrder(ctx, &model.Order{ID: "o1", Owner: "alice", SequenceNumber: 1})
	_ = s.UpsertOrder(ctx, &model.Order{ID: "o3", Owner: "bob", SequenceNumber: 3})

	o.FilledAmount = 10
	o.Status = model.StatusFilled
	_ = s.UpsertOrder(ctx, o)

	got, err := s.GetOrder(ctx, "o2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.StatusFilled || got.FilledAmount != 10 {
		t.Errorf("expected latest state, got %+v", got)
	}

	list, _ := s.ListOrdersByOwner(ctx, "alice")
	if len(list) != 2 || list[0].ID != "o1" || list[1].ID != "o2" {
		t.Errorf("expected [o1 o2] by sequence, got %+v", list)
	}
}

func TestMemoryStore_UpsertOrderDropsStaleRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	filled := &model.Order{ID: "m1", Owner: "bob", TotalAmount: 100, FilledAmount: 100, Status: model.StatusFilled, Revision: 3}
	partial := &model.Order{ID: "m1", Owner: "bob", TotalAmount: 100, FilledAmount: 40, Status: model.StatusPartial, Locked: 60, Revision: 2}

	if err := s.UpsertOrder(ctx, filled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpsertOrder(ctx, partial); err != nil {
		t.Fatalf("stale write should be dropped silently, got %v", err)
	}

	got, err := s.GetOrder(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.StatusFilled || got.FilledAmount != 100 || got.Revision != 3 {
		t.Errorf("stale revision overwrote newer state: %+v", got)
	}
}

func TestMemoryStore_TradesAndSettlements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.InsertTrade(ctx, &model.Trade{ID: "t1", EventID: "e1", Quantity: 5})
	_ = s.InsertTrade(ctx, &model.Trade{ID: "t2", EventID: "e2", Quantity: 6})
	_ = s.InsertTrade(ctx, &model.Trade{ID: "t3", EventID: "e1", Quantity: 7})

	trades, _ := s.ListTradesByEvent(ctx, "e1")
	if len(trades) != 2 || trades[0].ID != "t1" || trades[1].ID != "t3" {
		t.Errorf("expected [t1 t3], got %+v", trades)
	}

	st := &model.Settlement{EventID: "e1", PoolTotal: 500, Distributed: 500}
	if err := s.InsertSettlement(ctx, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.InsertSettlement(ctx, st); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	got, err := s.GetSettlement(ctx, "e1")
	if err != nil || got.Distributed != 500 {
		t.Errorf("unexpected settlement %+v, err %v", got, err)
	}
	if _, err := s.GetSettlement(ctx, "e2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
