package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
)

// BeginFinalize moves an Active event into next (Settling or Cancelling).
// Exactly one caller wins; every other caller, and any call on an event that
// already left Active, gets ErrAlreadyFinalized. Mint is refused from here
// on.
func (e *Engine) BeginFinalize(ctx context.Context, eventID string, next model.EventStatus) (*model.Event, error) {
	if next != model.EventSettling && next != model.EventCancelling {
		return nil, fmt.Errorf("%w: cannot finalize into %s", ErrInvalidEvent, next)
	}
	m, err := e.market(eventID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.event.Status != model.EventActive {
		s := m.event.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, eventID, s)
	}
	m.event.Status = next
	ev := m.event
	m.mu.Unlock()

	metrics.ActiveEvents.Dec()
	if err := e.store.UpdateEvent(context.WithoutCancel(ctx), &ev); err != nil {
		e.journalFailed("event", ev.ID, err)
	}
	e.logger.Info("event finalizing", "event_id", eventID, "status", next)
	return &ev, nil
}

// DrainEvent closes every book of the event and cancels all resting orders,
// releasing their locks. Closed books refuse placement and user cancels with
// ErrEventNotActive. Returns the number of orders cancelled.
func (e *Engine) DrainEvent(ctx context.Context, eventID string) (int, error) {
	m, err := e.market(eventID)
	if err != nil {
		return 0, err
	}
	if s := m.snapshot().Status; s != model.EventSettling && s != model.EventCancelling {
		return 0, fmt.Errorf("%w: %s is %s", ErrEventNotActive, eventID, s)
	}

	cancelled := 0
	for _, bk := range m.books {
		fx := &effects{}
		bk.mu.Lock()
		bk.closed = true
		for _, o := range bk.ob.Orders() {
			_, ofx, err := e.evict(bk, o, "settlement")
			if err != nil {
				e.logger.Error("settlement sweep failed to cancel order",
					"event_id", eventID,
					"order_id", o.ID,
					"err", err,
				)
				continue
			}
			fx.orders = append(fx.orders, ofx.orders...)
			fx.cancelled = append(fx.cancelled, ofx.cancelled...)
			cancelled++
		}
		bk.mu.Unlock()
		e.flush(ctx, fx)
	}

	e.logger.Info("event drained", "event_id", eventID, "cancelled_orders", cancelled)
	return cancelled, nil
}

// CompleteFinalize records the terminal status of an event once its books
// are drained and any distribution is done.
func (e *Engine) CompleteFinalize(ctx context.Context, eventID string, final model.EventStatus, winning *int) (*model.Event, error) {
	m, err := e.market(eventID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	from := m.event.Status
	valid := (from == model.EventSettling && final == model.EventSettled) ||
		(from == model.EventCancelling && final == model.EventCancelled)
	if !valid {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidEvent, eventID, from, final)
	}
	now := time.Now().UTC()
	m.event.Status = final
	m.event.FinalizedAt = &now
	if winning != nil {
		w := *winning
		m.event.WinningOutcome = &w
	}
	ev := m.event
	m.mu.Unlock()

	if err := e.store.UpdateEvent(context.WithoutCancel(ctx), &ev); err != nil {
		e.journalFailed("event", ev.ID, err)
	}
	return &ev, nil
}
