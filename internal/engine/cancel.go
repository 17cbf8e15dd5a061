package engine

import (
	"context"
	"fmt"

	"github.com/atmx/clob-engine/internal/model"
)

// CancelResult reports a successful cancellation.
type CancelResult struct {
	OrderID   string      `json:"order_id"`
	Remaining int64       `json:"remaining"`
	Released  int64       `json:"released"`
	Order     model.Order `json:"order"`
}

// CancelOrder removes a resting order owned by owner and releases what it
// still has locked. Filled, already cancelled and foreign orders are all
// reported as ErrOrderNotFound.
func (e *Engine) CancelOrder(ctx context.Context, owner, orderID string) (*CancelResult, error) {
	e.mu.RLock()
	bk, ok := e.resting[orderID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	bk.mu.Lock()
	res, fx, err := e.cancel(bk, owner, orderID, "user")
	bk.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.flush(ctx, fx)
	e.logger.Info("order cancelled",
		"order_id", orderID,
		"owner", owner,
		"remaining", res.Remaining,
		"released", res.Released,
	)
	return res, nil
}

// cancel runs with bk.mu held.
func (e *Engine) cancel(bk *book, owner, orderID, reason string) (*CancelResult, *effects, error) {
	if bk.closed || bk.market.snapshot().Status != model.EventActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrEventNotActive, bk.ob.EventID())
	}
	if bk.halted {
		return nil, nil, ErrBookHalted
	}
	o, ok := bk.ob.Get(orderID)
	if !ok || o.Owner != owner {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return e.evict(bk, o, reason)
}

// evict removes o from the book and releases its lock. Runs with bk.mu held.
func (e *Engine) evict(bk *book, o *model.Order, reason string) (*CancelResult, *effects, error) {
	remaining, err := bk.ob.Cancel(o.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	released := o.Locked
	if err := e.release(o); err != nil {
		return nil, nil, e.halt(bk, err)
	}
	o.Status = model.StatusCancelled
	e.unrest(bk, o)
	bk.version++

	snap := journaled(o)
	res := &CancelResult{OrderID: o.ID, Remaining: remaining, Released: released, Order: snap}
	fx := &effects{
		orders:    []model.Order{snap},
		cancelled: []cancellation{{order: snap, remaining: remaining, released: released, reason: reason}},
	}
	return res, fx, nil
}

// BatchCancelResult is one line of a CancelOrders response.
type BatchCancelResult struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Remaining int64  `json:"remaining,omitempty"`
	Released  int64  `json:"released,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CancelOrders cancels each order independently; one failure does not stop
// the rest.
func (e *Engine) CancelOrders(ctx context.Context, owner string, orderIDs []string) []BatchCancelResult {
	out := make([]BatchCancelResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		res, err := e.CancelOrder(ctx, owner, id)
		if err != nil {
			out = append(out, BatchCancelResult{OrderID: id, Error: err.Error()})
			continue
		}
		out = append(out, BatchCancelResult{
			OrderID:   id,
			Cancelled: true,
			Remaining: res.Remaining,
			Released:  res.Released,
		})
	}
	return out
}
