package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
)

// DefaultDepth is the number of price levels per side returned when a
// snapshot is requested without a depth.
const DefaultDepth = 20

// OrderBookSnapshot returns the aggregated levels of one book. Sequence
// increases with every mutation of the book.
func (e *Engine) OrderBookSnapshot(eventID string, outcome, depth int) (*model.BookSnapshot, error) {
	bk, err := e.book(eventID, outcome)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	bk.mu.Lock()
	bids, asks := bk.ob.Depth(depth)
	seq := bk.version
	bk.mu.Unlock()

	return &model.BookSnapshot{
		EventID:      eventID,
		OutcomeIndex: outcome,
		Bids:         bids,
		Asks:         asks,
		Sequence:     seq,
	}, nil
}

func (e *Engine) book(eventID string, outcome int) (*book, error) {
	m, err := e.market(eventID)
	if err != nil {
		return nil, err
	}
	if outcome < 0 || outcome >= len(m.books) {
		return nil, fmt.Errorf("%w: outcome %d outside [0, %d)", ErrInvalidOrder, outcome, len(m.books))
	}
	return m.books[outcome], nil
}

// GetOrder returns an order, resting or historical.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	e.mu.RLock()
	bk, ok := e.resting[orderID]
	e.mu.RUnlock()
	if ok {
		bk.mu.Lock()
		o, found := bk.ob.Get(orderID)
		var cp model.Order
		if found {
			cp = *o
		}
		bk.mu.Unlock()
		if found {
			return &cp, nil
		}
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, err
}

// OrdersByOwner returns an owner's orders in submission order.
func (e *Engine) OrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	return e.store.ListOrdersByOwner(ctx, owner)
}

// Trades returns the fills of an event in execution order.
func (e *Engine) Trades(ctx context.Context, eventID string) ([]model.Trade, error) {
	if _, err := e.market(eventID); err != nil {
		return nil, err
	}
	return e.store.ListTradesByEvent(ctx, eventID)
}

// Settlement returns the distribution record of a settled event.
func (e *Engine) Settlement(ctx context.Context, eventID string) (*model.Settlement, error) {
	if _, err := e.market(eventID); err != nil {
		return nil, err
	}
	return e.store.GetSettlement(ctx, eventID)
}

// UserPosition returns owner's holdings in one event, marked at each
// outcome's last trade price. Outcomes that never traded are marked at the
// uniform price 1/OutcomeCount. Nothing is worth anything once the event is
// settled: winning units were paid out and losing units expire.
func (e *Engine) UserPosition(owner, eventID string) (*model.UserPosition, error) {
	m, err := e.market(eventID)
	if err != nil {
		return nil, err
	}
	ev := m.snapshot()
	up := e.position(owner, m, ev)
	return &up, nil
}

func (e *Engine) position(owner string, m *market, ev model.Event) model.UserPosition {
	up := model.UserPosition{
		Owner:    owner,
		EventID:  ev.ID,
		Asset:    m.asset,
		Status:   ev.Status,
		Outcomes: make([]model.OutcomeHolding, ev.OutcomeCount),
		Value:    decimal.Zero,
	}
	uniform := model.MaxPrice / int64(ev.OutcomeCount)
	positions := e.ledger.EventPositions(owner, m.asset, ev.ID, ev.OutcomeCount)

	for i, p := range positions {
		bk := m.books[i]
		bk.mu.Lock()
		last := bk.lastPrice
		bk.mu.Unlock()

		mark := last
		if mark == 0 {
			mark = uniform
		}
		if ev.Status == model.EventSettled {
			mark = 0
		}
		value := decimal.NewFromInt(p.Quantity()).Mul(model.Probability(mark))
		up.Outcomes[i] = model.OutcomeHolding{
			OutcomeIndex: i,
			Available:    p.Available,
			Locked:       p.Locked,
			LastPrice:    last,
			MarkValue:    value,
		}
		up.Value = up.Value.Add(value)
	}
	return up
}

// Portfolio aggregates owner's balances and every event position it holds.
// Totals are kept per asset.
func (e *Engine) Portfolio(owner string) *model.Portfolio {
	pf := &model.Portfolio{
		Owner:      owner,
		Balances:   e.ledger.Balances(owner),
		TotalValue: make(map[string]decimal.Decimal),
	}
	for _, b := range pf.Balances {
		pf.TotalValue[b.Asset] = decimal.NewFromInt(b.Available + b.Locked)
	}

	for _, ev := range e.ListEvents() {
		m, err := e.market(ev.ID)
		if err != nil {
			continue
		}
		up := e.position(owner, m, ev)
		if !holds(up) {
			continue
		}
		pf.Positions = append(pf.Positions, up)
		pf.TotalValue[up.Asset] = pf.TotalValue[up.Asset].Add(up.Value)
	}
	return pf
}

func holds(up model.UserPosition) bool {
	for _, o := range up.Outcomes {
		if o.Available != 0 || o.Locked != 0 {
			return true
		}
	}
	return false
}
