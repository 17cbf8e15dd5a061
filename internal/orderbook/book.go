// Package orderbook maintains the resting orders of one (event, outcome)
// pair under price-time priority.
//
// Orders live in an arena keyed by order ID. Each side is a btree of price
// levels ordered best-first (bids descending, asks ascending); a level holds
// only a FIFO list of order IDs, so a fill or cancel is O(1) on the level and
// O(log levels) when the level empties.
//
// A Book is not safe for concurrent use. The engine serializes every access
// to one book behind a single mutex.
package orderbook

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/atmx/clob-engine/internal/model"
)

var (
	// ErrOrderNotFound is returned when the order is not resting in this book.
	ErrOrderNotFound = errors.New("orderbook: order not found")

	// ErrDuplicateOrder is returned when inserting an ID that already rests.
	ErrDuplicateOrder = errors.New("orderbook: duplicate order id")

	// ErrInvalidOrder is returned for orders that cannot rest in this book.
	ErrInvalidOrder = errors.New("orderbook: invalid order")

	// ErrNotFilled is returned by RemoveFilled for an order with remaining size.
	ErrNotFilled = errors.New("orderbook: order has remaining amount")
)

const btreeDegree = 32

type level struct {
	price int64
	ids   *list.List // of order IDs, oldest first
}

type entry struct {
	order *model.Order
	level *level
	elem  *list.Element
}

// Book is the order book of one outcome of one event.
type Book struct {
	eventID string
	outcome int

	bids   *btree.BTreeG[*level]
	asks   *btree.BTreeG[*level]
	orders map[string]*entry
}

// New creates an empty book.
func New(eventID string, outcome int) *Book {
	return &Book{
		eventID: eventID,
		outcome: outcome,
		// Min() is the best level on both sides.
		bids:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price > b.price }),
		asks:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price < b.price }),
		orders: make(map[string]*entry),
	}
}

// EventID returns the event this book belongs to.
func (b *Book) EventID() string { return b.eventID }

// OutcomeIndex returns the outcome this book trades.
func (b *Book) OutcomeIndex() int { return b.outcome }

// Len returns the number of resting orders.
func (b *Book) Len() int { return len(b.orders) }

func (b *Book) side(s model.Side) *btree.BTreeG[*level] {
	if s == model.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert appends order to the tail of its price level.
func (b *Book) Insert(o *model.Order) error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	case o.EventID != b.eventID || o.OutcomeIndex != b.outcome:
		return fmt.Errorf("%w: order %s belongs to %s/%d", ErrInvalidOrder, o.ID, o.EventID, o.OutcomeIndex)
	case !o.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case o.Price < 1 || o.Price > model.MaxPrice:
		return fmt.Errorf("%w: price %d", ErrInvalidOrder, o.Price)
	case o.Remaining() <= 0:
		return fmt.Errorf("%w: nothing remaining", ErrInvalidOrder)
	case o.Status.Terminal():
		return fmt.Errorf("%w: status %s", ErrInvalidOrder, o.Status)
	}
	if _, ok := b.orders[o.ID]; ok {
		return ErrDuplicateOrder
	}

	tree := b.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price, ids: list.New()}
		tree.ReplaceOrInsert(lvl)
	}
	b.orders[o.ID] = &entry{order: o, level: lvl, elem: lvl.ids.PushBack(o.ID)}
	return nil
}

// BestOpposing returns the best price on the side an order of side s would
// match against, and the earliest order resting there.
func (b *Book) BestOpposing(s model.Side) (int64, *model.Order, bool) {
	return b.best(s.Opposite())
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (int64, bool) {
	p, _, ok := b.best(model.SideBuy)
	return p, ok
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (int64, bool) {
	p, _, ok := b.best(model.SideSell)
	return p, ok
}

func (b *Book) best(s model.Side) (int64, *model.Order, bool) {
	lvl, ok := b.side(s).Min()
	if !ok {
		return 0, nil, false
	}
	id := lvl.ids.Front().Value.(string)
	return lvl.price, b.orders[id].order, true
}

// Get returns a resting order.
func (b *Book) Get(orderID string) (*model.Order, bool) {
	e, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	return e.order, true
}

// RemoveFilled removes an order whose remaining amount reached zero.
func (b *Book) RemoveFilled(orderID string) error {
	e, ok := b.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if e.order.Remaining() > 0 {
		return ErrNotFilled
	}
	b.remove(e)
	return nil
}

// Cancel removes a resting order regardless of its fill state and returns
// the amount that was still unfilled.
func (b *Book) Cancel(orderID string) (int64, error) {
	e, ok := b.orders[orderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	b.remove(e)
	return e.order.Remaining(), nil
}

func (b *Book) remove(e *entry) {
	e.level.ids.Remove(e.elem)
	if e.level.ids.Len() == 0 {
		b.side(e.order.Side).Delete(e.level)
	}
	delete(b.orders, e.order.ID)
}

// Orders returns every resting order, bids then asks, each side in
// price-time priority.
func (b *Book) Orders() []*model.Order {
	out := make([]*model.Order, 0, len(b.orders))
	for _, tree := range []*btree.BTreeG[*level]{b.bids, b.asks} {
		tree.Ascend(func(lvl *level) bool {
			for el := lvl.ids.Front(); el != nil; el = el.Next() {
				out = append(out, b.orders[el.Value.(string)].order)
			}
			return true
		})
	}
	return out
}

// Depth returns up to n aggregated levels per side, best first. n <= 0
// returns every level.
func (b *Book) Depth(n int) (bids, asks []model.BookLevel) {
	return b.aggregate(b.bids, n), b.aggregate(b.asks, n)
}

func (b *Book) aggregate(tree *btree.BTreeG[*level], n int) []model.BookLevel {
	out := make([]model.BookLevel, 0)
	tree.Ascend(func(lvl *level) bool {
		agg := model.BookLevel{Price: lvl.price, Probability: model.Probability(lvl.price)}
		for el := lvl.ids.Front(); el != nil; el = el.Next() {
			agg.Quantity += b.orders[el.Value.(string)].order.Remaining()
			agg.Orders++
		}
		out = append(out, agg)
		return n <= 0 || len(out) < n
	})
	return out
}

// Crossed reports whether the best bid is at or above the best ask.
func (b *Book) Crossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid >= ask
}
