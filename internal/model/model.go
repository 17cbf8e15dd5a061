// Package model defines the core domain types shared across the matching engine.
// Prices are integer basis points (1..10000) and amounts are integer base units;
// decimal values only appear at the presentation edge.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxPrice is 100% expressed in basis points.
const MaxPrice int64 = 10000

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further fills or cancels can apply.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a limit order for one outcome of one event.
// Invariant: 0 <= FilledAmount <= TotalAmount.
type Order struct {
	ID             string      `json:"order_id" db:"id"`
	EventID        string      `json:"event_id" db:"event_id"`
	OutcomeIndex   int         `json:"outcome_index" db:"outcome_index"`
	Side           Side        `json:"side" db:"side"`
	Price          int64       `json:"price" db:"price"` // basis points
	TotalAmount    int64       `json:"total_amount" db:"total_amount"`
	FilledAmount   int64       `json:"filled_amount" db:"filled_amount"`
	Status         OrderStatus `json:"status" db:"status"`
	Owner          string      `json:"owner" db:"owner"`
	Asset          string      `json:"asset" db:"asset"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	SequenceNumber uint64      `json:"sequence_number" db:"sequence_number"`

	// Locked is what is still held on behalf of this order: base units of
	// Asset for a buy, outcome units for a sell.
	Locked int64 `json:"locked" db:"locked"`

	// Revision increases with every journaled state change of the order.
	Revision uint64 `json:"revision" db:"revision"`
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() int64 {
	return o.TotalAmount - o.FilledAmount
}

// Trade is an immutable record of one fill between a resting (maker) order
// and an incoming (taker) order.
type Trade struct {
	ID           string    `json:"trade_id" db:"id"`
	EventID      string    `json:"event_id" db:"event_id"`
	OutcomeIndex int       `json:"outcome_index" db:"outcome_index"`
	Asset        string    `json:"asset" db:"asset"`
	Buyer        string    `json:"buyer" db:"buyer"`
	Seller       string    `json:"seller" db:"seller"`
	MakerOrderID string    `json:"maker_order_id" db:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id" db:"taker_order_id"`
	TakerSide    Side      `json:"taker_side" db:"taker_side"`
	Price        int64     `json:"price" db:"price"`
	Quantity     int64     `json:"quantity" db:"quantity"`
	Cost         int64     `json:"cost" db:"cost"`
	BuyerFee     int64     `json:"buyer_fee" db:"buyer_fee"`
	SellerFee    int64     `json:"seller_fee" db:"seller_fee"`
	ExecutedAt   time.Time `json:"executed_at" db:"executed_at"`
}

// Balance is the account record for one (owner, asset).
// Invariant: Available >= 0, Locked >= 0.
type Balance struct {
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

// Position is a holding of one outcome token. Locked units back resting
// sell orders.
type Position struct {
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	EventID      string `json:"event_id"`
	OutcomeIndex int    `json:"outcome_index"`
	Available    int64  `json:"available"`
	Locked       int64  `json:"locked"`
}

// Quantity returns the total held units.
func (p Position) Quantity() int64 {
	return p.Available + p.Locked
}

// PrizePool is the collateral backing all complete sets of an event.
type PrizePool struct {
	EventID string `json:"event_id"`
	Asset   string `json:"asset"`
	Total   int64  `json:"total"`
}

// EventStatus is the settlement state machine of an event.
type EventStatus string

const (
	EventActive     EventStatus = "ACTIVE"
	EventSettling   EventStatus = "SETTLING"
	EventSettled    EventStatus = "SETTLED"
	EventCancelling EventStatus = "CANCELLING"
	EventCancelled  EventStatus = "CANCELLED"
)

// Final reports whether the status is terminal.
func (s EventStatus) Final() bool {
	return s == EventSettled || s == EventCancelled
}

// Event is a prediction-market event with OutcomeCount mutually exclusive
// outcomes, all quoted in one Asset.
type Event struct {
	ID             string      `json:"event_id" db:"id"`
	Title          string      `json:"title" db:"title"`
	Asset          string      `json:"asset" db:"asset"`
	OutcomeCount   int         `json:"outcome_count" db:"outcome_count"`
	Status         EventStatus `json:"status" db:"status"`
	WinningOutcome *int        `json:"winning_outcome,omitempty" db:"winning_outcome"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	FinalizedAt    *time.Time  `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Settlement records the outcome of a prize-pool distribution.
type Settlement struct {
	EventID        string    `json:"event_id" db:"event_id"`
	Asset          string    `json:"asset" db:"asset"`
	WinningOutcome int       `json:"winning_outcome" db:"winning_outcome"`
	PoolTotal      int64     `json:"pool_total" db:"pool_total"`
	Distributed    int64     `json:"distributed" db:"distributed"`
	Remainder      int64     `json:"remainder" db:"remainder"`
	Winners        int       `json:"winners" db:"winners"`
	CancelledCount int       `json:"cancelled_orders" db:"cancelled_orders"`
	SettledAt      time.Time `json:"settled_at" db:"settled_at"`
}

// BookLevel is one aggregated price level of a book snapshot. It carries no
// owner information.
type BookLevel struct {
	Price       int64           `json:"price"`
	Probability decimal.Decimal `json:"probability"`
	Quantity    int64           `json:"quantity"`
	Orders      int             `json:"orders"`
}

// BookSnapshot is a read-only view of one (event, outcome) book.
// Bids are ordered best (highest) first, asks best (lowest) first.
type BookSnapshot struct {
	EventID      string      `json:"event_id"`
	OutcomeIndex int         `json:"outcome_index"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	Sequence     uint64      `json:"sequence"`
}

// Probability converts a basis-point price into a decimal fraction.
func Probability(price int64) decimal.Decimal {
	return decimal.New(price, -4)
}

// OutcomeHolding is one outcome line of a user's event position.
type OutcomeHolding struct {
	OutcomeIndex int             `json:"outcome_index"`
	Available    int64           `json:"available"`
	Locked       int64           `json:"locked"`
	LastPrice    int64           `json:"last_price,omitempty"`
	MarkValue    decimal.Decimal `json:"mark_value"`
}

// UserPosition aggregates a user's holdings in one event.
type UserPosition struct {
	Owner    string           `json:"owner"`
	EventID  string           `json:"event_id"`
	Asset    string           `json:"asset"`
	Status   EventStatus      `json:"status"`
	Outcomes []OutcomeHolding `json:"outcomes"`
	Value    decimal.Decimal  `json:"value"` // mark-to-market, in asset units
}

// Portfolio aggregates all event positions and balances for a user.
// Values are never netted across assets.
type Portfolio struct {
	Owner      string                     `json:"owner"`
	Balances   []Balance                  `json:"balances"`
	Positions  []UserPosition             `json:"positions"`
	TotalValue map[string]decimal.Decimal `json:"total_value"` // by asset
}
