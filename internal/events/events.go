// Package events defines the outbound event envelope and payloads emitted by
// the engine, and the publishers that deliver them.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeOrderPlaced    = "order.placed"
	TypeOrderCancelled = "order.cancelled"
	TypeTradeExecuted  = "trade.executed"
	TypeEventSettled   = "event.settled"
	TypeEventCancelled = "event.cancelled"
	TypeFeeCollected   = "fee.collected"
)

// Version is the payload schema version stamped on every envelope.
const Version = 1

// Envelope is embedded in every payload.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   int       `json:"version"`
	Tenant    string    `json:"tenant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope stamps a fresh envelope.
func NewEnvelope(eventType, tenant string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Version:   Version,
		Tenant:    tenant,
		Timestamp: time.Now().UTC(),
	}
}

// OrderPlaced is emitted once per placement, after matching.
type OrderPlaced struct {
	Envelope
	OrderID      string `json:"order_id"`
	EventID      string `json:"event_id"`
	OutcomeIndex int    `json:"outcome_index"`
	Owner        string `json:"owner"`
	Side         string `json:"side"`
	Price        int64  `json:"price"`
	Amount       int64  `json:"amount"`
	Filled       int64  `json:"filled"`
	Status       string `json:"status"`
	Sequence     uint64 `json:"sequence"`
}

// OrderCancelled is emitted for user cancels and settlement sweeps.
type OrderCancelled struct {
	Envelope
	OrderID      string `json:"order_id"`
	EventID      string `json:"event_id"`
	OutcomeIndex int    `json:"outcome_index"`
	Owner        string `json:"owner"`
	Remaining    int64  `json:"remaining"`
	Released     int64  `json:"released"`
	Reason       string `json:"reason"`
}

// TradeExecuted is emitted per fill.
type TradeExecuted struct {
	Envelope
	TradeID      string `json:"trade_id"`
	EventID      string `json:"event_id"`
	OutcomeIndex int    `json:"outcome_index"`
	Asset        string `json:"asset"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
	TakerSide    string `json:"taker_side"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
	Cost         int64  `json:"cost"`
	ExecutedAt   string `json:"executed_at"`
}

// EventSettled is emitted when a prize pool has been distributed.
type EventSettled struct {
	Envelope
	EventID        string `json:"event_id"`
	Asset          string `json:"asset"`
	WinningOutcome int    `json:"winning_outcome"`
	PoolTotal      int64  `json:"pool_total"`
	Distributed    int64  `json:"distributed"`
	Remainder      int64  `json:"remainder"`
	Winners        int    `json:"winners"`
}

// EventCancelled is emitted when an event is voided.
type EventCancelled struct {
	Envelope
	EventID         string `json:"event_id"`
	CancelledOrders int    `json:"cancelled_orders"`
}

// FeeCollected is emitted per successful fee debit.
type FeeCollected struct {
	Envelope
	Payer  string `json:"payer"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
}
