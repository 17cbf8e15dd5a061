// Package store defines the journal the engine writes after each critical
// section. Implementations include PostgreSQL (durable journal), Redis
// (read-through cache in front of it), and in-memory (for testing and
// development).
//
// The journal is an audit trail and query surface. Balances and resting
// books live in the engine process; a journal write failure never rolls back
// in-memory state.
package store

import (
	"context"
	"errors"

	"github.com/atmx/clob-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when creating a record that already exists.
	ErrConflict = errors.New("store: already exists")
)

// Store is the persistence interface.
type Store interface {
	// --- Events ---

	// CreateEvent persists a new event.
	CreateEvent(ctx context.Context, ev *model.Event) error

	// UpdateEvent overwrites status, winning outcome and finalization time.
	UpdateEvent(ctx context.Context, ev *model.Event) error

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListEvents returns all events, oldest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// --- Orders ---

	// UpsertOrder inserts or replaces the latest state of an order. A write
	// whose Revision is older than the stored one is dropped.
	UpsertOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves the latest journaled state of an order.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByOwner returns an owner's orders by sequence number.
	ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error)

	// --- Trades (immutable) ---

	// InsertTrade appends an immutable fill record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTradesByEvent returns all fills of an event in execution order.
	ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error)

	// --- Settlements ---

	// InsertSettlement records a completed distribution or cancellation.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// GetSettlement returns the settlement of an event.
	GetSettlement(ctx context.Context, eventID string) (*model.Settlement, error)
}
