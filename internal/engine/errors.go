package engine

import "errors"

var (
	// ErrInvalidOrder is returned for malformed placement input. Nothing
	// was mutated.
	ErrInvalidOrder = errors.New("engine: invalid order")

	// ErrInvalidEvent is returned for malformed event definitions.
	ErrInvalidEvent = errors.New("engine: invalid event")

	// ErrOrderNotFound is returned when cancelling or reading an unknown,
	// already-terminal, or foreign order.
	ErrOrderNotFound = errors.New("engine: order not found")

	// ErrEventNotFound is returned for unknown event IDs.
	ErrEventNotFound = errors.New("engine: event not found")

	// ErrEventExists is returned when creating a duplicate event.
	ErrEventExists = errors.New("engine: event already exists")

	// ErrEventNotActive is returned for placement, cancel or mint once the
	// event has left Active.
	ErrEventNotActive = errors.New("engine: event not active")

	// ErrAlreadyFinalized is returned when settlement or cancellation is
	// requested for an event that is no longer Active.
	ErrAlreadyFinalized = errors.New("engine: event already finalized")

	// ErrBookHalted is returned once a book has observed a ledger invariant
	// violation. The book refuses all further work until reconciled.
	ErrBookHalted = errors.New("engine: order book halted")
)
