// Package settlement drives an event from Active to its terminal state:
// close the books, cancel every resting order, then either distribute the
// prize pool to the winning outcome's holders or leave positions burnable.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/clob-engine/internal/engine"
	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
)

// ErrInvalidOutcome is returned when the winning outcome index is outside
// the event's outcome range. Nothing was mutated.
var ErrInvalidOutcome = errors.New("settlement: invalid winning outcome")

// Result reports a finalized event.
type Result struct {
	Event           model.Event       `json:"event"`
	CancelledOrders int               `json:"cancelled_orders"`
	Settlement      *model.Settlement `json:"settlement,omitempty"`
	Rewards         []ledger.Reward   `json:"rewards,omitempty"`
}

// Coordinator finalizes events. Settled and Cancelled are terminal; the
// engine's state machine guarantees one finalization per event.
type Coordinator struct {
	engine  *engine.Engine
	ledger  *ledger.Ledger
	store   store.Store
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator sharing the engine's ledger, journal
// and event stream.
func NewCoordinator(eng *engine.Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		engine:  eng,
		ledger:  eng.Ledger(),
		store:   eng.Store(),
		emitter: eng.Emitter(),
		logger:  logger.With("component", "settlement"),
	}
}

// SettleEvent resolves eventID with winning as the winning outcome. Every
// holder of the winning outcome receives a share of the prize pool
// proportional to the units held; the integer-division remainder goes to
// the treasury.
func (c *Coordinator) SettleEvent(ctx context.Context, eventID string, winning int) (*Result, error) {
	ev, err := c.engine.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	if winning < 0 || winning >= ev.OutcomeCount {
		return nil, fmt.Errorf("%w: %d outside [0, %d)", ErrInvalidOutcome, winning, ev.OutcomeCount)
	}
	if _, err := c.engine.BeginFinalize(ctx, eventID, model.EventSettling); err != nil {
		return nil, err
	}

	cancelled, err := c.engine.DrainEvent(ctx, eventID)
	if err != nil {
		return nil, c.stuck(eventID, "drain", err)
	}

	winners, weights := c.ledger.Holders(eventID, ev.Asset, winning)
	dist, err := c.ledger.DistributePrizePool(eventID, ev.Asset, winning, winners, weights)
	if err != nil {
		return nil, c.stuck(eventID, "distribute", err)
	}

	final, err := c.engine.CompleteFinalize(ctx, eventID, model.EventSettled, &winning)
	if err != nil {
		return nil, c.stuck(eventID, "complete", err)
	}

	st := &model.Settlement{
		EventID:        eventID,
		Asset:          ev.Asset,
		WinningOutcome: winning,
		PoolTotal:      dist.PoolTotal,
		Distributed:    dist.Distributed,
		Remainder:      dist.Remainder,
		Winners:        len(dist.Rewards),
		CancelledCount: cancelled,
		SettledAt:      time.Now().UTC(),
	}
	jctx := context.WithoutCancel(ctx)
	if err := c.store.InsertSettlement(jctx, st); err != nil {
		metrics.JournalFailures.WithLabelValues("settlement").Inc()
		c.logger.Error("journal write failed", "record", "settlement", "id", eventID, "err", err)
	}
	c.emitter.Emit(jctx, eventID, events.EventSettled{
		Envelope:       c.emitter.Envelope(events.TypeEventSettled),
		EventID:        eventID,
		Asset:          ev.Asset,
		WinningOutcome: winning,
		PoolTotal:      dist.PoolTotal,
		Distributed:    dist.Distributed,
		Remainder:      dist.Remainder,
		Winners:        len(dist.Rewards),
	})
	metrics.Settlements.WithLabelValues("settled").Inc()

	for _, r := range dist.Rewards {
		c.logger.Debug("prize paid", "event_id", eventID, "owner", r.Owner, "weight", r.Weight, "amount", r.Amount)
	}
	c.logger.Info("event settled",
		"event_id", eventID,
		"winning_outcome", winning,
		"pool", dist.PoolTotal,
		"distributed", dist.Distributed,
		"remainder", dist.Remainder,
		"winners", len(dist.Rewards),
		"cancelled_orders", cancelled,
	)
	return &Result{Event: *final, CancelledOrders: cancelled, Settlement: st, Rewards: dist.Rewards}, nil
}

// CancelEvent voids eventID. Resting orders are cancelled and their locks
// released; the prize pool is untouched and complete sets stay burnable.
func (c *Coordinator) CancelEvent(ctx context.Context, eventID string) (*Result, error) {
	if _, err := c.engine.BeginFinalize(ctx, eventID, model.EventCancelling); err != nil {
		return nil, err
	}
	cancelled, err := c.engine.DrainEvent(ctx, eventID)
	if err != nil {
		return nil, c.stuck(eventID, "drain", err)
	}
	final, err := c.engine.CompleteFinalize(ctx, eventID, model.EventCancelled, nil)
	if err != nil {
		return nil, c.stuck(eventID, "complete", err)
	}

	c.emitter.Emit(context.WithoutCancel(ctx), eventID, events.EventCancelled{
		Envelope:        c.emitter.Envelope(events.TypeEventCancelled),
		EventID:         eventID,
		CancelledOrders: cancelled,
	})
	metrics.Settlements.WithLabelValues("cancelled").Inc()
	c.logger.Info("event cancelled", "event_id", eventID, "cancelled_orders", cancelled)
	return &Result{Event: *final, CancelledOrders: cancelled}, nil
}

// stuck reports a failure after the event left Active. The event stays in
// its transitional state for manual reconciliation.
func (c *Coordinator) stuck(eventID, step string, err error) error {
	metrics.Settlements.WithLabelValues("failed").Inc()
	c.logger.Error("finalization failed", "event_id", eventID, "step", step, "err", err)
	return fmt.Errorf("finalize %s: %s: %w", eventID, step, err)
}
