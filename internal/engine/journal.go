package engine

import (
	"context"
	"time"

	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/fee"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
)

// effects collects what a critical section produced. It is flushed to the
// journal and the event stream once the book lock is released.
type effects struct {
	orders    []model.Order
	trades    []model.Trade
	fees      []fee.Charge
	placed    *model.Order
	cancelled []cancellation
}

type cancellation struct {
	order     model.Order
	remaining int64
	released  int64
	reason    string
}

// flush is best-effort: the in-memory state is authoritative and has already
// been committed.
func (e *Engine) flush(ctx context.Context, fx *effects) {
	if fx == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for i := range fx.orders {
		if err := e.store.UpsertOrder(ctx, &fx.orders[i]); err != nil {
			e.journalFailed("order", fx.orders[i].ID, err)
		}
	}
	for i := range fx.trades {
		if err := e.store.InsertTrade(ctx, &fx.trades[i]); err != nil {
			e.journalFailed("trade", fx.trades[i].ID, err)
		}
	}

	if o := fx.placed; o != nil {
		e.emitter.Emit(ctx, o.EventID, events.OrderPlaced{
			Envelope:     e.emitter.Envelope(events.TypeOrderPlaced),
			OrderID:      o.ID,
			EventID:      o.EventID,
			OutcomeIndex: o.OutcomeIndex,
			Owner:        o.Owner,
			Side:         string(o.Side),
			Price:        o.Price,
			Amount:       o.TotalAmount,
			Filled:       o.FilledAmount,
			Status:       string(o.Status),
			Sequence:     o.SequenceNumber,
		})
	}
	for _, t := range fx.trades {
		metrics.TradesTotal.WithLabelValues(string(t.TakerSide)).Inc()
		metrics.TradeVolume.WithLabelValues(t.Asset).Add(float64(t.Quantity))
		e.emitter.Emit(ctx, t.EventID, events.TradeExecuted{
			Envelope:     e.emitter.Envelope(events.TypeTradeExecuted),
			TradeID:      t.ID,
			EventID:      t.EventID,
			OutcomeIndex: t.OutcomeIndex,
			Asset:        t.Asset,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			TakerSide:    string(t.TakerSide),
			Price:        t.Price,
			Quantity:     t.Quantity,
			Cost:         t.Cost,
			ExecutedAt:   t.ExecutedAt.Format(time.RFC3339Nano),
		})
	}
	for _, c := range fx.cancelled {
		metrics.OrdersCancelled.WithLabelValues(c.reason).Inc()
		e.emitter.Emit(ctx, c.order.EventID, events.OrderCancelled{
			Envelope:     e.emitter.Envelope(events.TypeOrderCancelled),
			OrderID:      c.order.ID,
			EventID:      c.order.EventID,
			OutcomeIndex: c.order.OutcomeIndex,
			Owner:        c.order.Owner,
			Remaining:    c.remaining,
			Released:     c.released,
			Reason:       c.reason,
		})
	}
	for _, f := range fx.fees {
		e.emitter.Emit(ctx, f.Payer, events.FeeCollected{
			Envelope: e.emitter.Envelope(events.TypeFeeCollected),
			Payer:    f.Payer,
			Asset:    f.Asset,
			Amount:   f.Amount,
			Kind:     string(f.Kind),
		})
	}
}

func (e *Engine) journalFailed(record, id string, err error) {
	metrics.JournalFailures.WithLabelValues(record).Inc()
	e.logger.Error("journal write failed", "record", record, "id", id, "err", err)
}
