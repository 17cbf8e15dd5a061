package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/clob-engine/internal/fee"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/quant"
	"github.com/atmx/clob-engine/internal/tenant"
)

// PlaceOrderRequest is a limit order submission.
type PlaceOrderRequest struct {
	Owner        string     `json:"owner"`
	EventID      string     `json:"event_id"`
	OutcomeIndex int        `json:"outcome_index"`
	Side         model.Side `json:"side"`
	Price        int64      `json:"price"` // basis points
	Amount       int64      `json:"amount"`
	Asset        string     `json:"asset"`
}

// PlacementResult is the outcome of a placement. A partial fill is not an
// error: Order.Status is Pending (rested, unfilled), Partial (rested after
// some fills) or Filled.
type PlacementResult struct {
	Order  model.Order   `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// Resting reports whether any part of the order remains in the book.
func (r *PlacementResult) Resting() bool {
	return !r.Order.Status.Terminal()
}

// PlaceOrder locks the order's funds, matches it against the opposing side
// under price-time priority and rests any remainder.
//
// Validation, the placement fee, the fund lock and the halted/closed checks
// are preconditions:
// a failure there returns an error and mutates nothing. Once matching starts
// each fill is pre-validated against the counterparties' locked amounts; an
// inconsistency halts the book and returns the fills completed so far
// together with ErrBookHalted.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlacementResult, error) {
	m, err := e.validatePlacement(req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}
	bk := m.books[req.OutcomeIndex]

	start := time.Now()
	bk.mu.Lock()
	res, fx, err := e.place(ctx, bk, req)
	bk.mu.Unlock()
	metrics.MatchLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())

	if res == nil {
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	e.flush(ctx, fx)
	metrics.OrdersPlaced.WithLabelValues(string(req.Side), string(res.Order.Status)).Inc()
	return res, err
}

func (e *Engine) validatePlacement(req PlaceOrderRequest) (*market, error) {
	switch {
	case !req.Side.Valid():
		return nil, fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	case req.Price < 1 || req.Price > model.MaxPrice:
		return nil, fmt.Errorf("%w: price %d outside [1, %d]", ErrInvalidOrder, req.Price, model.MaxPrice)
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if err := tenant.ValidateID("owner", req.Owner); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if err := e.limiter.CheckOrder(req.Amount, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	m, err := e.market(req.EventID)
	if err != nil {
		return nil, err
	}
	if req.OutcomeIndex < 0 || req.OutcomeIndex >= len(m.books) {
		return nil, fmt.Errorf("%w: outcome %d outside [0, %d)", ErrInvalidOrder, req.OutcomeIndex, len(m.books))
	}
	if req.Asset != m.asset {
		return nil, fmt.Errorf("%w: event %s trades in %s, not %s", ErrInvalidOrder, req.EventID, m.asset, req.Asset)
	}
	if s := m.snapshot().Status; s != model.EventActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrEventNotActive, req.EventID, s)
	}
	return m, nil
}

// place runs with bk.mu held.
func (e *Engine) place(ctx context.Context, bk *book, req PlaceOrderRequest) (*PlacementResult, *effects, error) {
	// The settlement sweep closes the book before draining it; the status
	// check covers the window between BeginFinalize and the sweep.
	if bk.closed || bk.market.snapshot().Status != model.EventActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrEventNotActive, req.EventID)
	}
	if bk.halted {
		return nil, nil, ErrBookHalted
	}
	if err := e.limiter.CheckOrder(req.Amount, bk.open[req.Owner]); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	placementFee, err := e.tenant.Fees.Placement(req.Amount, req.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if placementFee > 0 {
		if err := e.vault.CollectFee(ctx, req.Owner, req.Asset, placementFee, fee.KindPlacement); err != nil {
			return nil, nil, err
		}
	}

	lock, err := e.lockFor(req)
	if err != nil {
		e.refundFee(ctx, req.Owner, req.Asset, placementFee, fee.KindPlacement)
		return nil, nil, err
	}

	taker := &model.Order{
		ID:             uuid.NewString(),
		EventID:        req.EventID,
		OutcomeIndex:   req.OutcomeIndex,
		Side:           req.Side,
		Price:          req.Price,
		TotalAmount:    req.Amount,
		Status:         model.StatusPending,
		Owner:          req.Owner,
		Asset:          req.Asset,
		CreatedAt:      time.Now().UTC(),
		SequenceNumber: e.seq.Add(1),
		Locked:         lock,
	}
	fx := &effects{}
	if placementFee > 0 {
		fx.fees = append(fx.fees, fee.Charge{Payer: taker.Owner, Asset: taker.Asset, Amount: placementFee, Kind: fee.KindPlacement})
	}

	res := &PlacementResult{Order: *taker}
	err = e.match(ctx, bk, taker, res, fx)
	bk.version++

	res.Order = journaled(taker)
	fx.orders = append([]model.Order{res.Order}, fx.orders...)
	fx.placed = &res.Order
	return res, fx, err
}

// lockFor locks the order's collateral: the full cost of a buy, the outcome
// units of a sell.
func (e *Engine) lockFor(req PlaceOrderRequest) (int64, error) {
	if req.Side == model.SideSell {
		if err := e.ledger.LockPosition(req.Owner, req.Asset, req.EventID, req.OutcomeIndex, req.Amount); err != nil {
			return 0, err
		}
		return req.Amount, nil
	}
	cost, err := quant.Cost(req.Amount, req.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if err := e.ledger.Lock(req.Owner, req.Asset, cost); err != nil {
		return 0, err
	}
	return cost, nil
}

// journaled bumps the order's revision and returns the copy to persist.
// Stores drop writes older than the revision they hold, so effects flushed
// out of order never regress an order.
func journaled(o *model.Order) model.Order {
	o.Revision++
	return *o
}

// match walks the opposing side while it crosses taker's limit. Trades
// execute at the resting order's price.
func (e *Engine) match(ctx context.Context, bk *book, taker *model.Order, res *PlacementResult, fx *effects) error {
	for taker.Remaining() > 0 {
		price, maker, ok := bk.ob.BestOpposing(taker.Side)
		if !ok || !crosses(taker.Side, taker.Price, price) {
			break
		}

		qty := min(taker.Remaining(), maker.Remaining())
		cost, err := quant.Cost(qty, price)
		if err != nil {
			return e.halt(bk, err)
		}

		buyer, seller := taker, maker
		if taker.Side == model.SideSell {
			buyer, seller = maker, taker
		}
		if buyer.Locked < cost || seller.Locked < qty {
			return e.halt(bk, fmt.Errorf("%w: order %s locked %d for cost %d, order %s locked %d for quantity %d",
				ledger.ErrInvalidState, buyer.ID, buyer.Locked, cost, seller.ID, seller.Locked, qty))
		}
		if err := e.ledger.SettleTrade(ledger.TradeSettlement{
			Buyer:        buyer.Owner,
			Seller:       seller.Owner,
			Asset:        taker.Asset,
			Cost:         cost,
			Quantity:     qty,
			EventID:      taker.EventID,
			OutcomeIndex: taker.OutcomeIndex,
		}); err != nil {
			return e.halt(bk, err)
		}

		buyer.Locked -= cost
		seller.Locked -= qty
		taker.FilledAmount += qty
		maker.FilledAmount += qty
		bk.lastPrice = price

		trade := model.Trade{
			ID:           uuid.NewString(),
			EventID:      taker.EventID,
			OutcomeIndex: taker.OutcomeIndex,
			Asset:        taker.Asset,
			Buyer:        buyer.Owner,
			Seller:       seller.Owner,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			TakerSide:    taker.Side,
			Price:        price,
			Quantity:     qty,
			Cost:         cost,
			ExecutedAt:   time.Now().UTC(),
		}
		if buyerFee, sellerFee, err := e.tenant.Fees.Trade(cost); err == nil {
			trade.BuyerFee = e.collectFee(ctx, fx, buyer.Owner, taker.Asset, buyerFee, fee.KindTrade)
			trade.SellerFee = e.collectFee(ctx, fx, seller.Owner, taker.Asset, sellerFee, fee.KindTrade)
		}

		if maker.Remaining() == 0 {
			maker.Status = model.StatusFilled
			if err := bk.ob.RemoveFilled(maker.ID); err != nil {
				return e.halt(bk, err)
			}
			if err := e.release(maker); err != nil {
				return e.halt(bk, err)
			}
			e.unrest(bk, maker)
		} else {
			maker.Status = model.StatusPartial
		}

		res.Trades = append(res.Trades, trade)
		fx.trades = append(fx.trades, trade)
		fx.orders = append(fx.orders, journaled(maker))
	}

	if taker.Remaining() == 0 {
		taker.Status = model.StatusFilled
		// A buy filled below its limit keeps the price-improvement lock.
		if err := e.release(taker); err != nil {
			return e.halt(bk, err)
		}
		return nil
	}

	if taker.FilledAmount > 0 {
		taker.Status = model.StatusPartial
	}
	if err := bk.ob.Insert(taker); err != nil {
		return e.halt(bk, err)
	}
	e.rest(bk, taker)
	return nil
}

func crosses(side model.Side, limit, opposing int64) bool {
	if side == model.SideBuy {
		return opposing <= limit
	}
	return opposing >= limit
}

// release returns whatever is still locked for o to its owner.
func (e *Engine) release(o *model.Order) error {
	if o.Locked == 0 {
		return nil
	}
	var err error
	if o.Side == model.SideBuy {
		err = e.ledger.Unlock(o.Owner, o.Asset, o.Locked)
	} else {
		err = e.ledger.UnlockPosition(o.Owner, o.Asset, o.EventID, o.OutcomeIndex, o.Locked)
	}
	if err != nil {
		return err
	}
	o.Locked = 0
	return nil
}

func (e *Engine) rest(bk *book, o *model.Order) {
	bk.open[o.Owner]++
	e.mu.Lock()
	e.resting[o.ID] = bk
	e.mu.Unlock()
}

func (e *Engine) unrest(bk *book, o *model.Order) {
	if bk.open[o.Owner] <= 1 {
		delete(bk.open, o.Owner)
	} else {
		bk.open[o.Owner]--
	}
	e.mu.Lock()
	delete(e.resting, o.ID)
	e.mu.Unlock()
}

// halt marks the book unusable after a ledger inconsistency.
func (e *Engine) halt(bk *book, cause error) error {
	bk.halted = true
	metrics.BookHalts.Inc()
	e.logger.Error("order book halted: ledger invariant violated",
		"event_id", bk.ob.EventID(),
		"outcome", bk.ob.OutcomeIndex(),
		"err", cause,
	)
	return fmt.Errorf("%w: %w", ErrBookHalted, cause)
}

// refundFee returns a placement fee whose order never reached the book.
func (e *Engine) refundFee(ctx context.Context, payer, asset string, amount int64, kind fee.Kind) {
	if amount <= 0 {
		return
	}
	if err := e.vault.RefundFee(ctx, payer, asset, amount, kind); err != nil {
		metrics.FeeFailures.WithLabelValues(string(kind) + "_refund").Inc()
		e.logger.Error("fee refund failed",
			"payer", payer,
			"asset", asset,
			"amount", amount,
			"kind", kind,
			"err", err,
		)
	}
}

// collectFee runs inside the critical section and returns the amount
// actually collected. Failures are logged and never undo the order or fill.
func (e *Engine) collectFee(ctx context.Context, fx *effects, payer, asset string, amount int64, kind fee.Kind) int64 {
	if amount <= 0 {
		return 0
	}
	if err := e.vault.CollectFee(ctx, payer, asset, amount, kind); err != nil {
		metrics.FeeFailures.WithLabelValues(string(kind)).Inc()
		e.logger.Warn("fee collection failed",
			"payer", payer,
			"asset", asset,
			"amount", amount,
			"kind", kind,
			"err", err,
		)
		return 0
	}
	fx.fees = append(fx.fees, fee.Charge{Payer: payer, Asset: asset, Amount: amount, Kind: kind})
	return amount
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrBookHalted):
		return "halted"
	case errors.Is(err, ErrEventNotActive):
		return "event_not_active"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return "insufficient_position"
	default:
		return "invalid"
	}
}
