// Package trade provides the HTTP handlers for events, orders, accounts and
// portfolios on top of the matching engine and settlement coordinator.
//
// Prices are integer basis points and amounts integer base units on the
// wire; decimal probabilities and mark values are presentation only.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/clob-engine/internal/engine"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/quant"
	"github.com/atmx/clob-engine/internal/settlement"
	"github.com/atmx/clob-engine/internal/store"
	"github.com/atmx/clob-engine/internal/tenant"
)

// Service exposes the engine over HTTP. It holds no state of its own; every
// handler is safe for concurrent use.
type Service struct {
	engine  *engine.Engine
	settler *settlement.Coordinator
}

// NewService creates a new trade service.
func NewService(eng *engine.Engine, settler *settlement.Coordinator) *Service {
	return &Service{engine: eng, settler: settler}
}

// Register mounts every route on r. Callers typically pass an /api/v1
// sub-router.
func (s *Service) Register(r chi.Router) {
	r.Get("/events", s.ListEvents)
	r.Post("/events", s.CreateEvent)
	r.Get("/events/{eventID}", s.GetEvent)
	r.Get("/events/{eventID}/book/{outcome}", s.GetBook)
	r.Get("/events/{eventID}/trades", s.ListTrades)
	r.Get("/events/{eventID}/settlement", s.GetSettlement)
	r.Post("/events/{eventID}/settle", s.SettleEvent)
	r.Post("/events/{eventID}/cancel", s.CancelEvent)
	r.Post("/events/{eventID}/mint", s.Mint)
	r.Post("/events/{eventID}/burn", s.Burn)

	r.Post("/orders", s.PlaceOrder)
	r.Post("/orders/cancel", s.CancelOrders)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	r.Post("/accounts/{owner}/deposit", s.Deposit)
	r.Post("/accounts/{owner}/withdraw", s.Withdraw)
	r.Get("/accounts/{owner}/balances/{asset}", s.GetBalance)
	r.Get("/accounts/{owner}/orders", s.ListOrders)

	r.Get("/portfolio/{owner}", s.GetPortfolio)
	r.Get("/portfolio/{owner}/events/{eventID}", s.GetUserPosition)
}

// --- Request types ---

// AmountRequest is the body of mint and burn.
type AmountRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

// TransferRequest is the body of deposit and withdraw.
type TransferRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// SettleRequest is the body of POST /events/{eventID}/settle. Proof is
// accepted for audit logging only; verification is the caller's job.
type SettleRequest struct {
	WinningOutcome *int   `json:"winning_outcome"`
	Proof          string `json:"proof,omitempty"`
}

// BatchCancelRequest is the body of POST /orders/cancel.
type BatchCancelRequest struct {
	Owner    string   `json:"owner"`
	OrderIDs []string `json:"order_ids"`
}

// --- Events ---

// CreateEvent handles POST /api/v1/events
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ev, err := s.engine.CreateEvent(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListEvents handles GET /api/v1/events
// Optional ?status=ACTIVE filter.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	list := s.engine.ListEvents()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.Event, 0, len(list))
		for _, ev := range list {
			if string(ev.Status) == status {
				filtered = append(filtered, ev)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.GetEvent(chi.URLParam(r, "eventID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetBook handles GET /api/v1/events/{eventID}/book/{outcome}?depth=N
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	outcome, err := strconv.Atoi(chi.URLParam(r, "outcome"))
	if err != nil {
		writeError(w, "outcome must be an integer", http.StatusBadRequest)
		return
	}
	depth := 0
	if q := r.URL.Query().Get("depth"); q != "" {
		if depth, err = strconv.Atoi(q); err != nil || depth < 0 {
			writeError(w, "depth must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	snap, err := s.engine.OrderBookSnapshot(chi.URLParam(r, "eventID"), outcome, depth)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTrades handles GET /api/v1/events/{eventID}/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.Trades(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetSettlement handles GET /api/v1/events/{eventID}/settlement
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Settlement(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SettleEvent handles POST /api/v1/events/{eventID}/settle
func (s *Service) SettleEvent(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WinningOutcome == nil {
		writeError(w, "winning_outcome is required", http.StatusBadRequest)
		return
	}
	eventID := chi.URLParam(r, "eventID")
	slog.Info("settlement requested",
		"event_id", eventID,
		"winning_outcome", *req.WinningOutcome,
		"proof", req.Proof,
	)
	res, err := s.settler.SettleEvent(r.Context(), eventID, *req.WinningOutcome)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelEvent handles POST /api/v1/events/{eventID}/cancel
func (s *Service) CancelEvent(w http.ResponseWriter, r *http.Request) {
	res, err := s.settler.CancelEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Mint handles POST /api/v1/events/{eventID}/mint
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	s.completeSet(w, r, s.engine.Mint)
}

// Burn handles POST /api/v1/events/{eventID}/burn
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	s.completeSet(w, r, s.engine.Burn)
}

func (s *Service) completeSet(w http.ResponseWriter, r *http.Request, op func(owner, eventID string, amount int64) error) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	eventID := chi.URLParam(r, "eventID")
	if err := op(req.Owner, eventID, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	pos, err := s.engine.UserPosition(req.Owner, eventID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- Orders ---

// haltedPlacement is the body of a placement that halted the book after
// some fills had already executed.
type haltedPlacement struct {
	Error  string        `json:"error"`
	Order  model.Order   `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// PlaceOrder handles POST /api/v1/orders
// A partially filled or resting order is a 200 with the order's status. A
// halt mid-match still reports the fills that executed before it.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.engine.PlaceOrder(r.Context(), req)
	if err != nil && res == nil {
		writeEngineError(w, err)
		return
	}
	if res.Trades == nil {
		res.Trades = []model.Trade{}
	}
	if err != nil {
		writeJSON(w, statusFor(err), haltedPlacement{Error: err.Error(), Order: res.Order, Trades: res.Trades})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}?owner=
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	res, err := s.engine.CancelOrder(r.Context(), owner, chi.URLParam(r, "orderID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelOrders handles POST /api/v1/orders/cancel
func (s *Service) CancelOrders(w http.ResponseWriter, r *http.Request) {
	var req BatchCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || len(req.OrderIDs) == 0 {
		writeError(w, "owner and order_ids are required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.CancelOrders(r.Context(), req.Owner, req.OrderIDs))
}

// --- Accounts ---

// Deposit handles POST /api/v1/accounts/{owner}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.engine.Deposit)
}

// Withdraw handles POST /api/v1/accounts/{owner}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.engine.Withdraw)
}

func (s *Service) transfer(w http.ResponseWriter, r *http.Request, op func(owner, asset string, amount int64) (model.Balance, error)) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bal, err := op(chi.URLParam(r, "owner"), req.Asset, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// GetBalance handles GET /api/v1/accounts/{owner}/balances/{asset}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Balance(chi.URLParam(r, "owner"), chi.URLParam(r, "asset")))
}

// ListOrders handles GET /api/v1/accounts/{owner}/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.OrdersByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{owner}
// Returns balances, event positions and mark-to-market value per asset.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf := s.engine.Portfolio(chi.URLParam(r, "owner"))
	if pf.Positions == nil {
		pf.Positions = []model.UserPosition{}
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetUserPosition handles GET /api/v1/portfolio/{owner}/events/{eventID}
func (s *Service) GetUserPosition(w http.ResponseWriter, r *http.Request) {
	up, err := s.engine.UserPosition(chi.URLParam(r, "owner"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// --- Errors ---

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrBookHalted), errors.Is(err, ledger.ErrInvalidState):
		return http.StatusInternalServerError
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, engine.ErrInvalidEvent),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, quant.ErrOverflow),
		errors.Is(err, tenant.ErrInvalidID),
		errors.Is(err, tenant.ErrAssetNotAllowed),
		errors.Is(err, settlement.ErrInvalidOutcome):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrEventNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientPosition),
		errors.Is(err, ledger.ErrIncompleteSet),
		errors.Is(err, engine.ErrEventNotActive),
		errors.Is(err, engine.ErrAlreadyFinalized),
		errors.Is(err, engine.ErrEventExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
