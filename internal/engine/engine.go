// Package engine is the matching engine and event registry.
//
// Every (eventID, outcomeIndex) book is an independent critical section:
// placement, cancellation and the settlement sweep on one book are mutually
// exclusive, while different books proceed in parallel. Lock order is
// book -> market -> ledger accounts -> prize pool; the engine-wide map lock
// is a leaf.
//
// Journal writes, outbound events and fee notifications are produced inside
// the critical section but delivered after it is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/fee"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/limits"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/orderbook"
	"github.com/atmx/clob-engine/internal/store"
	"github.com/atmx/clob-engine/internal/tenant"
)

// Outcome count bounds for a new event.
const (
	MinOutcomes = 2
	MaxOutcomes = 32
)

// Options wires the engine's collaborators. Ledger and Tenant are required.
type Options struct {
	Ledger  *ledger.Ledger
	Tenant  *tenant.Tenant
	Vault   fee.Vault            // defaults to a LedgerVault on Ledger
	Store   store.Store          // defaults to a MemoryStore
	Emitter *events.Emitter      // defaults to dropping events
	Limiter *limits.OrderLimiter // nil disables limits
	Logger  *slog.Logger
}

// Engine owns every order book of one tenant.
type Engine struct {
	ledger  *ledger.Ledger
	tenant  *tenant.Tenant
	vault   fee.Vault
	store   store.Store
	emitter *events.Emitter
	limiter *limits.OrderLimiter
	logger  *slog.Logger

	seq atomic.Uint64

	mu      sync.RWMutex
	markets map[string]*market
	resting map[string]*book // order ID -> book it rests in
}

// market is one event and its per-outcome books. asset and books are
// immutable after creation; event is guarded by mu.
type market struct {
	asset string
	books []*book

	mu    sync.RWMutex
	event model.Event
}

func (m *market) snapshot() model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.event
}

// book is the critical section around one orderbook.Book.
type book struct {
	mu        sync.Mutex
	ob        *orderbook.Book
	market    *market
	closed    bool
	halted    bool
	lastPrice int64
	version   uint64
	open      map[string]int // resting orders per owner
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("engine: ledger required")
	}
	if opts.Tenant == nil {
		return nil, errors.New("engine: tenant required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Vault == nil {
		opts.Vault = fee.NewLedgerVault(opts.Ledger)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter(nil, "", opts.Tenant.ID, opts.Logger)
	}
	return &Engine{
		ledger:  opts.Ledger,
		tenant:  opts.Tenant,
		vault:   opts.Vault,
		store:   opts.Store,
		emitter: opts.Emitter,
		limiter: opts.Limiter,
		logger:  opts.Logger.With("component", "engine"),
		markets: make(map[string]*market),
		resting: make(map[string]*book),
	}, nil
}

// Ledger returns the ledger the engine settles against.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Tenant returns the tenant configuration.
func (e *Engine) Tenant() *tenant.Tenant { return e.tenant }

// Store returns the journal.
func (e *Engine) Store() store.Store { return e.store }

// Emitter returns the outbound event emitter.
func (e *Engine) Emitter() *events.Emitter { return e.emitter }

// --- Event registry ---

// CreateEventRequest defines a new event.
type CreateEventRequest struct {
	ID           string `json:"event_id"`
	Title        string `json:"title"`
	Asset        string `json:"asset"`
	OutcomeCount int    `json:"outcome_count"`
}

// CreateEvent registers an event and opens one empty book per outcome. An
// empty ID is replaced by a random one.
func (e *Engine) CreateEvent(ctx context.Context, req CreateEventRequest) (*model.Event, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := tenant.ValidateID("event", req.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if req.OutcomeCount < MinOutcomes || req.OutcomeCount > MaxOutcomes {
		return nil, fmt.Errorf("%w: outcome count %d outside [%d, %d]", ErrInvalidEvent, req.OutcomeCount, MinOutcomes, MaxOutcomes)
	}
	if err := e.tenant.AllowsAsset(req.Asset); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	m := &market{
		asset: req.Asset,
		books: make([]*book, req.OutcomeCount),
		event: model.Event{
			ID:           req.ID,
			Title:        req.Title,
			Asset:        req.Asset,
			OutcomeCount: req.OutcomeCount,
			Status:       model.EventActive,
			CreatedAt:    time.Now().UTC(),
		},
	}
	for i := range m.books {
		m.books[i] = &book{ob: orderbook.New(req.ID, i), market: m, open: make(map[string]int)}
	}

	e.mu.Lock()
	if _, ok := e.markets[req.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrEventExists, req.ID)
	}
	e.markets[req.ID] = m
	e.mu.Unlock()

	ev := m.event
	if err := e.store.CreateEvent(context.WithoutCancel(ctx), &ev); err != nil {
		e.journalFailed("event", ev.ID, err)
	}
	metrics.ActiveEvents.Inc()
	e.logger.Info("event created",
		"event_id", ev.ID,
		"asset", ev.Asset,
		"outcomes", ev.OutcomeCount,
	)
	return &ev, nil
}

// GetEvent returns an event by ID.
func (e *Engine) GetEvent(eventID string) (*model.Event, error) {
	m, err := e.market(eventID)
	if err != nil {
		return nil, err
	}
	ev := m.snapshot()
	return &ev, nil
}

// ListEvents returns every event, oldest first.
func (e *Engine) ListEvents() []model.Event {
	e.mu.RLock()
	out := make([]model.Event, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m.snapshot())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) market(eventID string) (*market, error) {
	e.mu.RLock()
	m, ok := e.markets[eventID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return m, nil
}

// --- Accounts ---

// Deposit credits collateral to an owner.
func (e *Engine) Deposit(owner, asset string, amount int64) (model.Balance, error) {
	if err := e.checkAccount(owner, asset); err != nil {
		return model.Balance{}, err
	}
	if err := e.ledger.Deposit(owner, asset, amount); err != nil {
		return model.Balance{}, err
	}
	return e.ledger.Balance(owner, asset), nil
}

// Withdraw debits available collateral from an owner.
func (e *Engine) Withdraw(owner, asset string, amount int64) (model.Balance, error) {
	if err := e.checkAccount(owner, asset); err != nil {
		return model.Balance{}, err
	}
	if err := e.ledger.Withdraw(owner, asset, amount); err != nil {
		return model.Balance{}, err
	}
	return e.ledger.Balance(owner, asset), nil
}

// Balance returns an owner's balance in asset.
func (e *Engine) Balance(owner, asset string) model.Balance {
	return e.ledger.Balance(owner, asset)
}

func (e *Engine) checkAccount(owner, asset string) error {
	if err := tenant.ValidateID("owner", owner); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if err := e.tenant.AllowsAsset(asset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	return nil
}

// --- Complete sets ---

// Mint converts amount collateral into amount units of every outcome of an
// Active event.
func (e *Engine) Mint(owner, eventID string, amount int64) error {
	if err := tenant.ValidateID("owner", owner); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	m, err := e.market(eventID)
	if err != nil {
		return err
	}

	// Held across the ledger call so settlement cannot start mid-mint.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.event.Status != model.EventActive {
		return fmt.Errorf("%w: %s is %s", ErrEventNotActive, eventID, m.event.Status)
	}
	return e.ledger.MintCompleteSet(owner, m.asset, eventID, amount, m.event.OutcomeCount)
}

// Burn redeems amount complete sets. Allowed while the event is Active and
// indefinitely after it was cancelled.
func (e *Engine) Burn(owner, eventID string, amount int64) error {
	if err := tenant.ValidateID("owner", owner); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	m, err := e.market(eventID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.event.Status; s != model.EventActive && s != model.EventCancelled {
		return fmt.Errorf("%w: %s is %s", ErrEventNotActive, eventID, s)
	}
	return e.ledger.BurnCompleteSet(owner, m.asset, eventID, amount, m.event.OutcomeCount)
}
