// Package ledger keeps per-user balances, outcome-token positions and event
// prize pools, and exposes the atomic primitives the matching engine and the
// settlement coordinator build on. It knows nothing about orders.
//
// State lives in flat keyed maps:
//
//	(owner, asset)                          -> balance
//	(owner, asset, eventID, outcomeIndex)   -> position
//	(eventID, asset)                        -> prize pool
//
// Concurrency: every (owner, asset) account has its own mutex, which also
// guards that owner's positions in that asset. Operations touching several
// accounts lock them in ascending (owner, asset) order; prize pools are
// always locked after accounts. The map mutex is a leaf lock.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/quant"
)

var (
	// ErrInsufficientBalance is returned when available < requested.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientPosition is returned when an outcome position is too small.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")

	// ErrInvalidState signals a caller bug: releasing or consuming more than
	// was locked. Never reachable under correct engine logic.
	ErrInvalidState = errors.New("ledger: invalid state")

	// ErrIncompleteSet is returned by BurnCompleteSet when any outcome
	// position is below the burn amount.
	ErrIncompleteSet = errors.New("ledger: incomplete set")

	// ErrInvalidAmount is returned for negative amounts or malformed input.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// AccountKey identifies a balance record.
type AccountKey struct {
	Owner string
	Asset string
}

func (k AccountKey) less(o AccountKey) bool {
	if k.Owner != o.Owner {
		return k.Owner < o.Owner
	}
	return k.Asset < o.Asset
}

// PositionKey identifies an outcome position.
type PositionKey struct {
	Owner        string
	Asset        string
	EventID      string
	OutcomeIndex int
}

// PoolKey identifies an event prize pool.
type PoolKey struct {
	EventID string
	Asset   string
}

type account struct {
	mu        sync.Mutex
	available int64
	locked    int64
}

type position struct {
	available int64
	locked    int64
}

type pool struct {
	mu    sync.Mutex
	total int64
}

// Ledger is the in-process balance store for one tenant.
type Ledger struct {
	treasury string

	mu        sync.RWMutex
	accounts  map[AccountKey]*account
	positions map[PositionKey]*position
	pools     map[PoolKey]*pool
}

// New creates an empty ledger. Fees and distribution remainders are credited
// to the treasury owner's account.
func New(treasury string) *Ledger {
	return &Ledger{
		treasury:  treasury,
		accounts:  make(map[AccountKey]*account),
		positions: make(map[PositionKey]*position),
		pools:     make(map[PoolKey]*pool),
	}
}

// Treasury returns the owner that receives fees and distribution dust.
func (l *Ledger) Treasury() string {
	return l.treasury
}

// --- Balance primitives ---

// Deposit credits amount to the owner's available balance.
func (l *Ledger) Deposit(owner, asset string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	next, err := quant.Add(a.available, amount)
	if err != nil {
		return fmt.Errorf("deposit %s/%s: %w", owner, asset, err)
	}
	a.available = next
	return nil
}

// Withdraw debits amount from the owner's available balance.
func (l *Ledger) Withdraw(owner, asset string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	if a.available < amount {
		return ErrInsufficientBalance
	}
	a.available -= amount
	return nil
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(owner, asset string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	if a.available < amount {
		return ErrInsufficientBalance
	}
	a.available -= amount
	a.locked += amount
	return nil
}

// Unlock moves amount from locked back to available.
func (l *Ledger) Unlock(owner, asset string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	if a.locked < amount {
		return fmt.Errorf("%w: unlock %d with %d locked for %s/%s", ErrInvalidState, amount, a.locked, owner, asset)
	}
	a.locked -= amount
	a.available += amount
	return nil
}

// Transfer moves amount from one owner's available balance to another's.
// Used by the fee vault to sweep fees into the treasury.
func (l *Ledger) Transfer(from, to, asset string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	src, dst := AccountKey{from, asset}, AccountKey{to, asset}
	accts, unlock := l.lockAccounts(src, dst)
	defer unlock()

	if accts[src].available < amount {
		return ErrInsufficientBalance
	}
	if src == dst {
		return nil
	}
	next, err := quant.Add(accts[dst].available, amount)
	if err != nil {
		return err
	}
	accts[src].available -= amount
	accts[dst].available = next
	return nil
}

// --- Position primitives ---

// LockPosition moves amount outcome units from available to locked, backing
// a resting sell order.
func (l *Ledger) LockPosition(owner, asset, eventID string, outcome int, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	p := l.position(PositionKey{owner, asset, eventID, outcome}, true)
	if p.available < amount {
		return ErrInsufficientPosition
	}
	p.available -= amount
	p.locked += amount
	return nil
}

// UnlockPosition releases locked outcome units back to available.
func (l *Ledger) UnlockPosition(owner, asset, eventID string, outcome int, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	p := l.position(PositionKey{owner, asset, eventID, outcome}, true)
	if p.locked < amount {
		return fmt.Errorf("%w: unlock position %d with %d locked for %s", ErrInvalidState, amount, p.locked, owner)
	}
	p.locked -= amount
	p.available += amount
	return nil
}

// TradeSettlement is the argument to SettleTrade.
type TradeSettlement struct {
	Buyer        string
	Seller       string
	Asset        string
	Cost         int64
	Quantity     int64
	EventID      string
	OutcomeIndex int
}

// SettleTrade applies one fill atomically: the buyer's locked funds pay the
// seller's available balance and the seller's locked outcome units move to
// the buyer's available position. All checks run before any mutation.
func (l *Ledger) SettleTrade(t TradeSettlement) error {
	if t.Cost < 0 || t.Quantity <= 0 {
		return ErrInvalidAmount
	}
	bk, sk := AccountKey{t.Buyer, t.Asset}, AccountKey{t.Seller, t.Asset}
	accts, unlock := l.lockAccounts(bk, sk)
	defer unlock()

	buyer, seller := accts[bk], accts[sk]
	buyerPos := l.position(PositionKey{t.Buyer, t.Asset, t.EventID, t.OutcomeIndex}, true)
	sellerPos := l.position(PositionKey{t.Seller, t.Asset, t.EventID, t.OutcomeIndex}, true)

	if buyer.locked < t.Cost {
		return fmt.Errorf("%w: buyer %s locked %d < cost %d", ErrInvalidState, t.Buyer, buyer.locked, t.Cost)
	}
	if sellerPos.locked < t.Quantity {
		return fmt.Errorf("%w: seller %s locked position %d < quantity %d", ErrInvalidState, t.Seller, sellerPos.locked, t.Quantity)
	}
	if _, err := quant.Add(seller.available, t.Cost); err != nil {
		return err
	}
	if _, err := quant.Add(buyerPos.available, t.Quantity); err != nil {
		return err
	}

	buyer.locked -= t.Cost
	seller.available += t.Cost
	sellerPos.locked -= t.Quantity
	buyerPos.available += t.Quantity
	return nil
}

// --- Complete sets ---

// MintCompleteSet converts amount of available collateral into amount units
// of every outcome and grows the event prize pool by amount.
func (l *Ledger) MintCompleteSet(owner, asset, eventID string, amount int64, outcomeCount int) error {
	if amount <= 0 || outcomeCount <= 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	if a.available < amount {
		return ErrInsufficientBalance
	}
	positions := make([]*position, outcomeCount)
	for i := range positions {
		positions[i] = l.position(PositionKey{owner, asset, eventID, i}, true)
		if _, err := quant.Add(positions[i].available, amount); err != nil {
			return err
		}
	}

	p := l.pool(PoolKey{eventID, asset})
	p.mu.Lock()
	defer p.mu.Unlock()
	total, err := quant.Add(p.total, amount)
	if err != nil {
		return err
	}

	a.available -= amount
	for _, pos := range positions {
		pos.available += amount
	}
	p.total = total
	return nil
}

// BurnCompleteSet reverses MintCompleteSet. Every outcome must hold at least
// amount available units.
func (l *Ledger) BurnCompleteSet(owner, asset, eventID string, amount int64, outcomeCount int) error {
	if amount <= 0 || outcomeCount <= 0 {
		return ErrInvalidAmount
	}
	a := l.lockAccount(AccountKey{owner, asset})
	defer a.mu.Unlock()

	positions := make([]*position, outcomeCount)
	for i := range positions {
		positions[i] = l.position(PositionKey{owner, asset, eventID, i}, true)
		if positions[i].available < amount {
			return ErrIncompleteSet
		}
	}

	p := l.pool(PoolKey{eventID, asset})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total < amount {
		return fmt.Errorf("%w: pool %s/%s holds %d, burn %d", ErrInvalidState, eventID, asset, p.total, amount)
	}

	for _, pos := range positions {
		pos.available -= amount
	}
	a.available += amount
	p.total -= amount
	return nil
}

// --- Prize distribution ---

// Reward is one winner's payout.
type Reward struct {
	Owner  string `json:"owner"`
	Weight int64  `json:"weight"`
	Amount int64  `json:"amount"`
}

// Distribution summarizes a DistributePrizePool call.
type Distribution struct {
	PoolTotal   int64    `json:"pool_total"`
	Distributed int64    `json:"distributed"`
	Remainder   int64    `json:"remainder"`
	Rewards     []Reward `json:"rewards"`
}

// DistributePrizePool pays floor(pool*weight[i]/sum(weights)) to each
// winner, zeroes each winner's winning-outcome position and empties the
// pool. The integer-division remainder (or the whole pool when there are no
// winners) is credited to the treasury.
func (l *Ledger) DistributePrizePool(eventID, asset string, winningOutcome int, winners []string, weights []int64) (*Distribution, error) {
	if len(winners) != len(weights) {
		return nil, fmt.Errorf("%w: %d winners, %d weights", ErrInvalidAmount, len(winners), len(weights))
	}
	var sum int64
	seen := make(map[string]struct{}, len(winners))
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("%w: weight %d for %s", ErrInvalidAmount, w, winners[i])
		}
		if _, dup := seen[winners[i]]; dup {
			return nil, fmt.Errorf("%w: duplicate winner %s", ErrInvalidAmount, winners[i])
		}
		seen[winners[i]] = struct{}{}
		var err error
		if sum, err = quant.Add(sum, w); err != nil {
			return nil, err
		}
	}

	keys := make([]AccountKey, 0, len(winners)+1)
	for _, w := range winners {
		keys = append(keys, AccountKey{w, asset})
	}
	keys = append(keys, AccountKey{l.treasury, asset})
	accts, unlock := l.lockAccounts(keys...)
	defer unlock()

	p := l.pool(PoolKey{eventID, asset})
	p.mu.Lock()
	defer p.mu.Unlock()

	dist := &Distribution{PoolTotal: p.total, Rewards: make([]Reward, len(winners))}
	for i, w := range winners {
		pos := l.position(PositionKey{w, asset, eventID, winningOutcome}, false)
		if pos != nil && pos.locked != 0 {
			return nil, fmt.Errorf("%w: %s has %d locked winning units", ErrInvalidState, w, pos.locked)
		}
		amount := int64(0)
		if sum > 0 {
			var err error
			if amount, err = quant.ProRata(p.total, weights[i], sum); err != nil {
				return nil, err
			}
		}
		dist.Rewards[i] = Reward{Owner: w, Weight: weights[i], Amount: amount}
		dist.Distributed += amount
	}
	dist.Remainder = p.total - dist.Distributed
	if dist.Remainder < 0 {
		return nil, fmt.Errorf("%w: distributed %d exceeds pool %d", ErrInvalidState, dist.Distributed, p.total)
	}

	for _, r := range dist.Rewards {
		accts[AccountKey{r.Owner, asset}].available += r.Amount
		if pos := l.position(PositionKey{r.Owner, asset, eventID, winningOutcome}, false); pos != nil {
			pos.available = 0
		}
	}
	accts[AccountKey{l.treasury, asset}].available += dist.Remainder
	p.total = 0
	return dist, nil
}

// --- Queries ---

// Balance returns a copy of the (owner, asset) balance record.
func (l *Ledger) Balance(owner, asset string) model.Balance {
	b := model.Balance{Owner: owner, Asset: asset}
	l.mu.RLock()
	a, ok := l.accounts[AccountKey{owner, asset}]
	l.mu.RUnlock()
	if !ok {
		return b
	}
	a.mu.Lock()
	b.Available, b.Locked = a.available, a.locked
	a.mu.Unlock()
	return b
}

// Balances returns every balance record of owner, ordered by asset.
func (l *Ledger) Balances(owner string) []model.Balance {
	l.mu.RLock()
	var assets []string
	for k := range l.accounts {
		if k.Owner == owner {
			assets = append(assets, k.Asset)
		}
	}
	l.mu.RUnlock()
	sort.Strings(assets)

	out := make([]model.Balance, 0, len(assets))
	for _, asset := range assets {
		out = append(out, l.Balance(owner, asset))
	}
	return out
}

// Position returns a copy of one outcome position.
func (l *Ledger) Position(owner, asset, eventID string, outcome int) model.Position {
	out := model.Position{Owner: owner, Asset: asset, EventID: eventID, OutcomeIndex: outcome}
	l.mu.RLock()
	a, ok := l.accounts[AccountKey{owner, asset}]
	l.mu.RUnlock()
	if !ok {
		return out
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p := l.position(PositionKey{owner, asset, eventID, outcome}, false); p != nil {
		out.Available, out.Locked = p.available, p.locked
	}
	return out
}

// Holders returns every owner with a non-zero position in the given
// outcome, sorted by owner, with their total quantity as weight.
func (l *Ledger) Holders(eventID, asset string, outcome int) ([]string, []int64) {
	l.mu.RLock()
	var owners []string
	for k := range l.positions {
		if k.EventID == eventID && k.Asset == asset && k.OutcomeIndex == outcome {
			owners = append(owners, k.Owner)
		}
	}
	l.mu.RUnlock()
	sort.Strings(owners)

	var (
		winners []string
		weights []int64
	)
	for _, owner := range owners {
		if q := l.Position(owner, asset, eventID, outcome).Quantity(); q > 0 {
			winners = append(winners, owner)
			weights = append(weights, q)
		}
	}
	return winners, weights
}

// EventPositions returns owner's positions in eventID, ordered by outcome.
func (l *Ledger) EventPositions(owner, asset, eventID string, outcomeCount int) []model.Position {
	out := make([]model.Position, outcomeCount)
	for i := range out {
		out[i] = l.Position(owner, asset, eventID, i)
	}
	return out
}

// Pool returns the prize pool of an event.
func (l *Ledger) Pool(eventID, asset string) model.PrizePool {
	out := model.PrizePool{EventID: eventID, Asset: asset}
	l.mu.RLock()
	p, ok := l.pools[PoolKey{eventID, asset}]
	l.mu.RUnlock()
	if ok {
		p.mu.Lock()
		out.Total = p.total
		p.mu.Unlock()
	}
	return out
}

// --- Internal lock helpers ---

func (l *Ledger) getAccount(k AccountKey) *account {
	l.mu.RLock()
	a, ok := l.accounts[k]
	l.mu.RUnlock()
	if ok {
		return a
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[k]; !ok {
		a = &account{}
		l.accounts[k] = a
	}
	return a
}

func (l *Ledger) lockAccount(k AccountKey) *account {
	a := l.getAccount(k)
	a.mu.Lock()
	return a
}

// lockAccounts locks the distinct keys in ascending order.
func (l *Ledger) lockAccounts(keys ...AccountKey) (map[AccountKey]*account, func()) {
	uniq := make([]AccountKey, 0, len(keys))
	accts := make(map[AccountKey]*account, len(keys))
	for _, k := range keys {
		if _, ok := accts[k]; ok {
			continue
		}
		accts[k] = l.getAccount(k)
		uniq = append(uniq, k)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].less(uniq[j]) })
	for _, k := range uniq {
		accts[k].mu.Lock()
	}
	return accts, func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			accts[uniq[i]].mu.Unlock()
		}
	}
}

// position must be called with the owning account locked.
func (l *Ledger) position(k PositionKey, create bool) *position {
	l.mu.RLock()
	p, ok := l.positions[k]
	l.mu.RUnlock()
	if ok || !create {
		return p
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok = l.positions[k]; !ok {
		p = &position{}
		l.positions[k] = p
	}
	return p
}

func (l *Ledger) pool(k PoolKey) *pool {
	l.mu.RLock()
	p, ok := l.pools[k]
	l.mu.RUnlock()
	if ok {
		return p
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok = l.pools[k]; !ok {
		p = &pool{}
		l.pools[k] = p
	}
	return p
}
