package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/clob-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	if err := s.primary.CreateEvent(ctx, ev); err != nil {
		return err
	}
	s.cache(ctx, eventKey(ev.ID), ev)
	return nil
}

func (s *CachedStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	if err := s.primary.UpdateEvent(ctx, ev); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, eventKey(ev.ID))
	return nil
}

func (s *CachedStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpsertOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(o.ID), ownerOrdersKey(o.Owner))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, tradesKey(t.EventID))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.InsertSettlement(ctx, st); err != nil {
		return err
	}
	s.cache(ctx, settlementKey(st.EventID), st)
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var ev model.Event
	if s.lookup(ctx, eventKey(id), &ev) {
		return &ev, nil
	}
	out, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, eventKey(id), out)
	return out, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.lookup(ctx, orderKey(id), &o) {
		return &o, nil
	}
	out, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, orderKey(id), out)
	return out, nil
}

func (s *CachedStore) ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	var orders []model.Order
	if s.lookup(ctx, ownerOrdersKey(owner), &orders) {
		return orders, nil
	}
	out, err := s.primary.ListOrdersByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, ownerOrdersKey(owner), out)
	return out, nil
}

func (s *CachedStore) ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error) {
	var trades []model.Trade
	if s.lookup(ctx, tradesKey(eventID), &trades) {
		return trades, nil
	}
	out, err := s.primary.ListTradesByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, tradesKey(eventID), out)
	return out, nil
}

func (s *CachedStore) GetSettlement(ctx context.Context, eventID string) (*model.Settlement, error) {
	var st model.Settlement
	if s.lookup(ctx, settlementKey(eventID), &st) {
		return &st, nil
	}
	out, err := s.primary.GetSettlement(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, settlementKey(eventID), out)
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func eventKey(id string) string          { return fmt.Sprintf("clob:event:%s", id) }
func orderKey(id string) string          { return fmt.Sprintf("clob:order:%s", id) }
func ownerOrdersKey(owner string) string { return fmt.Sprintf("clob:orders:%s", owner) }
func tradesKey(eventID string) string    { return fmt.Sprintf("clob:trades:%s", eventID) }
func settlementKey(id string) string     { return fmt.Sprintf("clob:settlement:%s", id) }
