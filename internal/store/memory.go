package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/clob-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]*model.Event
	orders      map[string]*model.Order
	trades      []model.Trade
	settlements map[string]*model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]*model.Event),
		orders:      make(map[string]*model.Order),
		settlements: make(map[string]*model.Settlement),
	}
}

func (s *MemoryStore) CreateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; ok {
		return fmt.Errorf("event %s: %w", ev.ID, ErrConflict)
	}
	// Store a copy to avoid external mutation.
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[ev.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", ev.ID, ErrNotFound)
	}
	existing.Status = ev.Status
	existing.WinningOutcome = ev.WinningOutcome
	existing.FinalizedAt = ev.FinalizedAt
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (s *MemoryStore) UpsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.orders[o.ID]; ok && cur.Revision > o.Revision {
		return nil
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByOwner(_ context.Context, owner string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.Owner == owner {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SequenceNumber < result[j].SequenceNumber })
	return result, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByEvent(_ context.Context, eventID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.EventID == eventID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[st.EventID]; ok {
		return fmt.Errorf("settlement %s: %w", st.EventID, ErrConflict)
	}
	cp := *st
	s.settlements[st.EventID] = &cp
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, eventID string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[eventID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", eventID, ErrNotFound)
	}
	cp := *st
	return &cp, nil
}
