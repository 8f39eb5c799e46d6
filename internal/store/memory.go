package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/position"
)

// MemoryStore implements Store with in-memory maps. The portfolio is wired
// to it so event handlers never wait on the network; durability comes from
// wrapping it with WriteBehind.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[model.ClientOrderID]model.Order
	positions map[model.PositionID]position.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[model.ClientOrderID]model.Order),
		positions: make(map[model.PositionID]position.Position),
	}
}

func (s *MemoryStore) AddOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ClientOrderID]; ok {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, ErrExists)
	}
	s.orders[o.ClientOrderID] = *o
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ClientOrderID]; !ok {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, ErrNotFound)
	}
	s.orders[o.ClientOrderID] = *o
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id model.ClientOrderID) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if f.match(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out, nil
}

func (s *MemoryStore) AddPosition(_ context.Context, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrExists)
	}
	// Store a copy to avoid external mutation.
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrNotFound)
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id model.PositionID) (*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	c := p.Clone()
	return &c, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, f PositionFilter) ([]position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []position.Position
	for _, p := range s.positions {
		if f.match(&p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
