package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/position"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AddOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.AddOrder(ctx, o); err != nil {
		return err
	}
	s.cache(ctx, orderKey(o.ClientOrderID), o)
	return nil
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpdateOrder(ctx, o); err != nil {
		return err
	}
	// Invalidate; the next read re-populates.
	s.rdb.Del(ctx, orderKey(o.ClientOrderID))
	return nil
}

func (s *CachedStore) AddPosition(ctx context.Context, p *position.Position) error {
	if err := s.primary.AddPosition(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, positionKey(p.ID), p)
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *position.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id model.ClientOrderID) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, orderKey(id), o)
	return o, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id model.PositionID) (*position.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p position.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(id), p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, f)
}

func (s *CachedStore) ListPositions(ctx context.Context, f PositionFilter) ([]position.Position, error) {
	return s.primary.ListPositions(ctx, f)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id model.ClientOrderID) string { return fmt.Sprintf("order:%s", id) }
func positionKey(id model.PositionID) string { return fmt.Sprintf("position:%s", id) }
