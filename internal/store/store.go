// Package store defines the order and position store the portfolio reads
// back from. Implementations include in-memory (the hot copy the portfolio
// is wired to), PostgreSQL (source of truth), Redis (read-through cache) and
// a write-behind wrapper that feeds the durable chain off the hot path.
package store

import (
	"context"
	"errors"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/position"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	Venue        model.Venue
	InstrumentID model.InstrumentID
	WorkingOnly  bool
}

func (f OrderFilter) match(o *model.Order) bool {
	if f.Venue != "" && o.InstrumentID.Venue != f.Venue {
		return false
	}
	if !f.InstrumentID.IsZero() && o.InstrumentID != f.InstrumentID {
		return false
	}
	return !f.WorkingOnly || o.IsWorking()
}

// PositionFilter narrows ListPositions. Zero fields match everything.
type PositionFilter struct {
	Venue        model.Venue
	InstrumentID model.InstrumentID
	OpenOnly     bool
}

func (f PositionFilter) match(p *position.Position) bool {
	if f.Venue != "" && p.InstrumentID.Venue != f.Venue {
		return false
	}
	if !f.InstrumentID.IsZero() && p.InstrumentID != f.InstrumentID {
		return false
	}
	return !f.OpenOnly || !p.IsFlat()
}

// Store is the persistence interface for orders and positions.
type Store interface {
	// --- Orders ---

	// AddOrder persists a new order. ErrExists if the id is taken.
	AddOrder(ctx context.Context, o *model.Order) error

	// UpdateOrder replaces a stored order. ErrNotFound if absent.
	UpdateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by client order id.
	GetOrder(ctx context.Context, id model.ClientOrderID) (*model.Order, error)

	// ListOrders returns the orders matching f.
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)

	// --- Positions ---

	// AddPosition persists a new position. ErrExists if the id is taken.
	AddPosition(ctx context.Context, p *position.Position) error

	// UpdatePosition replaces a stored position. ErrNotFound if absent.
	UpdatePosition(ctx context.Context, p *position.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id model.PositionID) (*position.Position, error)

	// ListPositions returns the positions matching f.
	ListPositions(ctx context.Context, f PositionFilter) ([]position.Position, error)
}

// SaveOrder adds o, or updates it when it already exists.
func SaveOrder(ctx context.Context, s Store, o *model.Order) error {
	err := s.AddOrder(ctx, o)
	if errors.Is(err, ErrExists) {
		return s.UpdateOrder(ctx, o)
	}
	return err
}

// SavePosition adds p, or updates it when it already exists.
func SavePosition(ctx context.Context, s Store, p *position.Position) error {
	err := s.AddPosition(ctx, p)
	if errors.Is(err, ErrExists) {
		return s.UpdatePosition(ctx, p)
	}
	return err
}
