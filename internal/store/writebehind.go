package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/position"
)

// WriteBehind serves reads and writes from a hot store and copies every
// write to a durable store from a background loop. Pending writes are
// coalesced per id, so only the latest state of an order or position is
// written.
type WriteBehind struct {
	Store // hot

	durable  Store
	interval time.Duration

	mu        sync.Mutex
	orders    map[model.ClientOrderID]model.Order
	positions map[model.PositionID]position.Position
}

// NewWriteBehind wraps hot so that writes reach durable every interval.
func NewWriteBehind(hot, durable Store, interval time.Duration) *WriteBehind {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &WriteBehind{
		Store:     hot,
		durable:   durable,
		interval:  interval,
		orders:    make(map[model.ClientOrderID]model.Order),
		positions: make(map[model.PositionID]position.Position),
	}
}

func (w *WriteBehind) AddOrder(ctx context.Context, o *model.Order) error {
	if err := w.Store.AddOrder(ctx, o); err != nil {
		return err
	}
	w.queueOrder(o)
	return nil
}

func (w *WriteBehind) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := w.Store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	w.queueOrder(o)
	return nil
}

func (w *WriteBehind) AddPosition(ctx context.Context, p *position.Position) error {
	if err := w.Store.AddPosition(ctx, p); err != nil {
		return err
	}
	w.queuePosition(p)
	return nil
}

func (w *WriteBehind) UpdatePosition(ctx context.Context, p *position.Position) error {
	if err := w.Store.UpdatePosition(ctx, p); err != nil {
		return err
	}
	w.queuePosition(p)
	return nil
}

func (w *WriteBehind) queueOrder(o *model.Order) {
	w.mu.Lock()
	w.orders[o.ClientOrderID] = *o
	n := len(w.orders) + len(w.positions)
	w.mu.Unlock()
	metrics.WriteBehindPending.Set(float64(n))
}

func (w *WriteBehind) queuePosition(p *position.Position) {
	w.mu.Lock()
	w.positions[p.ID] = p.Clone()
	n := len(w.orders) + len(w.positions)
	w.mu.Unlock()
	metrics.WriteBehindPending.Set(float64(n))
}

// Pending returns the number of writes not yet flushed.
func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.orders) + len(w.positions)
}

// Run flushes pending writes every interval until ctx is done, then
// flushes once more.
func (w *WriteBehind) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				slog.Warn("write-behind flush failed", "err", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return w.Flush(final)
		}
	}
}

// Flush writes every pending order and position to the durable store.
// Entries that fail stay queued unless a newer write replaced them.
func (w *WriteBehind) Flush(ctx context.Context) error {
	w.mu.Lock()
	orders, positions := w.orders, w.positions
	w.orders = make(map[model.ClientOrderID]model.Order)
	w.positions = make(map[model.PositionID]position.Position)
	w.mu.Unlock()

	var failed int
	var firstErr error
	for id, o := range orders {
		if err := SaveOrder(ctx, w.durable, &o); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			w.requeueOrder(id, o)
		}
	}
	for id, p := range positions {
		if err := SavePosition(ctx, w.durable, &p); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			w.requeuePosition(id, p)
		}
	}

	flushed := len(orders) + len(positions) - failed
	metrics.WriteBehindFlushed.Add(float64(flushed))
	metrics.WriteBehindPending.Set(float64(w.Pending()))
	if firstErr != nil {
		return fmt.Errorf("flush: %d of %d writes failed: %w", failed, len(orders)+len(positions), firstErr)
	}
	return nil
}

func (w *WriteBehind) requeueOrder(id model.ClientOrderID, o model.Order) {
	w.mu.Lock()
	if _, newer := w.orders[id]; !newer {
		w.orders[id] = o
	}
	w.mu.Unlock()
}

func (w *WriteBehind) requeuePosition(id model.PositionID, p position.Position) {
	w.mu.Lock()
	if _, newer := w.positions[id]; !newer {
		w.positions[id] = p
	}
	w.mu.Unlock()
}

// Recover copies every order and position from src into dst. It is used at
// startup to warm the hot store from the durable one.
func Recover(ctx context.Context, src, dst Store) (orders, positions int, err error) {
	ords, err := src.ListOrders(ctx, OrderFilter{})
	if err != nil {
		return 0, 0, fmt.Errorf("recover orders: %w", err)
	}
	for i := range ords {
		if err := SaveOrder(ctx, dst, &ords[i]); err != nil {
			return orders, 0, fmt.Errorf("recover order %s: %w", ords[i].ClientOrderID, err)
		}
		orders++
	}

	ps, err := src.ListPositions(ctx, PositionFilter{})
	if err != nil {
		return orders, 0, fmt.Errorf("recover positions: %w", err)
	}
	for i := range ps {
		if err := SavePosition(ctx, dst, &ps[i]); err != nil {
			return orders, positions, fmt.Errorf("recover position %s: %w", ps[i].ID, err)
		}
		positions++
	}
	return orders, positions, nil
}
