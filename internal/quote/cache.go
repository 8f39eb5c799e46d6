// Package quote holds the latest quote per instrument.
package quote

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Cache keeps the most recent tick per instrument. Writes are last-write-wins
// with no timestamp ordering.
type Cache struct {
	mu    sync.RWMutex
	ticks map[model.InstrumentID]model.QuoteTick
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{ticks: make(map[model.InstrumentID]model.QuoteTick)}
}

// Update overwrites the entry for the tick's instrument.
func (c *Cache) Update(tick model.QuoteTick) {
	c.mu.Lock()
	c.ticks[tick.InstrumentID] = tick
	c.mu.Unlock()
}

// Get returns the latest tick for id.
func (c *Cache) Get(id model.InstrumentID) (model.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.ticks[id]
	return tick, ok
}

// Price returns the requested side of the latest tick for id.
func (c *Cache) Price(id model.InstrumentID, pt model.PriceType) (decimal.Decimal, bool) {
	tick, ok := c.Get(id)
	if !ok {
		return decimal.Zero, false
	}
	return tick.Price(pt), true
}

// Len returns the number of instruments with a quote.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks)
}
