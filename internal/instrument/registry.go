package instrument

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

type pairKey struct {
	venue model.Venue
	base  money.Currency
	quote money.Currency
}

// Registry is the read-mostly store of instrument definitions. It is filled
// at startup; after that only readers touch it.
type Registry struct {
	mu    sync.RWMutex
	byID  map[model.InstrumentID]Instrument
	pairs map[pairKey][]model.InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[model.InstrumentID]Instrument),
		pairs: make(map[pairKey][]model.InstrumentID),
	}
}

// Add registers a definition. Definitions are immutable, so re-registering
// an id is an error.
func (r *Registry) Add(inst Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[inst.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, inst.ID)
	}
	r.byID[inst.ID] = inst

	// Only linear instruments with a base asset quote a conversion rate.
	if inst.BaseCurrency != "" && !inst.Inverse && inst.AssetClass != Betting {
		key := pairKey{venue: inst.ID.Venue, base: inst.BaseCurrency, quote: inst.QuoteCurrency}
		ids := append(r.pairs[key], inst.ID)
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		r.pairs[key] = ids
	}
	return nil
}

// Get returns the definition for id.
func (r *Registry) Get(id model.InstrumentID) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.byID[id]
	return inst, ok
}

// Lookup is Get with an error for callers that need one.
func (r *Registry) Lookup(id model.InstrumentID) (Instrument, error) {
	inst, ok := r.Get(id)
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst, nil
}

// Pairs returns the ids quoting base/quote on venue, ordered by id.
func (r *Registry) Pairs(venue model.Venue, base, quote money.Currency) []model.InstrumentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.pairs[pairKey{venue: venue, base: base, quote: quote}]
	out := make([]model.InstrumentID, len(ids))
	copy(out, ids)
	return out
}

// ByVenue returns all instruments listed on venue, ordered by id.
func (r *Registry) ByVenue(venue model.Venue) []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Instrument
	for id, inst := range r.byID {
		if id.Venue == venue {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
