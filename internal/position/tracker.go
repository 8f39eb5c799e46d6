package position

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/model"
)

type idSet map[model.PositionID]struct{}

// Tracker indexes positions by id, by instrument and by venue. It is not
// safe for concurrent use; the portfolio serializes access under its lock.
type Tracker struct {
	byID         map[model.PositionID]*Position
	byInstrument map[model.InstrumentID]idSet // open and closed
	open         map[model.InstrumentID]idSet
	byVenue      map[model.Venue]map[model.InstrumentID]struct{} // instruments with open positions
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byID:         make(map[model.PositionID]*Position),
		byInstrument: make(map[model.InstrumentID]idSet),
		open:         make(map[model.InstrumentID]idSet),
		byVenue:      make(map[model.Venue]map[model.InstrumentID]struct{}),
	}
}

// ApplyFill routes fill to its position, opening one if needed, and returns
// the resulting transition with a snapshot of the position.
//
// A fill without a position id nets into the open position of the same
// account, strategy and instrument, or opens a new one.
func (t *Tracker) ApplyFill(inst instrument.Instrument, fill model.Fill) (Transition, Position, error) {
	id := fill.PositionID
	if id == "" {
		id = t.nettingID(fill)
	}

	p, ok := t.byID[id]
	if !ok {
		np, err := New(id, inst, fill)
		if err != nil {
			return "", Position{}, err
		}
		t.index(np)
		return Opened, np.Clone(), nil
	}

	applied, err := p.ApplyFill(fill)
	if err != nil {
		return "", Position{}, err
	}
	if !applied {
		return Duplicate, p.Clone(), nil
	}
	t.index(p)
	if p.IsClosed() {
		return Closed, p.Clone(), nil
	}
	return Changed, p.Clone(), nil
}

func (t *Tracker) nettingID(fill model.Fill) model.PositionID {
	for id := range t.open[fill.InstrumentID] {
		p := t.byID[id]
		if p.AccountID == fill.AccountID && p.StrategyID == fill.StrategyID {
			return id
		}
	}
	base := fmt.Sprintf("%s-%s", fill.InstrumentID, fill.StrategyID)
	id := model.PositionID(base)
	for n := 1; ; n++ {
		if _, taken := t.byID[id]; !taken {
			return id
		}
		id = model.PositionID(fmt.Sprintf("%s-%d", base, n))
	}
}

// Upsert replaces the tracked state of p with a copy of p.
func (t *Tracker) Upsert(p Position) {
	c := p.Clone()
	if old, ok := t.byID[c.ID]; ok && old.InstrumentID != c.InstrumentID {
		t.unindex(old)
	}
	t.byID[c.ID] = &c
	t.index(&c)
}

func (t *Tracker) index(p *Position) {
	t.byID[p.ID] = p
	addID(t.byInstrument, p.InstrumentID, p.ID)

	if p.IsFlat() {
		removeID(t.open, p.InstrumentID, p.ID)
	} else {
		addID(t.open, p.InstrumentID, p.ID)
	}

	venue := p.InstrumentID.Venue
	if len(t.open[p.InstrumentID]) > 0 {
		if t.byVenue[venue] == nil {
			t.byVenue[venue] = make(map[model.InstrumentID]struct{})
		}
		t.byVenue[venue][p.InstrumentID] = struct{}{}
	} else if set := t.byVenue[venue]; set != nil {
		delete(set, p.InstrumentID)
		if len(set) == 0 {
			delete(t.byVenue, venue)
		}
	}
}

func (t *Tracker) unindex(p *Position) {
	removeID(t.byInstrument, p.InstrumentID, p.ID)
	removeID(t.open, p.InstrumentID, p.ID)
	if len(t.open[p.InstrumentID]) == 0 {
		if set := t.byVenue[p.InstrumentID.Venue]; set != nil {
			delete(set, p.InstrumentID)
		}
	}
}

func addID(m map[model.InstrumentID]idSet, inst model.InstrumentID, id model.PositionID) {
	set, ok := m[inst]
	if !ok {
		set = make(idSet)
		m[inst] = set
	}
	set[id] = struct{}{}
}

func removeID(m map[model.InstrumentID]idSet, inst model.InstrumentID, id model.PositionID) {
	if set, ok := m[inst]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, inst)
		}
	}
}

// Get returns a copy of the position with id.
func (t *Tracker) Get(id model.PositionID) (Position, bool) {
	p, ok := t.byID[id]
	if !ok {
		return Position{}, false
	}
	return p.Clone(), true
}

// Open returns copies of the open positions in inst, ordered by id.
func (t *Tracker) Open(inst model.InstrumentID) []Position {
	return t.collect(t.open[inst])
}

// All returns copies of every position in inst, open or closed.
func (t *Tracker) All(inst model.InstrumentID) []Position {
	return t.collect(t.byInstrument[inst])
}

func (t *Tracker) collect(set idSet) []Position {
	out := make([]Position, 0, len(set))
	for id := range set {
		out = append(out, t.byID[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EachOpen calls fn for every open position in inst. fn must not retain or
// modify the position.
func (t *Tracker) EachOpen(inst model.InstrumentID, fn func(*Position)) {
	for id := range t.open[inst] {
		fn(t.byID[id])
	}
}

// NetQuantity sums the signed quantity of the open positions in inst.
func (t *Tracker) NetQuantity(inst model.InstrumentID) decimal.Decimal {
	net := decimal.Zero
	for id := range t.open[inst] {
		net = net.Add(t.byID[id].NetQty)
	}
	return net
}

// Instruments returns the instruments with open positions on venue, ordered
// by id.
func (t *Tracker) Instruments(venue model.Venue) []model.InstrumentID {
	set := t.byVenue[venue]
	out := make([]model.InstrumentID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsCompletelyFlat reports whether no position is open.
func (t *Tracker) IsCompletelyFlat() bool { return len(t.open) == 0 }

// OpenCount returns the number of open positions.
func (t *Tracker) OpenCount() int {
	n := 0
	for _, set := range t.open {
		n += len(set)
	}
	return n
}

// Len returns the number of tracked positions, open or closed.
func (t *Tracker) Len() int { return len(t.byID) }
