package position

import (
	"time"

	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Transition is what a fill did to a position.
type Transition string

const (
	Opened    Transition = "OPENED"
	Changed   Transition = "CHANGED"
	Closed    Transition = "CLOSED"
	Duplicate Transition = "DUPLICATE"
)

// Event reports a position lifecycle transition. Position is a snapshot of
// the position after the transition.
type Event struct {
	EventID  uuid.UUID  `json:"event_id"`
	Type     Transition `json:"type"`
	Position Position   `json:"position"`
	TsEvent  time.Time  `json:"ts_event"`
}

// NewEvent snapshots p under transition t.
func NewEvent(t Transition, p *Position, ts time.Time) Event {
	return Event{EventID: model.NewEventID(), Type: t, Position: p.Clone(), TsEvent: ts}
}

func (e Event) Kind() model.EventKind {
	switch e.Type {
	case Opened:
		return model.KindPositionOpened
	case Closed:
		return model.KindPositionClosed
	default:
		return model.KindPositionChanged
	}
}
