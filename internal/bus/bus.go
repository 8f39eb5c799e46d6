// Package bus delivers typed events to the handlers registered for their
// kind. Bus dispatches synchronously; Dispatcher puts a bounded queue per
// topic in front of it so each topic is delivered in order by its own
// consumer goroutine.
package bus

import (
	"sync"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Event is anything delivered over the bus.
type Event interface {
	Kind() model.EventKind
}

// Handler consumes one event.
type Handler func(Event)

// Bus is an explicit handler table keyed by event kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventKind][]Handler
}

// New creates a bus with no subscriptions.
func New() *Bus {
	return &Bus{handlers: make(map[model.EventKind][]Handler)}
}

// Subscribe registers h for events of kind. Handlers run in registration
// order.
func (b *Bus) Subscribe(kind model.EventKind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// Publish hands e to every handler subscribed to its kind on the calling
// goroutine. It returns the number of handlers that received it.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	hs := b.handlers[e.Kind()]
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
	return len(hs)
}

// Kinds returns the event kinds with at least one subscriber.
func (b *Bus) Kinds() []model.EventKind {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.EventKind, 0, len(b.handlers))
	for k := range b.handlers {
		out = append(out, k)
	}
	return out
}
