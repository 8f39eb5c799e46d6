package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
)

var (
	ErrQueueFull   = errors.New("bus: event queue full")
	ErrQueueClosed = errors.New("bus: event queue closed")
	ErrNoTopic     = errors.New("bus: no topic for event kind")
)

// Queue is a bounded, non-blocking event queue.
type Queue struct {
	name   string
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{name: name, ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		return nil
	default:
		metrics.QueueDropped.WithLabelValues(q.name).Inc()
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new events. Events already queued
// are still delivered by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

// Run consumes events until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
			handler(e)
		}
	}
}

// Topic groups event kinds whose relative order matters.
type Topic string

const (
	TopicAccount   Topic = "account"
	TopicOrder     Topic = "order"
	TopicPosition  Topic = "position"
	TopicQuoteTick Topic = "quote_tick"
)

// TopicOf maps an event kind to its topic. Position lifecycle events share
// one topic so an open is never overtaken by its close.
func TopicOf(kind model.EventKind) (Topic, bool) {
	switch kind {
	case model.KindAccountState:
		return TopicAccount, true
	case model.KindOrder:
		return TopicOrder, true
	case model.KindPositionOpened, model.KindPositionChanged, model.KindPositionClosed:
		return TopicPosition, true
	case model.KindQuoteTick:
		return TopicQuoteTick, true
	}
	return "", false
}

// Dispatcher queues events per topic and drains each topic into a Bus on
// its own goroutine: in order within a topic, unordered across topics.
type Dispatcher struct {
	bus    *Bus
	queues map[Topic]*Queue
}

// NewDispatcher creates one queue of capacity per topic in front of b.
func NewDispatcher(b *Bus, capacity int) *Dispatcher {
	d := &Dispatcher{bus: b, queues: make(map[Topic]*Queue)}
	for _, t := range []Topic{TopicAccount, TopicOrder, TopicPosition, TopicQuoteTick} {
		d.queues[t] = NewQueue(string(t), capacity)
	}
	return d
}

// TryPublish enqueues e on its topic without blocking.
func (d *Dispatcher) TryPublish(e Event) error {
	t, ok := TopicOf(e.Kind())
	if !ok {
		return ErrNoTopic
	}
	return d.queues[t].TryPublish(e)
}

// Close stops every topic from accepting events.
func (d *Dispatcher) Close() {
	for _, q := range d.queues {
		q.Close()
	}
}

// Run drains every topic until ctx is done or the dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for t, q := range d.queues {
		t, q := t, q
		g.Go(func() error {
			slog.Debug("bus topic consumer started", "topic", string(t))
			q.Run(ctx, func(e Event) { d.bus.Publish(e) })
			return nil
		})
	}
	return g.Wait()
}
