package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/atmx/portfolio-engine/internal/model"
)

type tick struct{ seq int }

func (tick) Kind() model.EventKind { return model.KindQuoteTick }

type unknown struct{}

func (unknown) Kind() model.EventKind { return "unknown" }

func TestBus_PublishDispatchesByKind(t *testing.T) {
	b := New()
	var got []int
	b.Subscribe(model.KindQuoteTick, func(e Event) { got = append(got, e.(tick).seq) })
	b.Subscribe(model.KindAccountState, func(Event) { t.Error("wrong handler called") })

	if n := b.Publish(tick{seq: 1}); n != 1 {
		t.Errorf("expected 1 handler, got %d", n)
	}
	if n := b.Publish(unknown{}); n != 0 {
		t.Errorf("expected no handlers, got %d", n)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("unexpected deliveries %v", got)
	}
}

func TestQueue_FullAndClosed(t *testing.T) {
	q := NewQueue("test", 1)
	if err := q.TryPublish(tick{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.TryPublish(tick{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	q.Close()
	q.Close()
	if err := q.TryPublish(tick{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueue_RunDrainsAfterClose(t *testing.T) {
	q := NewQueue("test", 3)
	for i := 1; i <= 3; i++ {
		q.TryPublish(tick{seq: i})
	}
	q.Close()

	var got []int
	q.Run(context.Background(), func(e Event) { got = append(got, e.(tick).seq) })
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("expected in-order delivery of 3 events, got %v", got)
	}
}

func TestDispatcher_InOrderPerTopic(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []int
	b.Subscribe(model.KindQuoteTick, func(e Event) {
		mu.Lock()
		got = append(got, e.(tick).seq)
		mu.Unlock()
	})

	d := NewDispatcher(b, 100)
	for i := 0; i < 50; i++ {
		if err := d.TryPublish(tick{seq: i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := d.TryPublish(unknown{}); !errors.Is(err, ErrNoTopic) {
		t.Errorf("expected ErrNoTopic, got %v", err)
	}
	d.Close()

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("expected 50 events, got %d", len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("out of order at %d: %d", i, seq)
		}
	}
}

func TestTopicOf_PositionKindsShareTopic(t *testing.T) {
	for _, k := range []model.EventKind{model.KindPositionOpened, model.KindPositionChanged, model.KindPositionClosed} {
		if topic, ok := TopicOf(k); !ok || topic != TopicPosition {
			t.Errorf("%s: expected position topic, got %s", k, topic)
		}
	}
}
