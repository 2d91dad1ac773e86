package eventbus

import (
	"sync/atomic"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeDigestSent, Data: "s1"})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Type != TypeDigestSent || ev.Data != "s1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("expected Publish to stamp the event time")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	var dropped atomic.Int32
	b := New(WithDropHook(func(Event) { dropped.Add(1) }))
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeBatchStarted})
	b.Publish(Event{Type: TypeBatchFinished})
	b.Publish(Event{Type: TypeBatchFinished})

	if got := dropped.Load(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeBatchStarted})
}
