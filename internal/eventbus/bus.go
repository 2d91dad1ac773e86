// Package eventbus fans batch lifecycle events out to in-process subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the alert batch driver.
const (
	TypeBatchStarted        = "alert.batch_started"
	TypeBatchFinished       = "alert.batch_finished"
	TypeSubscriptionChecked = "alert.subscription_checked"
	TypeDigestSent          = "alert.digest_sent"
	TypeDeliveryFailed      = "alert.delivery_failed"
	TypeQueryFailed         = "alert.query_failed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type Option func(*memBus)

// WithDropHook is called (synchronously, from Publish) for every event a full
// subscriber could not take.
func WithDropHook(fn func(Event)) Option {
	return func(b *memBus) { b.onDrop = fn }
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{subs: map[uint64]chan Event{}}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	seq    atomic.Uint64
	onDrop func(Event)
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		if !trySend(ch, e) && b.onDrop != nil {
			b.onDrop(e)
		}
	}
}

// trySend never blocks. A channel closed by a concurrent unsubscribe counts as delivered.
func trySend(ch chan Event, e Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
