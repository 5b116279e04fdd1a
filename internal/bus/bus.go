// Package bus provides a small typed publish/subscribe fan-out used to hand
// captured frames, decoded frames and performance snapshots to their
// consumers. Publish never blocks: a subscriber that cannot keep up loses
// frames, and the loss is counted per subscriber.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed            = errors.New("bus closed")
	ErrSubscriberExists  = errors.New("subscriber id already registered")
	ErrUnknownSubscriber = errors.New("unknown subscriber id")
	ErrNilChannel        = errors.New("subscriber channel is nil")
)

// SubscriberStats counts deliveries and drops for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber[T any] struct {
	ch    chan<- T
	stats SubscriberStats
}

// Bus distributes values to registered subscriber channels.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	published   uint64
	closed      bool
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers a channel under the given id. The channel's buffer is
// the subscriber's backlog: once it is full, newer values are dropped.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber[T]{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. The channel is not closed; the
// subscriber owns it.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrUnknownSubscriber
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers v to every subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.published, 1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- v:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

// Stats returns a snapshot of per-subscriber delivery counters.
func (b *Bus[T]) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]SubscriberStats, len(b.subscribers))
	for id, sub := range b.subscribers {
		out[id] = SubscriberStats{
			Sent:    atomic.LoadUint64(&sub.stats.Sent),
			Dropped: atomic.LoadUint64(&sub.stats.Dropped),
		}
	}
	return out
}

// Published returns the total number of values published so far.
func (b *Bus[T]) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Close marks the bus closed. Further publishes are silently discarded and
// further subscriptions rejected.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[string]*subscriber[T])
}
