// Package bus provides the in-process publish/subscribe service carrying the
// unified event envelope. The publisher fans every event out to all
// subscribers; filtering happens subscriber-side so publishers never need to
// know who is listening. There is no backpressure to publishers: a subscriber
// whose buffer is full loses the event and is expected to reconcile by
// refetching.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lacekit/lace/pkg/models"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Filter narrows the events a subscriber receives. The zero value matches
// every event.
type Filter struct {
	Scope models.EventScope
	Kinds []string
}

func (f Filter) matches(e models.BusEvent) bool {
	if !e.Scope.Matches(f.Scope) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Subscription is a live feed of matching events. Close it when done; the
// bus drops events for full subscriptions rather than blocking publishers.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter Filter
	ch     chan models.BusEvent
	once   sync.Once
}

// Events returns the subscription channel. It is closed by Close.
func (s *Subscription) Events() <-chan models.BusEvent {
	return s.ch
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.ch)
	})
}

// Bus is the process-wide event bus.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a filtered subscription with the default buffer size.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	return b.SubscribeBuffered(filter, DefaultBufferSize)
}

// SubscribeBuffered registers a subscription with an explicit buffer size.
func (b *Bus) SubscribeBuffered(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		bus:    b,
		id:     b.nextID,
		filter: filter,
		ch:     make(chan models.BusEvent, buffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every matching subscriber. Full subscriber
// buffers drop the event; slow consumers reconcile by refetching.
func (b *Bus) Publish(event models.BusEvent) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event bus subscriber buffer full, dropping event",
				"kind", event.Kind, "subscriber", sub.id)
		}
	}
}

// Stats reports publish and drop counts since startup.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
