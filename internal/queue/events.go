package queue

import (
	"sync"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/metrics"
)

// EventBus fans lifecycle events out to subscribers over bounded channels.
// Publishing never blocks; events to a full subscriber are dropped and
// counted. Notification is decoupled from control flow by design of the
// orchestrator contract, so losing an event is never a correctness problem.
type EventBus struct {
	mu      sync.RWMutex
	subs    []chan domain.Event
	buffer  int
	closed  bool
	metrics *metrics.Aggregator
}

// NewEventBus creates a bus with the given per-subscriber buffer.
func NewEventBus(buffer int, agg *metrics.Aggregator) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{buffer: buffer, metrics: agg}
}

// Subscribe registers a new consumer. The channel closes on bus Close.
func (b *EventBus) Subscribe() <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *EventBus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.EventDropped()
			}
		}
	}
}

// Close closes all subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
