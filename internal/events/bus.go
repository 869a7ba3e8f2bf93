// Package events provides the engine's event bus and the persisted event
// recorder. The bus implements pub/sub with backpressure control and priority
// channels; the recorder assigns per-run monotonic sequence numbers and writes
// every event to the state store before broadcasting it.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// Subscriber represents an event subscription.
type Subscriber struct {
	ch       chan core.Event
	types    map[string]bool // Empty means all types
	runID    string          // Empty means no run filtering (receives all)
	priority bool
}

// Bus provides pub/sub with backpressure control.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*Subscriber
	prioritySubs []*Subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// NewBus creates a new Bus with the specified buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers:  make([]*Subscriber, 0),
		prioritySubs: make([]*Subscriber, 0),
		bufferSize:   bufferSize,
	}
}

// Subscribe creates a subscription for specific event types.
// If no types are specified, subscribes to all events.
func (b *Bus) Subscribe(types ...string) <-chan core.Event {
	return b.SubscribeForRun("", types...)
}

// SubscribeForRun creates a subscription filtered to a specific run.
// If runID is empty, all events are received.
func (b *Bus) SubscribeForRun(runID string, types ...string) <-chan core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan core.Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:    make(chan core.Event, b.bufferSize),
		types: make(map[string]bool),
		runID: runID,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// SubscribePriority creates a priority subscription that never drops events.
// Use for critical events like task.status_changed.
func (b *Bus) SubscribePriority(types ...string) <-chan core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan core.Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:       make(chan core.Event, 50), // Smaller buffer, blocking send
		types:    make(map[string]bool),
		priority: true,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.prioritySubs = append(b.prioritySubs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(ch <-chan core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = removeSubscriber(b.subscribers, ch)
	b.prioritySubs = removeSubscriber(b.prioritySubs, ch)
}

func removeSubscriber(subs []*Subscriber, ch <-chan core.Event) []*Subscriber {
	result := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ch != ch {
			result = append(result, sub)
		} else {
			close(sub.ch)
		}
	}
	return result
}

// Publish sends an event to all matching subscribers. Non-priority
// subscribers may drop events if their buffer is full (ring buffer behavior);
// priority subscribers block.
func (b *Bus) Publish(event core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !shouldDeliver(sub, event) {
			continue
		}
		b.deliverWithRingBuffer(sub, event)
	}

	for _, sub := range b.prioritySubs {
		if !shouldDeliver(sub, event) {
			continue
		}
		sub.ch <- event
	}
}

// shouldDeliver checks the subscriber's run and type filters.
func shouldDeliver(sub *Subscriber, event core.Event) bool {
	if sub.runID != "" && event.RunID != sub.runID {
		return false
	}
	if len(sub.types) > 0 && !sub.types[event.EventType] {
		return false
	}
	return true
}

// deliverWithRingBuffer attempts to send an event to a subscriber. If the
// channel is full, it drops the oldest event and tries again.
func (b *Bus) deliverWithRingBuffer(sub *Subscriber, event core.Event) {
	select {
	case sub.ch <- event:
		// Sent successfully
	default:
		// Buffer full, drop oldest and try again (ring buffer)
		select {
		case <-sub.ch: // Drop oldest
			atomic.AddInt64(&b.droppedCount, 1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			atomic.AddInt64(&b.droppedCount, 1)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	for _, sub := range b.prioritySubs {
		close(sub.ch)
	}
	b.subscribers = nil
	b.prioritySubs = nil
}
