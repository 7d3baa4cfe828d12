package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a subscriber asks for a non-positive buffer.
const DefaultBufferSize = 256

// Publisher is the write side of the bus. The scheduler only needs this.
type Publisher interface {
	Publish(topic string, event Event)
}

// EventBus is a channel-based pub-sub event bus.
// Supports topic-based subscriptions and SubscribeAll for cross-topic consumption.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	queues  []*queue                // lossless all-topic subscribers
	closed  bool

	dropped atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription to a specific topic.
// A subscription made after Close receives an already-closed channel.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription that receives events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// SubscribeAllQueued is SubscribeAll without a buffer limit. Events wait in
// memory until the consumer takes them, so none are dropped. The consumer
// must read until the channel is closed.
func (b *EventBus) SubscribeAllQueued() <-chan Event {
	q := newQueue()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		q.close()
		return q.out
	}
	b.queues = append(b.queues, q)
	return q.out
}

func newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return make(chan Event, bufSize)
}

// Publish sends an event to all subscribers of the given topic and to every
// SubscribeAll channel. It never blocks: a full subscriber loses the event and
// the drop is counted.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Don't publish if bus is closed
	if b.closed {
		return
	}

	// Send to topic-specific subscribers
	for _, ch := range b.subs[topic] {
		b.send(ch, event)
	}

	// Send to all-topic subscribers
	for _, ch := range b.allSubs {
		b.send(ch, event)
	}
	for _, q := range b.queues {
		q.push(event)
	}
}

func (b *EventBus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Channel full, drop event (non-blocking)
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times. Queued subscribers still receive what was
// published before Close.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	// Close all topic-specific subscribers
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}

	// Close all-topic subscribers
	for _, ch := range b.allSubs {
		close(ch)
	}
	for _, q := range b.queues {
		q.close()
	}
}

// queue is an unbounded FIFO drained into out by its own goroutine.
type queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool

	wake chan struct{}
	out  chan Event
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
	}
	go q.pump()
	return q
}

func (q *queue) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued events in order and closes out once the queue is
// closed and empty.
func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()

		for _, e := range items {
			q.out <- e
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
