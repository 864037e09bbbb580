// Package notify provides bounded broadcast channels for event fan-out.
// Slow subscribers lose their oldest events instead of blocking producers.
package notify

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Notifier broadcasts events to every active subscriber. Each subscriber owns
// a bounded buffer; when it is full the oldest pending event is dropped to
// make room, which is logged and never fatal. Subscribers only receive events
// enqueued after their subscription.
type Notifier[T any] struct {
	name     string
	capacity int

	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
}

// New creates a notifier whose subscribers buffer up to capacity events.
func New[T any](name string, capacity int) *Notifier[T] {
	return &Notifier[T]{
		name:     name,
		capacity: capacity,
		subs:     make(map[int]chan T),
	}
}

// Subscribe registers a new subscriber and returns its event channel along
// with an unsubscribe function. Unsubscribing closes the channel.
func (n *Notifier[T]) Subscribe() (<-chan T, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	events := make(chan T, n.capacity)
	n.subs[id] = events

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if ch, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
	}
	return events, unsubscribe
}

// Send enqueues the event for every subscriber. Having no subscribers is not
// an error.
func (n *Notifier[T]) Send(event T) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, events := range n.subs {
		select {
		case events <- event:
			continue
		default:
		}

		// Buffer full: drop the oldest pending event and retry once. The
		// subscriber may have drained concurrently, so the retry can still
		// succeed without a drop.
		select {
		case <-events:
			log.Warn("dropping oldest event for slow subscriber", "notifier", n.name, "subscriber", id)
		default:
		}
		select {
		case events <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier[T]) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
