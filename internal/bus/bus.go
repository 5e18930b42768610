// Package bus is the in-process publish/subscribe channel that store
// change notifications ride on. Topics are matched by prefix, so a
// subscriber to "index." sees "index.changed" for every user key.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Event is one published notification.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Bus fans events out to prefix-matched subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is a live subscriber registration. Events arrive on C until
// Cancel is called; nothing is delivered after Cancel returns.
type Subscription struct {
	C chan Event

	prefix string
	cancel func()
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.cancel()
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Topic.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Topic, sub.prefix) {
			select {
			case sub.C <- evt:
			default:
				// Subscriber is not keeping up; drop rather than block
				// the publisher.
			}
		}
	}
}

// Subscribe registers a subscriber for all topics starting with prefix.
// buffer sizes the delivery channel.
func (b *Bus) Subscribe(prefix string, buffer int) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, buffer),
		prefix: prefix,
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub
}
