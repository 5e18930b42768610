package store

import (
	"sync"

	"github.com/pairmsg/pairmsg/internal/bus"
)

// Watches deliver the full current snapshot on registration and again
// after every change to the watched key. There is no incremental diff.
// Once the returned cancel function returns, onChange is never invoked
// again.

// SubscribeConversations watches userKey's conversation index. A missing
// mailbox is delivered as an empty list.
func (db *DB) SubscribeConversations(userKey string, onChange func([]ConversationSummary)) (cancel func()) {
	return watch(db.bus, TopicIndexChanged, userKey, func() {
		list, err := db.ReadConversations(userKey)
		if err != nil {
			list = nil
		}
		onChange(list)
	})
}

// SubscribeMessages watches the message log for conversationID.
func (db *DB) SubscribeMessages(conversationID string, onChange func([]Message)) (cancel func()) {
	return watch(db.bus, TopicLogChanged, conversationID, func() {
		msgs, err := db.ReadMessages(conversationID)
		if err != nil {
			return
		}
		onChange(msgs)
	})
}

// watch wires a bus subscription to a snapshot-deliver closure, keyed by
// the event payload. deliver runs once immediately, then per matching
// event, all from one goroutine.
func watch(b *bus.Bus, topic, key string, deliver func()) (cancel func()) {
	sub := b.Subscribe(topic, 64)
	stop := make(chan struct{})

	var mu sync.Mutex
	stopped := false

	go func() {
		mu.Lock()
		if !stopped {
			deliver()
		}
		mu.Unlock()

		for {
			select {
			case evt := <-sub.C:
				if k, ok := evt.Payload.(string); !ok || k != key {
					continue
				}
				mu.Lock()
				if !stopped {
					deliver()
				}
				mu.Unlock()
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Cancel()
			mu.Lock()
			stopped = true
			mu.Unlock()
			close(stop)
		})
	}
}
