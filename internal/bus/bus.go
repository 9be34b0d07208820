// Package bus fans change events out to subscribers: bounded per-subscriber
// queues, at-least-once delivery within a session, per-path ordering. When a
// slow subscriber overflows its queue the oldest event is dropped and the
// next delivered event carries resync_needed so the subscriber can re-list.
package bus

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize bounds each subscriber's backlog.
const DefaultQueueSize = 1024

// Type tags which entity kind changed.
type Type string

const (
	TypeMemoryChange Type = "memory_change"
	TypeTaskChange   Type = "task_change"
)

// Action tags what happened to the file.
type Action string

const (
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionUnlink Action = "unlink"
)

// Data is the change payload.
type Data struct {
	Action       Action `json:"action"`
	File         string `json:"file"`
	Project      string `json:"project,omitempty"`
	ID           string `json:"id,omitempty"`
	ResyncNeeded bool   `json:"resync_needed,omitempty"`
}

// Event is a single change notification.
type Event struct {
	Type Type `json:"type"`
	Data Data `json:"data"`
}

// Subscription is one subscriber's bounded queue. Receive from C; the
// channel closes on Unsubscribe or broker Close.
type Subscription struct {
	C chan Event

	behind bool
}

// Broker distributes events to all active subscriptions.
type Broker struct {
	logger    *slog.Logger
	queueSize int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroker returns a broker with the default queue size.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:    logger,
		queueSize: DefaultQueueSize,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: make(chan Event, b.queueSize)}
	if !b.closed {
		b.subs[sub] = struct{}{}
	} else {
		close(sub.C)
	}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.C)
}

// Publish delivers the event to every subscriber without blocking. A full
// queue drops its oldest entry; the subscriber is marked behind and the
// event that follows carries resync_needed.
func (b *Broker) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		e := event
		if sub.behind {
			e.Data.ResyncNeeded = true
		}
		select {
		case sub.C <- e:
			sub.behind = false
		default:
			// Queue full: drop the oldest so the newest is never lost.
			// Publish holds the lock, so the re-send cannot race another
			// producer.
			select {
			case dropped := <-sub.C:
				b.logger.Warn("subscriber behind, dropped oldest event",
					"type", dropped.Type, "file", dropped.Data.File)
			default:
			}
			sub.behind = true
			e.Data.ResyncNeeded = true
			select {
			case sub.C <- e:
			default:
			}
		}
	}
}

// SubscriberCount reports active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription channel. Publish after Close is a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.C)
		delete(b.subs, sub)
	}
}
