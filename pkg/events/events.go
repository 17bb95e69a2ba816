package events

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a collection lifecycle notification.
type EventType string

const (
	EventStoreCreated     EventType = "store.created"
	EventStoreAttached    EventType = "store.attached"
	EventAttachRolledBack EventType = "store.attach_rolled_back"
	EventAliasCommitted   EventType = "alias.committed"
	EventAliasConflicted  EventType = "alias.conflicted"
	EventGCSwept          EventType = "gc.swept"
	EventGCTombstoned     EventType = "gc.tombstoned"
	EventStoreDeleted     EventType = "store.deleted"
)

// Event is one collection-level lifecycle notification. ID is assigned
// by the Broker at publish time if the caller leaves it empty, so
// subscribers can detect gaps against their own last-seen sequence.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events matching its filter.
type Subscriber chan *Event

type subscription struct {
	ch     Subscriber
	filter map[EventType]bool // nil or empty: receive every type
}

func (s *subscription) matches(t EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	return s.filter[t]
}

// Broker is an in-memory, non-blocking pub/sub distributor for
// collection lifecycle events. Publish never blocks on a slow
// subscriber: a full subscriber buffer drops the event rather than
// backing up the broadcast loop, and the broker itself retains a
// bounded tail of recently published events for callers that attach
// after the fact (chancolctl's inspection commands, late test setup).
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]*subscription

	eventCh chan *Event
	stopCh  chan struct{}
	seq     uint64

	recentMu  sync.Mutex
	recent    []*Event
	recentCap int
}

// NewBroker constructs a Broker with a default 256-event recency
// buffer and a 100-event distribution queue.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		recentCap:   256,
	}
}

// Start begins the broker's event distribution loop in a goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. Publish calls made after Stop are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a channel that receives every future event whose
// Type is one of types, or every event if types is empty.
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = &subscription{ch: sub, filter: filter}
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues event for distribution, assigning it a sequence-based
// ID and timestamp if the caller left them unset.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = strconv.FormatUint(atomic.AddUint64(&b.seq, 1), 10)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Recent returns up to n of the most recently distributed events,
// oldest first. Passing n <= 0 returns the full retained tail.
func (b *Broker) Recent(n int) []*Event {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]*Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.remember(event)
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) remember(event *Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	b.recent = append(b.recent, event)
	if over := len(b.recent) - b.recentCap; over > 0 {
		b.recent = b.recent[over:]
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.matches(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// subscriber buffer full: drop rather than stall the broker
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
