package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mezonai/certsync/logx"
)

const subscriberBuffer = 256

type SubscriberID string

type subscription struct {
	ch chan SyncEvent

	// accepted event types, nil means every type
	types map[EventType]struct{}
}

func (s *subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// EventBus fans sync events out to subscribers. Publishing never blocks;
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu   sync.RWMutex
	subs map[SubscriberID]*subscription
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriberID]*subscription)}
}

// Subscribe registers for the given event types, or for all of them when none are given
func (eb *EventBus) Subscribe(types ...EventType) (SubscriberID, <-chan SyncEvent) {
	sub := &subscription{ch: make(chan SyncEvent, subscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	id := SubscriberID(uuid.Must(uuid.NewV7()).String())

	eb.mu.Lock()
	eb.subs[id] = sub
	total := len(eb.subs)
	eb.mu.Unlock()

	logx.Debug("EVENTBUS", fmt.Sprintf("Subscribed | subscriber_id=%s | types=%v | total=%d", id, types, total))
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subs[id]
	if !ok {
		return false
	}
	delete(eb.subs, id)
	close(sub.ch)
	return true
}

func (eb *EventBus) Publish(event SyncEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, sub := range eb.subs {
		if !sub.wants(event.Type()) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logx.Warn("EVENTBUS", fmt.Sprintf("Subscriber channel full | subscriber_id=%s | event_type=%s | number=%d",
				id, event.Type(), event.Number()))
		}
	}
}

func (eb *EventBus) Subscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
