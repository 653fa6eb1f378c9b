package services

import (
	"sync"
	"time"

	"github.com/truetrek/agent/internal/models"
)

// EventBus distributes queue and sync status events to subscribers.
// Publish never blocks: each subscriber drains its own buffered channel,
// so a slow consumer cannot stall the orchestrator.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   []*subscriber
}

type subscriber struct {
	id int
	ch chan models.Event
}

const subscriberBuffer = 64

// NewEventBus creates a new EventBus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for every event published after this call.
// The returned function removes the subscription and stops the delivery
// goroutine.
func (b *EventBus) Subscribe(handler func(models.Event)) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id: b.nextID,
		ch: make(chan models.Event, subscriberBuffer),
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		for evt := range sub.ch {
			handler(evt)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
}

// Publish delivers an event to all current subscribers in registration
// order. Events for a full subscriber buffer are dropped rather than
// blocking the publisher.
func (b *EventBus) Publish(evt models.Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
