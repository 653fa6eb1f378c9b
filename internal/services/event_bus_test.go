package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truetrek/agent/internal/models"
)

func TestEventBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var first, second []models.EventType
	done := make(chan struct{}, 2)

	unsubFirst := bus.Subscribe(func(evt models.Event) {
		mu.Lock()
		first = append(first, evt.Type)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubFirst()

	unsubSecond := bus.Subscribe(func(evt models.Event) {
		mu.Lock()
		second = append(second, evt.Type)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubSecond()

	bus.Publish(models.Event{Type: models.EventSyncStarted})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.EventType{models.EventSyncStarted}, first)
	assert.Equal(t, []models.EventType{models.EventSyncStarted}, second)
}

func TestEventBusSubscriberOrdering(t *testing.T) {
	bus := NewEventBus()

	received := make(chan models.EventType, 8)
	unsub := bus.Subscribe(func(evt models.Event) {
		received <- evt.Type
	})
	defer unsub()

	bus.Publish(models.Event{Type: models.EventSyncStarted})
	bus.Publish(models.Event{Type: models.EventItemSynced})
	bus.Publish(models.Event{Type: models.EventSyncCompleted})

	var got []models.EventType
	for i := 0; i < 3; i++ {
		select {
		case evt := <-received:
			got = append(got, evt)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}

	assert.Equal(t, []models.EventType{
		models.EventSyncStarted,
		models.EventItemSynced,
		models.EventSyncCompleted,
	}, got)
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()

	received := make(chan models.Event, 8)
	unsub := bus.Subscribe(func(evt models.Event) {
		received <- evt
	})

	require.Equal(t, 1, bus.SubscriberCount())
	unsub()
	require.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(models.Event{Type: models.EventOnline})

	select {
	case evt := <-received:
		t.Fatalf("received event after unsubscribe: %s", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewEventBus()

	block := make(chan struct{})
	unsub := bus.Subscribe(func(evt models.Event) {
		<-block
	})
	defer unsub()
	defer close(block)

	// Overfill the subscriber buffer; Publish must return regardless
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(models.Event{Type: models.EventPendingChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEventBusStampsTimestamp(t *testing.T) {
	bus := NewEventBus()

	received := make(chan models.Event, 1)
	unsub := bus.Subscribe(func(evt models.Event) {
		received <- evt
	})
	defer unsub()

	bus.Publish(models.Event{Type: models.EventOffline})

	select {
	case evt := <-received:
		assert.False(t, evt.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}
