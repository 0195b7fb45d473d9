package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var got1, got2 []Event
	bus.Subscribe(func(e Event) { got1 = append(got1, e) })
	bus.Subscribe(func(e Event) { got2 = append(got2, e) })

	bus.Publish(Event{Name: EventScheduleStarted, ScheduleID: "s1"})
	bus.Publish(Event{Name: EventScheduleCompleted, ScheduleID: "s1"})

	if len(got1) != 2 || len(got2) != 2 {
		t.Fatalf("expected 2 events per subscriber, got %d and %d", len(got1), len(got2))
	}
	if got1[0].Name != EventScheduleStarted || got1[1].Name != EventScheduleCompleted {
		t.Fatalf("events delivered out of order: %v %v", got1[0].Name, got1[1].Name)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	var count int
	unsubscribe := bus.Subscribe(func(e Event) { count++ })

	bus.Publish(Event{Name: EventPlaybackStarted})
	unsubscribe()
	bus.Publish(Event{Name: EventPlaybackCompleted})

	if count != 1 {
		t.Fatalf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Publish(Event{Name: EventScheduleStarted})
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(Event{Name: EventScheduleStarted, Timestamp: fixed})
	if !got.Timestamp.Equal(fixed) {
		t.Fatalf("expected preset timestamp to survive, got %v", got.Timestamp)
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus()
	// Must not panic or block.
	bus.Publish(Event{Name: EventScheduleFailed, Error: "boom"})
}
