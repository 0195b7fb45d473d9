/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"

	"github.com/skaldworks/muninn_playout/internal/models"
)

// EventType enumerates event categories.
type EventType string

const (
	EventScheduleStarted       EventType = "schedule_started"
	EventScheduleEmpty         EventType = "schedule_empty"
	EventScheduleCompleted     EventType = "schedule_completed"
	EventScheduleFailed        EventType = "schedule_failed"
	EventScheduleStopped       EventType = "schedule_stopped"
	EventScheduleDeleted       EventType = "schedule_deleted"
	EventScheduleDeletionError EventType = "schedule_deletion_error"
	EventScheduleFatalError    EventType = "schedule_fatal_error"
	EventSchedulePaused        EventType = "schedule_paused"
	EventScheduleResumed       EventType = "schedule_resumed"
	EventScheduleNextRequested EventType = "schedule_next_requested"
	EventPlaybackStarted       EventType = "playback_started"
	EventPlaybackProgress      EventType = "playback_progress"
	EventPlaybackError         EventType = "playback_error"
	EventPlaybackCompleted     EventType = "playback_completed"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Name       EventType
	ScheduleID string
	PlaylistID string
	Asset      *models.Asset
	Progress   float64 // seconds elapsed into the current asset, where relevant
	Error      string
	Timestamp  time.Time
}

// Subscriber receives events.
type Subscriber func(Event)

// Bus implements a simple in-process pubsub. Delivery is synchronous in
// publish order; subscribers must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Subscriber)}
}

// Subscribe registers a subscriber for all events and returns an
// unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}
