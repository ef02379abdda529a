// Package eventbus fans reminder lifecycle signals out to in-process
// listeners (metrics, the log, the chat adapter).
//
// Publish never blocks. Subscribers get a buffered channel; a slow subscriber
// loses events rather than stalling the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the planner, the notifier and the app.
const (
	ReconcileDone     = "reconcile.done"
	ReminderPosted    = "reminder.posted"
	ReminderCancelled = "reminder.cancelled"
	ReminderMissed    = "reminder.missed"
	ReminderDelivered = "reminder.delivered"
	ReminderFailed    = "reminder.failed"
	ReminderAcked     = "reminder.acknowledged"
	ReminderSnoozed   = "reminder.snoozed"
	SchedulesReloaded = "schedules.reloaded"
	ConfigReloaded    = "config.reloaded"
)

// Event is a small in-memory signal. Data should stay small.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ReminderData is the payload of reminder.* events.
type ReminderData struct {
	ID         uint32
	Kind       string
	PetID      string
	ScheduleID string
	Slot       string
	At         time.Time
	Err        string
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events whose Type is in types
	// (all events when types is empty).
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.deliver(ch, e)
	}
}

// deliver tolerates a concurrent unsubscribe closing ch.
func (b *memBus) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
