// Package eventbus is an in-process, non-blocking pub/sub used for lifecycle
// signals (timer firings, renewals, delivery outcomes). Slow subscribers lose
// events rather than stall publishers.
package eventbus

import (
	"sync"
	"time"
)

const (
	TopicTimerFired     = "timer.fired"
	TopicTimerDropped   = "timer.dropped"
	TopicEventRenewed   = "event.renewed"
	TopicEventExpired   = "event.expired"
	TopicNotifySent     = "notifier.sent"
	TopicNotifyFailed   = "notifier.failed"
	TopicNotifyDropped  = "notifier.dropped"
	TopicTaskFailed     = "task.failed"
	TopicTaskSkipped    = "task.skipped"
	TopicConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &memBus{subs: map[uint64]chan Event{}} }

type memBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends never block, so holding the read lock keeps unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
