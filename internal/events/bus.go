// Package events carries pipeline activity to presentation layers.
package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// subscription is one consumer. An empty topic receives every event.
type subscription struct {
	topic string
	ch    chan Event
}

func (s subscription) wants(topic string) bool {
	return s.topic == "" || s.topic == topic
}

// EventBus fans events out to buffered subscriber channels.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// event and the miss is counted in Dropped. Slow consumers such as a
// redrawing TUI therefore cannot stall the orchestrator.
type EventBus struct {
	mu      sync.RWMutex
	subs    []subscription
	closed  bool
	dropped atomic.Uint64
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel receiving only events whose Topic matches.
// A non-positive bufSize selects the default buffer.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.add(topic, bufSize)
}

// SubscribeAll returns a channel receiving every published event.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.add("", bufSize)
}

func (b *EventBus) add(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscription{topic: topic, ch: ch})
	return ch
}

// Publish delivers event to every matching subscriber. Nil buses, nil
// events and closed buses are ignored.
func (b *EventBus) Publish(event Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	topic := event.Topic()
	for _, s := range b.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// buffer was full.
func (b *EventBus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further calls are no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
