// Package events fans state changes out to the presentation layer (the
// websocket hub and anything else that wants live updates). Publishing never
// blocks: a subscriber that cannot keep up loses events rather than stalling
// the control loop.
package events

import (
	"sync"
	"time"
)

// Event types exposed to the presentation layer.
const (
	TypePlantUpdated    = "plantUpdated"
	TypePlantDiscovered = "plantDiscovered"
	TypeWateringStarted = "wateringStarted"
	TypeWateringEnded   = "wateringEnded"
)

type Event struct {
	Type      string    `json:"type"`
	PlantID   string    `json:"plant_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	buf  int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buf: buffer}
}

// Subscribe returns a receive channel and a cancel func. The channel is
// closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buf)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers to every subscriber with room in its buffer.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default: // slow subscriber, drop
		}
	}
}
