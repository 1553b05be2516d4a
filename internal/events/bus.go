// Package events provides a simple publish-subscribe bus for settings changes.
package events

import (
	"sync"

	"github.com/betterseqta/settings-go/internal/models"
)

const subBufferSize = 32

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan models.ChangeEvent
	dropped uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.ChangeEvent),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe with the returned channel when done. Subscribing twice with
// the same ID replaces (and closes) the earlier channel.
func (b *Bus) Subscribe(id string) <-chan models.ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan models.ChangeEvent, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes the subscription id and closes its channel, provided ch
// is still the channel registered under id. A subscriber that was replaced by
// a later Subscribe with the same id cannot remove its replacement.
func (b *Bus) Unsubscribe(id string, ch <-chan models.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[id]; ok && cur == ch {
		delete(b.subs, id)
		close(cur)
	}
}

// Publish sends a change to all subscribers.
// If a subscriber's channel is full, the event is dropped (non-blocking).
func (b *Bus) Publish(ev models.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
