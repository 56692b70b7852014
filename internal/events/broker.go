package events

import (
	"context"
	"sync"
)

// Broker is an in-process Publisher with per-type subscriptions. Slow
// subscribers drop events instead of blocking the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // event type -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(eventType string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[eventType] == nil {
		b.subs[eventType] = map[chan Event]struct{}{}
	}
	b.subs[eventType][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(eventType string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[eventType]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, eventType)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}
