// Package eventbus is the Machine Registry's synchronous publish/subscribe
// mechanism (spec §4.1). Subscribers register once; Publish delivers to
// every subscriber, in registration order, before returning. There is no
// back-pressure and no async queue — a slow subscriber slows the publisher.
package eventbus

import (
	"sync"

	"roced"
)

// Subscriber is a capability object that reacts to registry events.
type Subscriber interface {
	OnEvent(e roced.Event)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(e roced.Event)

func (f SubscriberFunc) OnEvent(e roced.Event) { f(e) }

// Bus is an in-process, synchronous event bus.
type Bus struct {
	mu   sync.Mutex
	subs []Subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber. Order of registration is the order of
// delivery for every subsequent Publish call.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers e to every subscriber, in registration order, and does
// not return until all subscribers have processed it.
func (b *Bus) Publish(e roced.Event) {
	b.mu.Lock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.OnEvent(e)
	}
}
