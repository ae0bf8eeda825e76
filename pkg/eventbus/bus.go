// Package eventbus provides a small synchronous publish/subscribe bus.
// Delivery is fire-and-forget: a slow or panicking observer must never stall
// or abort the publisher, so handler panics are recovered and logged.
package eventbus

import (
	"sync"

	"ventapos/pkg/logger"
)

// Event is a published message: a name plus an arbitrary payload.
type Event struct {
	Name    string
	Payload any
}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers per topic.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	log    *logger.Logger
}

// New creates an empty bus.
func New(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	return &Bus{
		subs: make(map[string]map[int]Handler),
		log:  log.WithComponent("eventbus"),
	}
}

// Subscribe registers handler for a topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers event synchronously to every subscriber of the topic.
// A panicking handler is isolated; remaining handlers still run.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic, event, h)
	}
}

func (b *Bus) deliver(topic string, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warnw("event handler panicked",
				"topic", topic, "event", event.Name, "panic", r)
		}
	}()
	h(event)
}

// SubscriberCount reports the number of handlers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
