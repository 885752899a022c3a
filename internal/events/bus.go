// Package events provides a minimal fire-and-forget broadcast bus used to
// decouple the archive store from the tab cache (e.g. "archive was deleted,
// rebuild yourself").
package events

import "sync"

// Topics published on the bus.
const (
	TopicArchiveDeleted = "archive.deleted"
)

// Handler receives a published payload. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(payload any)

// Bus is a topic-keyed broadcast bus.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscription is a handle for removing a subscriber.
type Subscription struct {
	bus   *Bus
	topic string
	id    int
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.topic]; ok {
		delete(handlers, s.id)
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][b.nextID] = h
	return &Subscription{bus: b, topic: topic, id: b.nextID}
}

// Publish delivers the payload to every current subscriber of the topic.
// There is no delivery guarantee beyond "subscribers registered at publish
// time are invoked once".
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
