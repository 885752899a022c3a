package sqlite

import "sync"

// hub fans table-mutation notifications out to live-query subscribers.
// Subscribers get one synthetic notification at registration time so a live
// query delivers its initial result without waiting for a mutation.
type hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*hubSub
}

type hubSub struct {
	tables map[string]bool
	fn     func()
}

func newHub() *hub {
	return &hub{subs: make(map[int]*hubSub)}
}

// hubSubscription implements archive.Subscription.
type hubSubscription struct {
	hub *hub
	id  int
}

func (s *hubSubscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s.id)
}

func (h *hub) subscribe(tables []string, fn func()) *hubSubscription {
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		set[t] = true
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &hubSub{tables: set, fn: fn}
	h.mu.Unlock()

	// Initial synthetic notification. Consumers are required to tolerate it.
	fn()

	return &hubSubscription{hub: h, id: id}
}

func (h *hub) notify(tables ...string) {
	h.mu.RLock()
	var fns []func()
	for _, sub := range h.subs {
		for _, t := range tables {
			if sub.tables[t] {
				fns = append(fns, sub.fn)
				break
			}
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
