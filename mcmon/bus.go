package mcmon

import "sync"

// Handler handles a published event.
type Handler func(Event)

type subscription struct {
	typ string // empty for all events
	fn  Handler
}

// Bus is a synchronous event bus. Handlers are called on the goroutine that
// calls Emit, in the order they were registered. A zero-value Bus is a valid
// Bus.
type Bus struct {
	mutex sync.RWMutex
	subs  []subscription
}

// On registers a handler for events of the given type, e.g. TypeKilled.
// Handlers are expected to do their own filtering on the event's contents.
func (b *Bus) On(eventType string, fn Handler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subs = append(b.subs, subscription{eventType, fn})
}

// OnAny registers a handler for all events.
func (b *Bus) OnAny(fn Handler) {
	b.On("", fn)
}

// Emit delivers the event to all handlers registered for its type. The lock is
// not held while handlers run, so handlers may register more handlers or emit
// more events; newly registered handlers only see later events.
func (b *Bus) Emit(ev Event) {
	b.mutex.RLock()
	subs := b.subs
	b.mutex.RUnlock()

	typ := ev.Type()

	for _, sub := range subs {
		if sub.typ == "" || sub.typ == typ {
			sub.fn(ev)
		}
	}
}
