package pipeline

import (
	"slices"
	"sync"
)

// anyEvent keys the handlers registered through SubscribeAll.
const anyEvent EventName = "*"

// Bus is a synchronous publish/subscribe hub for pipeline events.
//
// Emit invokes every handler registered for the event's name, in
// registration order, on the caller's goroutine before returning. The
// handler list is snapshotted when an emission starts: handlers added or
// removed during an emission take effect from the next one. Handlers may
// emit further events.
//
// A panicking handler aborts the remaining deliveries of that emission.
//
// Bus is safe for concurrent subscription, but emissions are expected to come
// from the goroutine that drives the owning [Pipeline].
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[EventName][]subscription
}

type subscription struct {
	id uint64
	fn func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventName][]subscription)}
}

// Subscribe registers fn for events of type E and returns a function that
// removes the registration. Calling the returned function more than once is
// a no-op.
func Subscribe[E Event](b *Bus, fn func(E)) (unsubscribe func()) {
	var zero E
	return b.subscribe(zero.EventName(), func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

// SubscribeAll registers fn for every event. Such handlers run after the
// handlers registered for the specific event name.
func (b *Bus) SubscribeAll(fn func(Event)) (unsubscribe func()) {
	return b.subscribe(anyEvent, fn)
}

func (b *Bus) subscribe(name EventName, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[EventName][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name EventName, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Clone so that snapshots held by in-flight emissions are never mutated.
	list := slices.DeleteFunc(slices.Clone(b.handlers[name]), func(s subscription) bool {
		return s.id == id
	})
	if len(list) == 0 {
		delete(b.handlers, name)
		return
	}
	b.handlers[name] = list
}

// Emit delivers ev to the current subscribers. Emitting an event nobody
// listens to is a no-op.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	specific := b.handlers[ev.EventName()]
	all := b.handlers[anyEvent]
	b.mu.Unlock()

	for _, s := range specific {
		s.fn(ev)
	}
	for _, s := range all {
		s.fn(ev)
	}
}

// Len returns the number of handlers registered for name, excluding
// SubscribeAll handlers.
func (b *Bus) Len(name EventName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[name])
}
