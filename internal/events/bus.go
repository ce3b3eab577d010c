// Package events provides a small synchronous in-process event bus.
//
// The queue, the crawl state, and the orchestrator all announce lifecycle
// transitions through a shared Bus so telemetry consumers can observe them
// without coupling to internal structures. Handlers run synchronously, in
// registration order, on the goroutine that emits; anything slow or
// blocking belongs behind an asynchronous consumer such as progress.Hub.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Event is a named occurrence with an arbitrary payload.
type Event struct {
	Name    string
	Payload any
}

// Handler consumes a single event.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus dispatches events to per-name subscriber lists. Safe for concurrent
// use by multiple goroutines.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]subscription
	logger   *zap.Logger
}

// NewBus creates an empty Bus. A nil logger is replaced with a nop logger.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event and returns a function
// that removes the registration. Handlers for a name run in the order they
// were registered.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[name]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[name]) == 0 {
			delete(b.handlers, name)
		}
	}
}

// Emit delivers the event to every subscriber of its name before returning.
// A panicking handler is recovered and logged so one consumer cannot take
// down the emitter.
func (b *Bus) Emit(name string, payload any) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.handlers[name]...)
	b.mu.Unlock()

	evt := Event{Name: name, Payload: payload}
	for _, sub := range subs {
		b.dispatch(sub.fn, evt)
	}
}

func (b *Bus) dispatch(fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", evt.Name),
				zap.Any("panic", r),
			)
		}
	}()
	fn(evt)
}
