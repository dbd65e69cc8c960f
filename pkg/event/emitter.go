// Package event provides the ordered publish/subscribe primitive used by the
// voice client to deliver conversational events (segments, turn boundaries,
// VAD, metrics) to application code.
//
// Handlers for a single event type observe emissions in the order they were
// emitted. Across distinct event types no ordering is promised beyond a single
// emission cycle. Handler panics are recovered and logged; they never affect
// other handlers or the emitter itself.
package event

import (
	"log/slog"
	"sync"
)

// Type is the name of an event, e.g. "add_segment". Concrete constants are
// declared by the package that emits them.
type Type string

// Payload is the opaque message dictionary delivered to handlers. Handlers
// must not mutate it; the same map is passed to every subscriber.
type Payload map[string]any

// Handler is a callback registered against an event [Type].
type Handler func(Payload)

// Subscription identifies a registered handler so it can be removed with
// [Emitter.Off].
type Subscription struct {
	eventType Type
	id        uint64
}

// subscriber pairs a handler with its registration metadata.
type subscriber struct {
	id   uint64
	fn   Handler
	once bool
}

// Emitter registers handlers against named events and delivers payloads in
// emission order. The zero value is not usable; create one with [NewEmitter].
//
// All methods are safe for concurrent use, though the core emits from a single
// goroutine by design.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Type][]subscriber
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[Type][]subscriber),
	}
}

// On registers a persistent handler for t. The returned Subscription can be
// passed to [Emitter.Off] to remove it.
func (e *Emitter) On(t Type, fn Handler) *Subscription {
	return e.subscribe(t, fn, false)
}

// Once registers a handler that is removed after its first invocation.
func (e *Emitter) Once(t Type, fn Handler) *Subscription {
	return e.subscribe(t, fn, true)
}

func (e *Emitter) subscribe(t Type, fn Handler, once bool) *Subscription {
	if fn == nil {
		return &Subscription{eventType: t}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.subs[t] = append(e.subs[t], subscriber{id: e.nextID, fn: fn, once: once})
	return &Subscription{eventType: t, id: e.nextID}
}

// Off removes a previously registered handler. Removing an already-removed or
// zero subscription is a no-op.
func (e *Emitter) Off(sub *Subscription) {
	if sub == nil || sub.id == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.subs[sub.eventType]
	for i, s := range list {
		if s.id == sub.id {
			e.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// RemoveAllListeners removes every handler for the given types, or every
// handler on the emitter when no types are given.
func (e *Emitter) RemoveAllListeners(types ...Type) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(types) == 0 {
		e.subs = make(map[Type][]subscriber)
		return
	}
	for _, t := range types {
		delete(e.subs, t)
	}
}

// ListenerCount returns the number of handlers currently registered for t.
// The client uses this to skip building payloads nobody consumes.
func (e *Emitter) ListenerCount(t Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[t])
}

// Emit delivers payload to every handler registered for t, in registration
// order. One-shot handlers are removed before invocation so that a handler
// emitting the same event cannot re-trigger itself.
func (e *Emitter) Emit(t Type, payload Payload) {
	e.mu.Lock()
	list := e.subs[t]
	fns := make([]Handler, 0, len(list))
	kept := list[:0:0]
	for _, s := range list {
		fns = append(fns, s.fn)
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) != len(list) {
		e.subs[t] = kept
	}
	e.mu.Unlock()

	for _, fn := range fns {
		invoke(t, fn, payload)
	}
}

// invoke runs a single handler with panic recovery.
func invoke(t Type, fn Handler, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", string(t), "panic", r)
		}
	}()
	fn(payload)
}
