// Package events implements the thread-safe callback registry used by
// both the client's global dispatcher and every channel's per-channel
// dispatcher (spec.md §4.2).
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Event is the payload handed to a bound callback.
type Event struct {
	Name    string
	Channel string
	Data    interface{}
}

// Callback is a user-supplied event handler. A panicking Callback must
// never take down the dispatcher; Emit recovers and logs.
type Callback func(Event)

type binding struct {
	id int64
	cb Callback
}

// Dispatcher is a per-event + global callback registry, safe for
// concurrent bind/unbind/emit. No callback is ever invoked while holding
// d.mu: Emit copies the relevant slices under lock, then runs callbacks
// after releasing it.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]binding
	global   []binding
	nextID   int64

	failThrough atomic.Pointer[Callback]

	log zerolog.Logger
}

// New creates an empty Dispatcher. log may be the zero value
// (zerolog.Logger{}), which discards output.
func New(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]binding),
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Bind appends cb to the callback list for name and returns an id unique
// within this dispatcher, usable with Unbind.
func (d *Dispatcher) Bind(name string, cb Callback) int64 {
	id := atomic.AddInt64(&d.nextID, 1)
	d.mu.Lock()
	d.handlers[name] = append(d.handlers[name], binding{id: id, cb: cb})
	d.mu.Unlock()
	return id
}

// BindGlobal appends cb to the list of callbacks that receive every
// event, and returns an id unique within this dispatcher.
func (d *Dispatcher) BindGlobal(cb Callback) int64 {
	id := atomic.AddInt64(&d.nextID, 1)
	d.mu.Lock()
	d.global = append(d.global, binding{id: id, cb: cb})
	d.mu.Unlock()
	return id
}

// SetFailThrough installs the single callback invoked when Emit finds no
// event-specific callback bound for an event (global callbacks still ran).
// Passing nil clears it.
func (d *Dispatcher) SetFailThrough(cb Callback) {
	if cb == nil {
		d.failThrough.Store(nil)
		return
	}
	d.failThrough.Store(&cb)
}

// Unbind removes callbacks per spec.md §4.2's (name, id) cross-product
// rule:
//   - both present: remove that specific (name, id) entry
//   - only name: drop all callbacks for that name
//   - only id (name == ""): remove that id from every event and the
//     global list
//   - neither: remove everything
func (d *Dispatcher) Unbind(name string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case name != "" && id != 0:
		d.handlers[name] = removeID(d.handlers[name], id)
	case name != "":
		delete(d.handlers, name)
	case id != 0:
		for k, list := range d.handlers {
			d.handlers[k] = removeID(list, id)
		}
		d.global = removeID(d.global, id)
	default:
		d.handlers = make(map[string][]binding)
		d.global = nil
	}
}

func removeID(list []binding, id int64) []binding {
	out := list[:0:0]
	for _, b := range list {
		if b.id != id {
			out = append(out, b)
		}
	}
	return out
}

// Emit invokes global callbacks (registration order) then the
// event-specific callbacks for ev.Name (registration order). A
// panicking callback is recovered and logged; subsequent callbacks still
// run. If no event-specific callback was bound, the fail-through
// callback (if any) runs after the event-specific pass (which did
// nothing).
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	global := append([]binding(nil), d.global...)
	specific, hasSpecific := d.handlers[ev.Name]
	specific = append([]binding(nil), specific...)
	d.mu.RUnlock()

	for _, b := range global {
		d.invoke(b.cb, ev)
	}
	for _, b := range specific {
		d.invoke(b.cb, ev)
	}

	if !hasSpecific || len(specific) == 0 {
		if ft := d.failThrough.Load(); ft != nil {
			d.invoke(*ft, ev)
		}
	}
}

func (d *Dispatcher) invoke(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("event", ev.Name).
				Interface("recovered", r).
				Msg("callback panicked, continuing dispatch")
		}
	}()
	cb(ev)
}

// BoundEventNames reports the event names currently carrying at least one
// callback. Intended for diagnostics/tests, not hot-path use.
func (d *Dispatcher) BoundEventNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name, list := range d.handlers {
		if len(list) > 0 {
			names = append(names, name)
		}
	}
	return names
}
