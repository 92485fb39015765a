package lifecycle

import (
	"context"
	"sync"
)

// Handler consumes one dispatched lifecycle event.
type Handler func(ctx context.Context, ev Event)

// Dispatcher routes typed lifecycle events to registered handlers,
// one handler per event name. Registering a name twice replaces the
// previous handler.
//
// It is safe for concurrent use. Dispatch of an unregistered name is a
// silent no-op; producers must not depend on a consumer being present.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}}
}

func (d *Dispatcher) Register(name string, h Handler) {
	if name == "" || h == nil {
		return
	}
	d.mu.Lock()
	d.handlers[name] = h
	d.mu.Unlock()
}

// Dispatch invokes the handler registered for the event's name, if any.
// It reports whether a handler ran.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) bool {
	if ev == nil {
		return false
	}
	d.mu.RLock()
	h := d.handlers[ev.EventName()]
	d.mu.RUnlock()
	if h == nil {
		return false
	}
	h(ctx, ev)
	return true
}
