package realtime

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler receives one decoded envelope.
type Handler func(env Envelope)

// ListenerID identifies a registration so it can be removed later.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// Dispatcher maps event types to listeners and demultiplexes envelopes.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]listener
	nextID    ListenerID
	logger    zerolog.Logger
}

// NewDispatcher returns an empty registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[EventType][]listener),
		logger:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// On registers fn for eventType. Listeners of one type run in registration order.
func (d *Dispatcher) On(eventType EventType, fn Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.listeners[eventType] = append(d.listeners[eventType], listener{id: id, fn: fn})
	return id
}

// Off removes a registration. Unknown IDs are ignored.
func (d *Dispatcher) Off(eventType EventType, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.listeners[eventType]
	for i, l := range current {
		if l.id != id {
			continue
		}
		next := make([]listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, eventType)
		} else {
			d.listeners[eventType] = next
		}
		return
	}
}

// Len returns the number of listeners registered for eventType.
func (d *Dispatcher) Len(eventType EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[eventType])
}

// Clear drops every listener.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[EventType][]listener)
}

// Dispatch runs the listeners registered for env.Type on the calling
// goroutine. Registrations changed by a listener apply from the next dispatch.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.RLock()
	snapshot := d.listeners[env.Type]
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		d.logger.Debug().Str("type", string(env.Type)).Msg("no listeners for event")
		return
	}
	for _, l := range snapshot {
		d.invoke(l, env)
	}
}

func (d *Dispatcher) invoke(l listener, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("type", string(env.Type)).
				Uint64("listener", uint64(l.id)).
				Msg("recovered from panic in listener")
		}
	}()
	l.fn(env)
}

// Subscribe registers a listener that receives the payload decoded into T.
// Envelopes whose payload does not decode are logged and skipped.
func Subscribe[T any](d *Dispatcher, eventType EventType, fn func(T)) ListenerID {
	return d.On(eventType, func(env Envelope) {
		var payload T
		if err := env.Decode(&payload); err != nil {
			d.logger.Warn().Err(err).Str("type", string(eventType)).Msg("dropping undecodable payload")
			return
		}
		fn(payload)
	})
}
