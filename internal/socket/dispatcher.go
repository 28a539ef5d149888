// Package socket receives realtime events pushed by the backend over a
// websocket and fans them out to in-process subscribers.
package socket

import (
	"encoding/json"
	"sync"
)

// Event is one message on the realtime channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes the payload of one event.
type Handler func(payload json.RawMessage)

// Bus is the subscribe side of the dispatcher, all most consumers need.
type Bus interface {
	On(eventType string, h Handler) *Subscription
}

// Subscription is a live event registration. Off is idempotent.
type Subscription struct {
	d         *Dispatcher
	eventType string
	id        int
}

// Off removes the subscription.
func (s *Subscription) Off() {
	s.d.off(s.eventType, s.id)
}

// Dispatcher routes events to handlers by event type. Handlers run on
// the dispatching goroutine; long work belongs elsewhere.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]map[int]Handler)}
}

// On registers a handler for one event type.
func (d *Dispatcher) On(eventType string, h Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.handlers[eventType] == nil {
		d.handlers[eventType] = make(map[int]Handler)
	}
	d.handlers[eventType][id] = h
	return &Subscription{d: d, eventType: eventType, id: id}
}

func (d *Dispatcher) off(eventType string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hs := d.handlers[eventType]
	delete(hs, id)
	if len(hs) == 0 {
		delete(d.handlers, eventType)
	}
}

// Dispatch delivers an event to every handler registered for its type.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	hs := d.handlers[ev.Type]
	snapshot := make([]Handler, 0, len(hs))
	for _, h := range hs {
		snapshot = append(snapshot, h)
	}
	d.mu.Unlock()

	for _, h := range snapshot {
		h(ev.Payload)
	}
}
