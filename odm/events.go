package odm

import "sync"

// Event names a document or feed notification.
type Event string

const (
	EventSaving  Event = "saving"
	EventSaved   Event = "saved"
	EventDeleted Event = "deleted"
	EventChange  Event = "change"
	EventError   Event = "error"
	EventData    Event = "data"
)

// Listener receives an event. err is only set for EventError.
type Listener func(doc *Document, err error)

type emitter struct {
	mu        sync.Mutex
	listeners map[Event][]Listener
}

func (e *emitter) on(ev Event, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[Event][]Listener)
	}
	e.listeners[ev] = append(e.listeners[ev], fn)
}

func (e *emitter) emit(ev Event, doc *Document, err error) {
	e.mu.Lock()
	ls := append([]Listener(nil), e.listeners[ev]...)
	e.mu.Unlock()
	for _, fn := range ls {
		fn(doc, err)
	}
}

func (e *emitter) count(ev Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[ev])
}
