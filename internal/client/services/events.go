package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
)

// EventName identifies a kind of change notification, e.g. "plantCreated".
type EventName string

const (
	PlantCreated    EventName = "plantCreated"
	PlantUpdated    EventName = "plantUpdated"
	PlantDeleted    EventName = "plantDeleted"
	EventCreated    EventName = "eventCreated"
	EventUpdated    EventName = "eventUpdated"
	EventDeleted    EventName = "eventDeleted"
	PostCreated     EventName = "postCreated"
	PostUpdated     EventName = "postUpdated"
	PostDeleted     EventName = "postDeleted"
	SettingsCreated EventName = "settingsCreated"
	SettingsUpdated EventName = "settingsUpdated"

	// AllEvents is the name OnAll listeners are registered under.
	AllEvents EventName = "*"
)

// EventSource tells listeners where a change came from.
type EventSource string

const (
	SourceLocal  EventSource = "local"
	SourceRemote EventSource = "remote"
)

// ChangeEvent is delivered to listeners after a write commits. Entity is
// nil for deletions, Previous is nil for creations.
type ChangeEvent struct {
	Name     EventName
	Type     models.EntityType
	ID       string
	Entity   models.Entity
	Previous models.Entity
	Source   EventSource
}

// Listener receives change events. A returned error is logged and does not
// affect the mutation or other listeners.
type Listener func(ctx context.Context, ev ChangeEvent) error

type ListenerID uint64

func eventNameFor(t models.EntityType, op models.Operation) EventName {
	var verb string
	switch op {
	case models.OpCreate:
		verb = "Created"
	case models.OpDelete:
		verb = "Deleted"
	default:
		verb = "Updated"
	}
	return EventName(string(t) + verb)
}

type subscription struct {
	id ListenerID
	fn Listener
}

type emitter struct {
	mu     sync.RWMutex
	next   ListenerID
	subs   map[EventName][]subscription
	logger logging.Logger
}

func newEmitter(logger logging.Logger) *emitter {
	return &emitter{subs: make(map[EventName][]subscription), logger: logger}
}

func (e *emitter) on(name EventName, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.subs[name] = append(e.subs[name], subscription{id: e.next, fn: fn})
	return e.next
}

func (e *emitter) off(name EventName, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.subs[name]
	for i, s := range list {
		if s.id == id {
			e.subs[name] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// emit calls the listeners for ev.Name and then the catch-all listeners,
// each in registration order.
func (e *emitter) emit(ctx context.Context, ev ChangeEvent) {
	e.mu.RLock()
	named := e.subs[ev.Name]
	all := e.subs[AllEvents]
	targets := make([]subscription, 0, len(named)+len(all))
	targets = append(targets, named...)
	targets = append(targets, all...)
	e.mu.RUnlock()

	for _, s := range targets {
		if err := e.call(ctx, s, ev); err != nil {
			e.logger.Error(ctx, "listener failed", "event", ev.Name, "listener", s.id, "id", ev.ID, "error", err)
		}
	}
}

func (e *emitter) call(ctx context.Context, s subscription, ev ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, ev)
}
