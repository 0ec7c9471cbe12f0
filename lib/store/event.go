package store

import (
	"encoding/json"
	"fmt"
)

// EventType is the kind of change reported by a subscription
type EventType uint8

const (
	EventUnknown EventType = iota
	EventCreated
	EventUpdated
	EventDeleted
	EventExtended
)

// String returns the string representation of an EventType.
func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the event type as its string form
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the string form of an event type
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "created":
		*t = EventCreated
	case "updated":
		*t = EventUpdated
	case "deleted":
		*t = EventDeleted
	case "extended":
		*t = EventExtended
	default:
		return fmt.Errorf("unknown event type: %s", s)
	}
	return nil
}

// Event is a single change of the entity store
type Event struct {
	Type         EventType `json:"type"`
	Key          string    `json:"key"`
	Block        uint64    `json:"block"`
	NewExpiresAt uint64    `json:"newExpiresAt,omitempty"` // only for EventExtended
}

// EventHandlers are the callbacks of a subscription. Nil handlers are skipped.
// All callbacks of one subscription are invoked from a single goroutine.
type EventHandlers struct {
	OnCreated  func(Event)
	OnUpdated  func(Event)
	OnDeleted  func(Event)
	OnExtended func(Event)
	OnError    func(error)
}

// Dispatch invokes the handler matching ev.Type
func (h EventHandlers) Dispatch(ev Event) {
	var fn func(Event)
	switch ev.Type {
	case EventCreated:
		fn = h.OnCreated
	case EventUpdated:
		fn = h.OnUpdated
	case EventDeleted:
		fn = h.OnDeleted
	case EventExtended:
		fn = h.OnExtended
	}
	if fn != nil {
		fn(ev)
	}
}

// Fail invokes OnError if set
func (h EventHandlers) Fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
