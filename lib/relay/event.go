package relay

import (
	"encoding/json"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// Frame names of the relay events
const (
	NameCreated  = "entity:created"
	NameUpdated  = "entity:updated"
	NameDeleted  = "entity:deleted"
	NameExtended = "entity:extended"
	NameError    = "error"
)

// SubscriptionErrorMessage is the message of every error event
const SubscriptionErrorMessage = "Arkiv subscription error"

// Metadata is the plaintext envelope metadata of a created entity
type Metadata struct {
	From      string  `json:"from"`
	Timestamp string  `json:"timestamp"`
	UUID      *string `json:"uuid"`
	Source    string  `json:"source"`
}

// Event is a normalized store event as pushed to the listeners
type Event struct {
	Name string

	EntityKey          string
	EntityType         string
	Attributes         map[string]string
	Metadata           *Metadata
	Encrypted          bool
	NewExpirationBlock uint64

	// set for error events
	Err string

	Timestamp string
}

// Data returns the frame payload. The fields present depend on the event name.
func (e *Event) Data() map[string]any {
	switch e.Name {
	case NameCreated:
		return map[string]any{
			"entityKey":  e.EntityKey,
			"entityType": e.EntityType,
			"attributes": e.Attributes,
			"metadata":   e.Metadata,
			"encrypted":  e.Encrypted,
			"timestamp":  e.Timestamp,
		}
	case NameUpdated:
		return map[string]any{
			"entityKey":  e.EntityKey,
			"entityType": e.EntityType,
			"attributes": e.Attributes,
			"timestamp":  e.Timestamp,
		}
	case NameDeleted:
		return map[string]any{
			"entityKey": e.EntityKey,
			"timestamp": e.Timestamp,
		}
	case NameExtended:
		return map[string]any{
			"entityKey":          e.EntityKey,
			"newExpirationBlock": e.NewExpirationBlock,
			"timestamp":          e.Timestamp,
		}
	default:
		return map[string]any{
			"message":   SubscriptionErrorMessage,
			"error":     e.Err,
			"timestamp": e.Timestamp,
		}
	}
}

func nameOf(t store.EventType) string {
	switch t {
	case store.EventCreated:
		return NameCreated
	case store.EventUpdated:
		return NameUpdated
	case store.EventDeleted:
		return NameDeleted
	default:
		return NameExtended
	}
}

// envelope is the part of a stored payload the relay reads without decrypting
type envelope struct {
	Encrypted bool `json:"encrypted"`
	Data      struct {
		From      string  `json:"from"`
		Timestamp string  `json:"timestamp"`
		UUID      *string `json:"uuid"`
		Source    string  `json:"source"`
	} `json:"data"`
}

// describe fills the entity details of a created or updated event
func describe(ev *Event, e store.Entity) {
	ev.Attributes = e.AttributeMap()
	ev.EntityType = ev.Attributes["type"]

	if ev.Name != NameCreated {
		return
	}
	var env envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		Logger.Debugf("payload of %s is not an envelope: %v", e.Key, err)
		return
	}
	ev.Encrypted = env.Encrypted
	ev.Metadata = &Metadata{
		From:      env.Data.From,
		Timestamp: env.Data.Timestamp,
		UUID:      env.Data.UUID,
		Source:    env.Data.Source,
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
