package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string            `json:"key,omitempty"`   // Used for: Update, Delete, Extend, Get, Create (response), NonceAt (address)
	Num   uint64            `json:"num,omitempty"`   // Used for: expiry/extension (request), new expiry, nonce, block (response)
	Value []byte            `json:"value,omitempty"` // Used for: Create, Update (payload)
	Attrs []store.Attribute `json:"attrs,omitempty"` // Used for: Create, Update, Query (equality conditions)
	Tx    *store.Tx         `json:"tx,omitempty"`    // Used for: all mutations

	// Response only fields
	Entities []store.Entity `json:"entities,omitempty"` // Used for: Get, Query responses
	Events   []store.Event  `json:"events,omitempty"`   // Used for: FilterChanges responses
	Err      string         `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
}

// Error returns the error carried by a response, re-classified from its text
func (m *Message) Error() error {
	if m.Err == "" {
		return nil
	}
	return store.ParseError(m.Err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCreateRequest creates a new Create request
func NewCreateRequest(tx store.Tx, payload []byte, attrs []store.Attribute, expiresIn uint64) *Message {
	return &Message{
		MsgType: MsgTCreate,
		Tx:      &tx,
		Value:   payload,
		Attrs:   attrs,
		Num:     expiresIn,
	}
}

// NewCreateResponse creates a new Create response
func NewCreateResponse(key string, err error) *Message {
	return &Message{MsgType: MsgTCreate, Key: key, Err: errText(err)}
}

// NewUpdateRequest creates a new Update request
func NewUpdateRequest(tx store.Tx, key string, payload []byte, attrs []store.Attribute, expiresIn uint64) *Message {
	return &Message{
		MsgType: MsgTUpdate,
		Tx:      &tx,
		Key:     key,
		Value:   payload,
		Attrs:   attrs,
		Num:     expiresIn,
	}
}

// NewUpdateResponse creates a new Update response
func NewUpdateResponse(key string, err error) *Message {
	return &Message{MsgType: MsgTUpdate, Key: key, Err: errText(err)}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(tx store.Tx, key string) *Message {
	return &Message{MsgType: MsgTDelete, Tx: &tx, Key: key}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(key string, err error) *Message {
	return &Message{MsgType: MsgTDelete, Key: key, Err: errText(err)}
}

// NewExtendRequest creates a new Extend request
func NewExtendRequest(tx store.Tx, key string, extendBy uint64) *Message {
	return &Message{MsgType: MsgTExtend, Tx: &tx, Key: key, Num: extendBy}
}

// NewExtendResponse creates a new Extend response
func NewExtendResponse(newExpiresAt uint64, err error) *Message {
	return &Message{MsgType: MsgTExtend, Num: newExpiresAt, Err: errText(err)}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTGet, Key: key}
}

// NewGetResponse creates a new Get response
func NewGetResponse(e store.Entity, err error) *Message {
	msg := &Message{MsgType: MsgTGet, Err: errText(err)}
	if err == nil {
		msg.Entities = []store.Entity{e}
	}
	return msg
}

// NewQueryRequest creates a new Query request
func NewQueryRequest(q store.Query) *Message {
	return &Message{MsgType: MsgTQuery, Attrs: q.Equals}
}

// NewQueryResponse creates a new Query response
func NewQueryResponse(entities []store.Entity, err error) *Message {
	return &Message{MsgType: MsgTQuery, Entities: entities, Err: errText(err)}
}

// NewNonceRequest creates a new NonceAt request
func NewNonceRequest(address string) *Message {
	return &Message{MsgType: MsgTNonce, Key: address}
}

// NewBlockRequest creates a new BlockNumber request
func NewBlockRequest() *Message {
	return &Message{MsgType: MsgTBlock}
}

// NewNumResponse creates a response carrying a single number (nonce or block)
func NewNumResponse(t MessageType, n uint64, err error) *Message {
	return &Message{MsgType: t, Num: n, Err: errText(err)}
}

// NewFilterRequest creates a new NewFilter request
func NewFilterRequest() *Message {
	return &Message{MsgType: MsgTNewFilter}
}

// NewFilterResponse creates a new NewFilter response
func NewFilterResponse(id string, err error) *Message {
	return &Message{MsgType: MsgTNewFilter, Key: id, Err: errText(err)}
}

// NewFilterChangesRequest creates a new FilterChanges request
func NewFilterChangesRequest(id string) *Message {
	return &Message{MsgType: MsgTFilterChanges, Key: id}
}

// NewFilterChangesResponse creates a new FilterChanges response
func NewFilterChangesResponse(events []store.Event, err error) *Message {
	return &Message{MsgType: MsgTFilterChanges, Events: events, Err: errText(err)}
}

// NewUninstallFilterRequest creates a new UninstallFilter request
func NewUninstallFilterRequest(id string) *Message {
	return &Message{MsgType: MsgTUninstallFilter, Key: id}
}

// NewUninstallFilterResponse creates a new UninstallFilter response
func NewUninstallFilterResponse(err error) *Message {
	return &Message{MsgType: MsgTUninstallFilter, Err: errText(err)}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTSuccess:         "success",
	MsgTError:           "error",
	MsgTCreate:          "create",
	MsgTUpdate:          "update",
	MsgTDelete:          "delete",
	MsgTExtend:          "extend",
	MsgTGet:             "get",
	MsgTQuery:           "query",
	MsgTNonce:           "nonce",
	MsgTBlock:           "block",
	MsgTNewFilter:       "newFilter",
	MsgTFilterChanges:   "filterChanges",
	MsgTUninstallFilter: "uninstallFilter",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Idempotent reports whether a request of this type can be resent without side effects.
// Mutations and filter polls are not, a lost response may hide an applied request.
func (t MessageType) Idempotent() bool {
	switch t {
	case MsgTGet, MsgTQuery, MsgTNonce, MsgTBlock:
		return true
	}
	return false
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for typ, name := range msgTypeNames {
		if name == s {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IEntityStore mutations

	MsgTCreate // Create an entity
	MsgTUpdate // Replace payload and attributes of an entity
	MsgTDelete // Delete an entity
	MsgTExtend // Extend the expiry of an entity

	// IEntityStore reads

	MsgTGet   // Get a single entity
	MsgTQuery // Query entities by attributes
	MsgTNonce // Next nonce of an account
	MsgTBlock // Current block number

	// IFilterSource operations

	MsgTNewFilter       // Install an event filter
	MsgTFilterChanges   // Poll an event filter
	MsgTUninstallFilter // Remove an event filter
)
