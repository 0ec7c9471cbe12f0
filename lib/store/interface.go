package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IEntityStore is the client interface of the append-only entity store.
//
// All mutating operations take a Tx carrying the sender address, its next nonce and a
// signed authorization token. Expiry values are expressed in blocks.
// Implementations return *Error values so callers can classify failures.
type IEntityStore interface {
	// CreateEntity stores a new entity and returns its store-assigned key.
	CreateEntity(tx Tx, payload []byte, attrs []Attribute, expiresIn uint64) (key string, err error)
	// UpdateEntity replaces payload and attributes of an existing entity and resets its expiry.
	UpdateEntity(tx Tx, key string, payload []byte, attrs []Attribute, expiresIn uint64) (string, error)
	// DeleteEntity removes an entity. Deleting a missing key returns a RetCNotFound error.
	DeleteEntity(tx Tx, key string) (string, error)
	// ExtendEntity pushes the expiry of an entity forward and returns the new expiry block.
	ExtendEntity(tx Tx, key string, extendBy uint64) (newExpiresAt uint64, err error)
	// GetEntity returns a single entity. A missing key returns a RetCNotFound error.
	GetEntity(key string) (Entity, error)
	// QueryEntities returns all live entities matching the query.
	QueryEntities(q Query) ([]Entity, error)
	// NonceAt returns the next nonce the store expects from address.
	NonceAt(address string) (uint64, error)
	// BlockNumber returns the current block of the store.
	BlockNumber() (uint64, error)
	// SubscribeEntityEvents starts delivering change events to the handlers until the
	// returned stop function is called.
	SubscribeEntityEvents(h EventHandlers) (StopFunc, error)
}

// IEventSource is the read side of the store used by subscribers
type IEventSource interface {
	GetEntity(key string) (Entity, error)
	SubscribeEntityEvents(h EventHandlers) (StopFunc, error)
}

// StopFunc ends a subscription. Stopping an already expired subscription may return an error.
type StopFunc func() error

// TxVerifier checks that tx authorizes op on the given digest (see TxDigest).
type TxVerifier func(tx Tx, op Op, digest string) error

// --------------------------------------------------------------------------
// Data Types
// --------------------------------------------------------------------------

// Attribute is a single string tag of an entity. Attribute order is preserved.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entity is the unit of storage
type Entity struct {
	Key        string      `json:"key"`
	Owner      string      `json:"owner"`
	Payload    []byte      `json:"payload"`
	Attributes []Attribute `json:"attributes"`
	CreatedAt  uint64      `json:"createdAt"` // block of the create
	ExpiresAt  uint64      `json:"expiresAt"` // block at which the entity lapses
}

// Attribute returns the first value for key
func (e *Entity) Attribute(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// AttributeMap flattens the attributes into a map (later keys win)
func (e *Entity) AttributeMap() map[string]string {
	m := make(map[string]string, len(e.Attributes))
	for _, a := range e.Attributes {
		m[a.Key] = a.Value
	}
	return m
}

// Tx identifies and authorizes the sender of a mutation
type Tx struct {
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`
	Token string `json:"token,omitempty"`
}

// Query selects entities whose attributes equal all given pairs. An empty query matches everything.
type Query struct {
	Equals []Attribute `json:"equals,omitempty"`
}

// Where returns a query with a single equality condition
func Where(key, value string) Query {
	return Query{Equals: []Attribute{{Key: key, Value: value}}}
}

// And adds another equality condition
func (q Query) And(key, value string) Query {
	eq := make([]Attribute, len(q.Equals), len(q.Equals)+1)
	copy(eq, q.Equals)
	return Query{Equals: append(eq, Attribute{Key: key, Value: value})}
}

// Matches reports whether e satisfies all conditions of q
func (q Query) Matches(e *Entity) bool {
	for _, cond := range q.Equals {
		if v, ok := e.Attribute(cond.Key); !ok || v != cond.Value {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Mutation Ops
// --------------------------------------------------------------------------

// Op is the kind of a mutating operation
type Op uint8

const (
	OpUnknown Op = iota
	OpCreate
	OpUpdate
	OpDelete
	OpExtend
)

// String returns the string representation of an Op.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpExtend:
		return "extend"
	default:
		return "unknown"
	}
}

// ParseOp converts the string form back to an Op
func ParseOp(s string) (Op, error) {
	switch s {
	case "create":
		return OpCreate, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	case "extend":
		return OpExtend, nil
	default:
		return OpUnknown, fmt.Errorf("unknown op: %s", s)
	}
}

// MarshalJSON encodes the op as its string form
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes the string form of an op
func (o *Op) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op, err := ParseOp(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// TxDigest is the canonical digest a Tx token signs. It covers the op, target key,
// payload, attributes, the expiry argument and the nonce, so a token can not be
// replayed for a different mutation.
func TxDigest(op Op, key string, payload []byte, attrs []Attribute, expiry uint64, nonce uint64) string {
	h := sha256.New()
	h.Write([]byte(op.String()))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	for _, a := range attrs {
		h.Write([]byte(a.Key))
		h.Write([]byte{'='})
		h.Write([]byte(a.Value))
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.FormatUint(expiry, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// --------------------------------------------------------------------------
// Block helpers
// --------------------------------------------------------------------------

// DefaultBlockTime is the block interval assumed when none is configured
const DefaultBlockTime = 2 * time.Second

// BlocksFor converts a duration into a number of blocks, rounding up
func BlocksFor(d, blockTime time.Duration) uint64 {
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	if d <= 0 {
		return 0
	}
	return uint64((d + blockTime - 1) / blockTime)
}
