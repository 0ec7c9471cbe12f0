package wqueue

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// Kind is the type of a queued mutation
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCreate
	KindUpdate
	KindDelete
	KindExtend
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindExtend:
		return "extend"
	default:
		return "unknown"
	}
}

// retryRules classifies failures per kind. Kinds without a rule are never retried.
var retryRules = map[Kind]func(error) bool{
	KindCreate: store.IsTransient,
	KindUpdate: store.IsTransient,
	KindExtend: store.IsTransient,
	// a delete that already landed reports not found on retry, only conflicts are retried
	KindDelete: func(err error) bool { return store.IsTransient(err) && !store.IsNotFound(err) },
}

// Retryable reports whether an operation of this kind is retried in place after err
func (k Kind) Retryable(err error) bool {
	if err == nil {
		return false
	}
	rule, ok := retryRules[k]
	return ok && rule(err)
}

// Operation is a single mutation waiting in the queue
type Operation struct {
	ID   string
	Kind Kind

	// Key is the target entity (update, delete, extend)
	Key string
	// Payload and Attributes are the new content (create, update)
	Payload    []byte
	Attributes []store.Attribute
	// Expiry is expiresIn for create and update and extendBy for extend, in blocks
	Expiry uint64
}

func (op Operation) String() string {
	if op.Key == "" {
		return fmt.Sprintf("%s(%s)", op.Kind, op.ID)
	}
	return fmt.Sprintf("%s(%s, %s)", op.Kind, op.ID, op.Key)
}

// Result is the outcome of a successful operation
type Result struct {
	// Key is the entity key (create returns the new key)
	Key string
	// ExpiresAt is the new expiry block (extend)
	ExpiresAt uint64
}

// Executor runs one attempt of an operation against the backend
type Executor interface {
	Execute(ctx context.Context, op Operation) (Result, error)
}

// ExecutorFunc adapts a function to an Executor
type ExecutorFunc func(ctx context.Context, op Operation) (Result, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, op Operation) (Result, error) {
	return f(ctx, op)
}

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is resolved once its operation has reached a terminal state
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res Result, err error) {
	f.res, f.err = res, err
	close(f.done)
}

// Done is closed when the operation is terminal
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation is terminal or ctx is done. A done ctx only stops
// waiting, the operation stays queued.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
