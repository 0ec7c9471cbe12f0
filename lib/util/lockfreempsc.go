// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// The queue backs both the write queue (pending mutations) and the relay (normalized events
// waiting for the fan-out loop).
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with atomic compare-and-swap on the tail node
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are delivered through one channel (Recv) to one consumer goroutine
//   - Linearized Order: values are delivered in the order in which their Push completed. A single
//     producer therefore observes strict FIFO, concurrent producers are ordered by CAS success.
//   - Drain on Close: values pushed before Close are still delivered, then Recv is closed
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
// built on a linked list with a sentinel head node.
type LockFreeMPSC[T any] struct {
	head    atomic.Pointer[node[T]]
	tail    atomic.Pointer[node[T]]
	out     chan *T
	closed  atomic.Bool
	pending atomic.Int64

	// the consumer parks on cond when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its delivery goroutine.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	// counted before the append so the consumer can never decrement first
	q.pending.Add(1)

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have advanced the tail for us
				q.tail.CompareAndSwap(tailNode, newNode)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin briefly under low contention, yield once contention grows
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the consumer while holding the lock, so a signal can not slip in
// between the consumer's emptiness check and its call to Wait.
func (q *LockFreeMPSC[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			q.pending.Add(-1)

			// the old sentinel is unreachable now, drop the value reference for the gc
			next.value = nil
		}

		if !delivered && q.closed.Load() {
			return
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed once the queue is closed and drained.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Items already in the queue will still be delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values pushed but not yet handed to the consumer.
// A value currently blocked in the delivery channel still counts as pending.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pending.Load())
}
