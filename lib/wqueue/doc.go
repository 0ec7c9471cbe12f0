// Package wqueue serializes mutations of the entity store.
//
// The store signs every write with the next nonce of the sender and rejects a second
// write that arrives too close to the first ("sequence conflict", "nonce too low").
// A Queue removes this class of failure by construction: one worker executes the
// operations in submission order, waits MinDelay after each completion, and retries
// transient failures of the same operation in place with a linear backoff before
// moving on. Any other failure is terminal for that operation only and is handed
// to its Future.
//
// Usage:
//
//	q := wqueue.New(executor, wqueue.Options{})
//	defer q.Close(ctx)
//
//	res, err := q.Enqueue(ctx, wqueue.Operation{Kind: wqueue.KindCreate, Payload: p}).Wait(ctx)
//
// The queue is unbounded. Metrics (enqueued, retries, completed, failed per kind, depth
// and duration) are reported to a VictoriaMetrics set.
package wqueue
