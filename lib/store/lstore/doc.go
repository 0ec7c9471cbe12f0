// Package lstore implements a local, in-memory, single-node entity store based on the
// store.IEntityStore interface. It backs the development node and the test suites, and
// reproduces the behavior clients of the real ledger have to cope with.
//
// Key Features:
//   - Block clock: block numbers advance every BlockTime, expiry is counted in blocks
//   - Per-account nonces: a stale nonce is "nonce too low" (transient), a future nonce is
//     "nonce too high" (terminal)
//   - One mutation per account and block: a second one is a "sequence conflict" (transient)
//   - Replays of a committed transaction are "already known" (transient)
//   - Optional signature verification through a store.TxVerifier
//   - Event filters with a fixed lifetime, polled through store.PollSubscription
//   - Optional write-through journal (see the journal package)
//
// Implementation Details:
//
//   - Expiry: lapsed entities are removed lazily. Mutations and filter polls pop every due key
//     from a util.MapHeap ordered by expiry block and emit a deleted event for it. Reads skip
//     lapsed entities that have not been swept yet.
//
//   - Filters: each filter buffers the events emitted after its installation. Once FilterTTL has
//     passed since installation every call with its id fails with a RetCFilterExpired error
//     ("filter not found"), the same way the remote ledger drops idle filters.
//
// Thread Safety:
//
//	Mutations are serialized by a single mutex. Entities, accounts and filters are held in
//	xsync maps, so reads and polls run concurrently with each other and with mutations.
//	Stored entities are never modified in place, an update stores a new value.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(lstore.DefaultOptions())
//	key, err := s.CreateEntity(tx, payload, attrs, store.BlocksFor(720*time.Hour, store.DefaultBlockTime))
package lstore
