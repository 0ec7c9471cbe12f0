// Package store defines the client-side contract of the append-only entity store
// together with its data types, error taxonomy and subscription helpers.
//
// The package focuses on:
//   - A unified interface (IEntityStore) for entity CRUD, nonce lookup and change subscriptions
//   - A coded error type that survives transport as text, so failures can be classified
//     (transient, filter expiry, not found) on either side of an RPC boundary
//
// Key Components:
//
//   - IEntityStore Interface: create, update, delete and extend take a signed Tx and are
//     expressed in blocks; reads (GetEntity, QueryEntities) are unauthenticated. Every
//     implementation shares this interface, so the encrypted client and the relay run
//     unchanged against the in-memory backend or a remote node.
//
//   - Error System: Error{Code, Msg} with RetCode values for the categories ValidationError,
//     EncryptionError, DecryptionError, TransientStoreError, StoreError, FilterExpiryError,
//     ConfigurationError and NotFoundError. IsTransient and IsFilterExpiry match the code or
//     the characteristic backend message ("nonce too low", "filter not found", ...).
//
//   - Subscriptions: PollSubscription turns any IFilterSource (install filter, poll changes,
//     uninstall) into an EventHandlers callback stream. Filters expire server-side, the poller
//     then reports RetCFilterExpired errors until the subscriber replaces the subscription.
//
// Implementations:
//
//	- Local Store (lstore): an in-memory backend with a block clock, per-account nonce and
//	  sequence checks, expiring filters and an optional journal.
//	  Available in the "github.com/ValentinKolb/ghostmesh/lib/store/lstore" package.
//
//	- RPC Store: the same interface served by a remote node over the rpc transport.
//	  Available in the "github.com/ValentinKolb/ghostmesh/rpc/client" package.
package store
