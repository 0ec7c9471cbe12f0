// Package testing provides standardised tests and benchmarks for
// entity store implementations that satisfy the store.IEntityStore interface.
//
// The package contains:
//   - testing: a conformance suite for the IEntityStore contract (CRUD, nonces, ownership,
//     queries, subscriptions, concurrent writers)
//   - benchmark: throughput of creates and reads
//
// Mutations are signed with a fresh identity and retried on transient errors, the same way the
// write queue does it, so the suite also runs against stores with a real block clock.
//
// Example usage:
//
//	factory := func() store.IEntityStore {
//		s, _ := lstore.NewLocalStore(opts)
//		return s
//	}
//
//	storetesting.RunEntityStoreTests(t, "LocalStore", factory)
//	storetesting.RunEntityStoreBenchmarks(b, "LocalStore", factory)
package testing
