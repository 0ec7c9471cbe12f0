// Package client implements the RPC client of the ghostmesh entity store.
// It provides an implementation of store.IEntityStore that forwards every call
// to a node via the configured transport and serializer.
//
// The package focuses on:
//   - Transparent RPC access to a remote entity store shard
//   - Subscriptions over the node's event filters (install, poll, uninstall)
//   - Error classification: errors from the node arrive as text and are turned back
//     into *store.Error values, so store.IsTransient and store.IsFilterExpiry work
//     the same as against a local store
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"http://localhost:8545"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	es, err := client.NewRPCEntityStore(1, config, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	entities, _ := es.QueryEntities(store.Where("type", "Weather"))
//
// Thread Safety:
//
//	The client is safe for concurrent use from multiple goroutines.
package client
