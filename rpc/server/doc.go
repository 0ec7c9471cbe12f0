// Package server implements the RPC server of a ghostmesh development node.
//
// A node hosts one or more shards. Every shard is an in-memory entity store
// (lstore) with its own block clock, nonces and event filters, optionally
// mirrored to a journal. The server decodes requests, routes them by shard ID
// and lets the adapter translate them into store calls.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a common.Message into calls against a Backend
//     and builds the response. Store errors are returned as text in Message.Err.
//
//   - NewEntityStoreServerAdapter: the adapter for IEntityStore and IFilterSource
//     operations.
//
//   - NewRPCServer: creates a configured server for a transport and a serializer.
//
// Usage Example:
//
//	config := common.NodeConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1},
//	    {ShardID: 2, Journal: "sqlite:///var/lib/ghostmesh/shard2.db"},
//	  },
//	  BlockTime:        2 * time.Second,
//	  VerifySignatures: true,
//	  Endpoint:         "0.0.0.0:8545",
//	  TimeoutSecond:    5,
//	  LogLevel:         "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Requests are handled concurrently, the stores serialize mutations themselves.
//	Serve must be called only once.
package server
