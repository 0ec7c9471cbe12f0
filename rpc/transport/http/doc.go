// Package http implements the HTTP transport for ghostmesh RPC communication.
//
// Requests are POSTed to /{shardId} on the node, the body is a serialized
// common.Message and so is the response. Transport failures are plain Go errors,
// store failures travel inside the response message.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. It selects endpoints
//     round-robin and moves to the next endpoint when a request fails, up to
//     RetryCount attempts. SendOnce makes a single attempt, the rpc client uses it
//     for signed mutations so a lost response never resubmits them.
//
//   - httpServerTransport: Implements IRPCServerTransport. Handler exposes the mux
//     for embedding and tests, Listen runs a standalone server that Shutdown stops.
//
// Thread Safety:
//
//	The client transport is safe for concurrent use once connected. The round-robin
//	counter is updated atomically.
package http
