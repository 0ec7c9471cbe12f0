// Package rpc connects ghostmesh processes to a node hosting entity store shards.
// It acts as the communication layer between the api, the relay and the CLI on one
// side and a development node on the other.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with an HTTP implementation.
//
//   - serializer: Message serialization (JSON, GOB) for converting between
//     Message objects and byte arrays.
//
//   - client: the RPC implementation of store.IEntityStore, including filter based
//     subscriptions.
//
//   - server: the node side, hosting in-memory entity stores per shard.
package rpc
