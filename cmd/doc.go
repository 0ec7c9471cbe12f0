// Package cmd implements the command-line interface of ghostmesh. It provides a
// hierarchical command structure for running the services and for working with
// encrypted entities as a client.
//
// The package is organized into several subpackages:
//
//   - node: a development entity store node hosting one or more shards
//   - api: the HTTP API of the encrypted entity client
//   - relay: the event relay with its websocket fan-out, /health and /metrics
//   - entity: client commands (create, sensor, read, update, delete, extend, bench)
//   - tail: prints the frames broadcast by a relay
//   - keys: generates signing identities and encryption keys
//   - util: shared flag, configuration and lifecycle helpers (internal use)
//
// Every flag can also be set as GHOSTMESH_<FLAG>. See ghostmesh -help for a list of all commands.
package cmd
