// Package common provides core data structures and utilities shared across
// the ghostmesh RPC system. It defines the message protocol, the configuration
// structures and the logging setup used by the other packages.
//
// The package focuses on:
//   - Message protocol definition for client/node communication
//   - Configuration structures for the node, RPC clients, the relay and the API
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication, with a flexible structure
//     that adapts to the different entity store and filter operations. Errors travel as
//     text in Err and are re-classified by Message.Error (see store.ParseError).
//
//   - MessageType: Enumeration of all supported operations, grouped into mutations,
//     reads and filter operations.
//
//   - NodeConfig, ClientConfig, RelayConfig, APIConfig: configuration of the four
//     commands, each with a String() renderer for the startup log.
//
//   - Logger: logging implementation that plugs into Dragonboat's logger.GetLogger
//     and writes "LEVEL | pkg | message" lines. A process wide DemoteFilter turns
//     expected warnings and errors (e.g. expired subscription filters during a
//     reconnect) into debug lines.
package common
