// Package serializer provides message serialization for the ghostmesh RPC system.
// It defines a common interface and two implementations for encoding messages
// between the RPC client and a node.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding, human-readable and the default. Entity payloads
//     travel base64 encoded.
//
//   - gobSerializerImpl: Go's gob encoding, smaller for messages carrying many entities
//     or events (query results, filter polls), but only usable between Go peers.
//
// Both implementations treat nil and empty slices alike, an empty attribute list or
// payload arrives as nil.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByName("json")
//	data, err := s.Serialize(*common.NewGetRequest(key))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
