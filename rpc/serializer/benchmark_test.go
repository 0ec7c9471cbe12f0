package serializer

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	entities := make([]store.Entity, 100)
	for i := range entities {
		entities[i] = store.Entity{
			Key:        fmt.Sprintf("0x%064d", i),
			Owner:      "0x2b5ad5c4795c026514f8317c7a215e218dccd6cf",
			Payload:    make([]byte, 256),
			Attributes: []store.Attribute{{Key: "type", Value: "Weather"}, {Key: "source", Value: "ghostmesh-server"}},
			CreatedAt:  uint64(i),
			ExpiresAt:  uint64(i) + 1296000,
		}
	}

	return map[string]common.Message{
		"Get":         *common.NewGetRequest("0x01"),
		"Create":      *common.NewCreateRequest(store.Tx{From: "0xabc", Nonce: 1, Token: "t"}, make([]byte, 512), entities[0].Attributes, 1296000),
		"Query100":    *common.NewQueryResponse(entities, nil),
		"FilterPoll":  *common.NewFilterChangesResponse([]store.Event{{Type: store.EventCreated, Key: "0x01", Block: 1}}, nil),
		"ErrorResult": *common.NewErrorResponse("TransientStoreError: nonce too low: next nonce is 4, got 3"),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	for name, factory := range testSerializers {
		serializer := factory()
		for msgName, msg := range benchmarkMessages() {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			b.Run(name+"_"+msgName, func(b *testing.B) {
				b.ReportMetric(float64(len(data)), "bytes")
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					var msg common.Message
					if err := serializer.Deserialize(data, &msg); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
