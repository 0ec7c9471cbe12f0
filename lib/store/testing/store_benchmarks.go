package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// RunEntityStoreBenchmarks measures create and read throughput of an IEntityStore.
// Stores with a block clock allow one mutation per account and block, so creates are spread
// over many signers.
func RunEntityStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Create", func(b *testing.B) {
			benchmarkCreate(b, factory())
		})
		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})
		b.Run("Query", func(b *testing.B) {
			benchmarkQuery(b, factory())
		})
	})
}

func benchmarkCreate(b *testing.B, s store.IEntityStore) {
	signers := make([]*Signer, 64)
	for i := range signers {
		signers[i] = NewSigner(b, s)
	}
	attrs := []store.Attribute{{Key: "type", Value: "Bench"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := signers[i%len(signers)].Create([]byte(fmt.Sprintf("v%d", i)), attrs, 1000); err != nil {
			b.Fatalf("create failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, s store.IEntityStore) {
	signer := NewSigner(b, s)
	key, err := signer.Create([]byte("value"), []store.Attribute{{Key: "type", Value: "Bench"}}, 1000)
	if err != nil {
		b.Fatalf("create failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.GetEntity(key); err != nil {
				b.Errorf("get failed: %v", err)
				return
			}
		}
	})
}

func benchmarkQuery(b *testing.B, s store.IEntityStore) {
	signers := make([]*Signer, 10)
	for i := range signers {
		signers[i] = NewSigner(b, s)
		for j := 0; j < 10; j++ {
			typ := "Bench"
			if j%2 == 0 {
				typ = "Other"
			}
			if _, err := signers[i].Create([]byte("v"), []store.Attribute{{Key: "type", Value: typ}}, 1000); err != nil {
				b.Fatalf("create failed: %v", err)
			}
		}
	}

	q := store.Where("type", "Bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.QueryEntities(q); err != nil {
			b.Fatalf("query failed: %v", err)
		}
	}
}
