package client

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	storetesting "github.com/ValentinKolb/ghostmesh/lib/store/testing"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/server"
	"github.com/ValentinKolb/ghostmesh/rpc/transport/http"
)

const testShard = 7

// startNode starts an in-process node and returns a connected client
func startNode(tb testing.TB, ser func() serializer.IRPCSerializer, nodeCfg common.NodeConfig) (*RPCEntityStore, func()) {
	tb.Helper()

	srv := server.NewRPCServer(nodeCfg, http.NewHttpServerTransport(), ser())
	if err := srv.Init(); err != nil {
		tb.Fatalf("failed to init node: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())

	es, err := NewRPCEntityStore(testShard, common.ClientConfig{
		Endpoints:     []string{ts.URL},
		TimeoutSecond: 5,
		RetryCount:    1,
	}, http.NewHttpClientTransport(), ser())
	if err != nil {
		ts.Close()
		tb.Fatalf("failed to connect: %v", err)
	}
	es.PollInterval = 5 * time.Millisecond

	return es, func() {
		_ = es.Close()
		ts.Close()
		_ = srv.Shutdown(context.Background())
	}
}

func testNodeConfig() common.NodeConfig {
	return common.NodeConfig{
		Shards:           []common.ServerShard{{ShardID: testShard}},
		BlockTime:        2 * time.Millisecond,
		FilterTTL:        time.Minute,
		VerifySignatures: true,
		TimeoutSecond:    5,
		LogLevel:         "error",
	}
}

func TestRPCEntityStoreConformance(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"JSON": serializer.NewJSONSerializer,
		"GOB":  serializer.NewGOBSerializer,
	}

	for name, ser := range serializers {
		var mu sync.Mutex
		var closers []func()

		storetesting.RunEntityStoreTests(t, "RPCEntityStore_"+name, func() store.IEntityStore {
			es, closeFn := startNode(t, ser, testNodeConfig())
			mu.Lock()
			closers = append(closers, closeFn)
			mu.Unlock()
			return es
		})

		for _, c := range closers {
			c()
		}
	}
}

func TestErrorsKeepTheirClass(t *testing.T) {
	es, closeFn := startNode(t, serializer.NewJSONSerializer, testNodeConfig())
	defer closeFn()

	if _, err := es.GetEntity("0xmissing"); !store.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := es.FilterChanges("0xdead"); !store.IsFilterExpiry(err) {
		t.Errorf("expected filter expiry, got %v", err)
	}

	// a replayed nonce is transient on the node and must stay transient here
	signer := storetesting.NewSigner(t, es)
	tx, err := signer.Tx(store.OpCreate, "", []byte("x"), nil, 10)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := es.CreateEntity(tx, []byte("x"), nil, 10); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := es.CreateEntity(tx, []byte("x"), nil, 10); !store.IsTransient(err) {
		t.Errorf("expected a transient error for a replay, got %v", err)
	}
}

func TestUnknownShard(t *testing.T) {
	es, closeFn := startNode(t, serializer.NewJSONSerializer, testNodeConfig())
	defer closeFn()

	es.shardId = 99
	if _, err := es.BlockNumber(); err == nil {
		t.Error("expected an error for an unknown shard")
	}
}

func TestUnreachableNode(t *testing.T) {
	es, err := NewRPCEntityStore(1, common.ClientConfig{
		Endpoints:     []string{"http://127.0.0.1:1"},
		TimeoutSecond: 1,
		RetryCount:    1,
	}, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("connect should not dial: %v", err)
	}
	defer es.Close()

	_, err = es.BlockNumber()
	if store.CodeOf(err) != store.RetCStore {
		t.Errorf("expected a store error, got %v", err)
	}
	if store.IsTransient(err) {
		t.Error("transport failures are not transient")
	}
}

func TestMutationsAreSentOnce(t *testing.T) {
	srv := server.NewRPCServer(testNodeConfig(), http.NewHttpServerTransport(), serializer.NewJSONSerializer())
	if err := srv.Init(); err != nil {
		t.Fatalf("failed to init node: %v", err)
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()
	node := srv.Handler()

	// the node applies every request, while armed the response is lost on the way back
	var requests atomic.Int64
	var loseResponse atomic.Bool
	ts := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		requests.Add(1)
		if !loseResponse.CompareAndSwap(true, false) {
			node.ServeHTTP(w, r)
			return
		}
		node.ServeHTTP(httptest.NewRecorder(), r)
		conn, _, err := w.(nethttp.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		_ = conn.Close()
	}))
	defer ts.Close()

	es, err := NewRPCEntityStore(testShard, common.ClientConfig{
		Endpoints:     []string{ts.URL},
		TimeoutSecond: 5,
		RetryCount:    3,
	}, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer es.Close()

	signer := storetesting.NewSigner(t, es)
	tx, err := signer.Tx(store.OpCreate, "", []byte("x"), nil, 10)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	requests.Store(0)
	loseResponse.Store(true)
	if _, err := es.CreateEntity(tx, []byte("x"), nil, 10); err == nil {
		t.Fatal("expected the lost response to surface as an error")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("create was sent %d times, want 1", got)
	}
	all, err := es.QueryEntities(store.Query{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected the create to be stored once, got %d entities", len(all))
	}

	// reads are resent on a lost response
	requests.Store(0)
	loseResponse.Store(true)
	if _, err := es.BlockNumber(); err != nil {
		t.Fatalf("block number should survive one lost response: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("read was sent %d times, want 2", got)
	}
}
