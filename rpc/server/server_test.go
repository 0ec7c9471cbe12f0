package server

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/store/lstore"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/transport"
	"github.com/ValentinKolb/ghostmesh/rpc/transport/http"
)

func TestAdapterRejectsMutationWithoutTx(t *testing.T) {
	backend, err := lstore.NewLocalStore(lstore.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer backend.Close()

	adapter := NewEntityStoreServerAdapter()
	resp := adapter.Handle(&common.Message{MsgType: common.MsgTCreate, Value: []byte("x")}, backend)
	if store.CodeOf(resp.Error()) != store.RetCValidation {
		t.Errorf("expected a validation error, got %v", resp.Error())
	}
}

func TestAdapterUnsupportedType(t *testing.T) {
	backend, err := lstore.NewLocalStore(lstore.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer backend.Close()

	resp := NewEntityStoreServerAdapter().Handle(&common.Message{MsgType: common.MsgTSuccess}, backend)
	if resp.MsgType != common.MsgTError || !strings.Contains(resp.Err, "Unsupported") {
		t.Errorf("expected an unsupported type error, got %+v", resp)
	}
}

func TestAdapterReads(t *testing.T) {
	backend, err := lstore.NewLocalStore(lstore.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer backend.Close()
	adapter := NewEntityStoreServerAdapter()

	if resp := adapter.Handle(common.NewBlockRequest(), backend); resp.Err != "" || resp.Num == 0 {
		t.Errorf("expected the current block, got %+v", resp)
	}
	if resp := adapter.Handle(common.NewNonceRequest("0xabc"), backend); resp.Err != "" || resp.Num != 0 {
		t.Errorf("expected nonce 0, got %+v", resp)
	}
	if resp := adapter.Handle(common.NewGetRequest("0xmissing"), backend); !store.IsNotFound(resp.Error()) {
		t.Errorf("expected not found, got %+v", resp)
	}

	resp := adapter.Handle(common.NewFilterRequest(), backend)
	if resp.Err != "" || resp.Key == "" {
		t.Fatalf("expected a filter id, got %+v", resp)
	}
	if resp := adapter.Handle(common.NewUninstallFilterRequest(resp.Key), backend); resp.Err != "" {
		t.Errorf("uninstall failed: %s", resp.Err)
	}
}

// captureTransport records the handler a server registers
type captureTransport struct {
	transport.IRPCServerTransport
	handler transport.ServerHandleFunc
}

func (c *captureTransport) RegisterHandler(h transport.ServerHandleFunc) { c.handler = h }

func (c *captureTransport) Shutdown(context.Context) error { return nil }

func TestServerRoutesByShard(t *testing.T) {
	tr := &captureTransport{IRPCServerTransport: http.NewHttpServerTransport()}
	ser := serializer.NewJSONSerializer()
	srv := NewRPCServer(common.NodeConfig{
		Shards: []common.ServerShard{
			{ShardID: 1},
			{ShardID: 2, Journal: "sqlite://" + filepath.Join(t.TempDir(), "shard2.db")},
		},
		BlockTime: 2 * time.Millisecond,
	}, tr, ser)
	if err := srv.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	defer srv.Shutdown(context.Background())

	call := func(shard uint64, req *common.Message) common.Message {
		b, err := ser.Serialize(*req)
		if err != nil {
			t.Fatalf("serialize failed: %v", err)
		}
		var resp common.Message
		if err := ser.Deserialize(tr.handler(shard, b), &resp); err != nil {
			t.Fatalf("deserialize failed: %v", err)
		}
		return resp
	}

	for _, shard := range []uint64{1, 2} {
		if resp := call(shard, common.NewBlockRequest()); resp.Err != "" {
			t.Errorf("shard %d: %s", shard, resp.Err)
		}
	}
	if resp := call(3, common.NewBlockRequest()); resp.MsgType != common.MsgTError {
		t.Errorf("expected an error for an unknown shard, got %+v", resp)
	}

	var resp common.Message
	if err := ser.Deserialize(tr.handler(1, []byte("not json")), &resp); err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	if !strings.Contains(resp.Err, "failed to deserialize") {
		t.Errorf("expected a decode error, got %+v", resp)
	}
}

func TestServerRejectsBadShardConfig(t *testing.T) {
	tests := []struct {
		name   string
		shards []common.ServerShard
	}{
		{"none", nil},
		{"duplicate", []common.ServerShard{{ShardID: 1}, {ShardID: 1}}},
		{"bad journal", []common.ServerShard{{ShardID: 1, Journal: "redis://x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewRPCServer(common.NodeConfig{Shards: tt.shards}, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
			if err := srv.Init(); err == nil {
				t.Error("expected an error")
			}
			_ = srv.Shutdown(context.Background())
		})
	}
}
