package client

import (
	"fmt"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc/client")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends req to the shard of the adapter
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a shard ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs.
// Errors reported by the node are returned as *store.Error, classified from their text,
// transport and encoding failures as RetCStore errors.
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, store.Errorf(store.RetCInternalError, "RPC - failed to serialize request: %s", err)
	}

	send := transport.SendOnce
	if req.MsgType.Idempotent() {
		send = transport.Send
	}
	respBytes, err := send(shardId, reqBytes)
	if err != nil {
		return nil, store.Errorf(store.RetCStore, "RPC - transport error: %s", err)
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.RetCStore, "RPC - failed to deserialize response: %s", err)
	}

	// Check if the response is an error response
	if err := resp.Error(); err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, store.NewError(store.RetCStore, "RPC - error response without message")
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, store.NewError(store.RetCStore, fmt.Sprintf("RPC - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType))
	}

	return resp, nil
}
