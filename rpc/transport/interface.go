package transport

import (
	"context"
	"net/http"

	"github.com/ValentinKolb/ghostmesh/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns a response
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer of a node
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The transport layer is responsible for routing the request to the appropriate shard
	RegisterHandler(handler ServerHandleFunc)
	// Handler returns the http handler serving the registered handler,
	// it can be mounted into an existing server (or httptest)
	Handler(config common.NodeConfig) http.Handler
	// Listen starts the transport layer and blocks until Shutdown is called
	Listen(config common.NodeConfig) error
	// Shutdown stops a running Listen, waiting for in-flight requests until ctx is done
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response,
	// failed attempts are retried on the next endpoint
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// SendOnce sends a request with a single attempt, it is used for requests
	// that must not be applied twice
	SendOnce(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
